package tui

import (
	"fmt"

	"github.com/npratt/tether/internal/session"
	"github.com/npratt/tether/internal/stream"
	"github.com/npratt/tether/internal/swarm"
)

// Line is one row of the dashboard body.
type Line struct {
	Kind string // user, agent, system, error, log, agent-status
	Text string
}

// Status is everything the dashboard draws, pulled from a controller.
type Status struct {
	Kind        string // "session" or "swarm"
	ID          string
	Execution   string
	Error       string
	Connection  stream.State
	Reconnect   stream.ReconnectState
	Progress    string
	CurrentTask string
	Lines       []Line
}

// Source supplies the dashboard's Status.
type Source interface {
	Status() Status
}

// SourceFunc adapts a function to Source.
type SourceFunc func() Status

// Status implements Source.
func (f SourceFunc) Status() Status { return f() }

// SessionSource reads a session controller.
func SessionSource(c *session.Controller) Source {
	return SourceFunc(func() Status {
		s := c.Snapshot()
		state, rs := c.ConnectionState()
		st := Status{
			Kind:        "session",
			ID:          s.ID,
			Execution:   string(s.Status),
			Error:       s.Error,
			Connection:  state,
			Reconnect:   rs,
			CurrentTask: s.CurrentTask,
		}
		if s.Progress.Total > 0 {
			st.Progress = fmt.Sprintf("%d/%d tasks", s.Progress.Completed, s.Progress.Total)
		}
		for _, m := range s.Messages {
			st.Lines = append(st.Lines, Line{Kind: string(m.Role), Text: m.Content})
		}
		return st
	})
}

// SwarmSource reads a swarm controller.
func SwarmSource(c *swarm.Controller) Source {
	return SourceFunc(func() Status {
		ex := c.Snapshot()
		state, rs := c.ConnectionState()
		st := Status{
			Kind:       "swarm",
			ID:         ex.ID,
			Execution:  string(ex.Status),
			Error:      ex.Error,
			Connection: state,
			Reconnect:  rs,
			Progress:   fmt.Sprintf("%.0f%%", ex.Progress),
		}
		for _, a := range ex.Agents {
			text := fmt.Sprintf("%-16s %s", a.Name, a.Status)
			if a.CurrentTask != "" {
				text += "  " + a.CurrentTask
			}
			st.Lines = append(st.Lines, Line{Kind: "agent-status", Text: text})
		}
		if ex.Consensus != nil {
			st.Lines = append(st.Lines, Line{
				Kind: "system",
				Text: fmt.Sprintf("consensus %.0f%%: %s", ex.Consensus.Agreement*100, ex.Consensus.Content),
			})
		}
		for _, l := range ex.Logs {
			text := l.Message
			if l.Agent != "" {
				text = l.Agent + ": " + text
			}
			st.Lines = append(st.Lines, Line{Kind: "log", Text: text})
		}
		return st
	})
}
