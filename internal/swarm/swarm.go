// Package swarm follows a multi-agent execution. It mirrors the session
// controller but tracks per-agent state, aggregate progress, a log tail and
// an optional consensus result instead of a conversation.
package swarm

import (
	"encoding/json"
	"time"

	"github.com/npratt/tether/internal/events"
	"github.com/npratt/tether/internal/session"
)

// MaxLogLines bounds the log tail kept per execution.
const MaxLogLines = 500

// AgentStatus is the state of one swarm agent.
type AgentStatus string

// Agent statuses.
const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentDone    AgentStatus = "done"
)

func parseAgentStatus(s string) AgentStatus {
	switch s {
	case "working", "running", "busy":
		return AgentWorking
	case "done", "completed", "finished":
		return AgentDone
	}
	return AgentIdle
}

// Agent is one member of the swarm.
type Agent struct {
	Name        string
	Type        string
	Status      AgentStatus
	CurrentTask string
}

// LogLine is one entry of the swarm log channel.
type LogLine struct {
	Time    time.Time
	Level   string
	Agent   string
	Message string
}

// Execution is a point-in-time copy of a swarm controller's state.
type Execution struct {
	ID      string
	Status  session.Status
	Running bool

	// Progress is the aggregate completion percentage in [0, 100].
	Progress  float64
	Completed int
	Total     int

	Agents    []Agent
	Logs      []LogLine
	Consensus *events.ConsensusResult
	Result    json.RawMessage
	Error     string
}

func (e Execution) clone() Execution {
	e.Agents = append([]Agent(nil), e.Agents...)
	e.Logs = append([]LogLine(nil), e.Logs...)
	if e.Consensus != nil {
		c := *e.Consensus
		c.Models = append([]string(nil), c.Models...)
		e.Consensus = &c
	}
	e.Result = append(json.RawMessage(nil), e.Result...)
	return e
}
