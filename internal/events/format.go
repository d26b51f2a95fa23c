package events

import (
	"fmt"
	"strings"
	"time"
)

const (
	maxTextLength     = 200
	truncateIndicator = "..."
)

// Format converts an event to a single human-readable line for the plain
// follow output and the dashboard log. Returns empty string for nil.
func Format(event Event) string {
	if event == nil {
		return ""
	}

	switch e := event.(type) {
	case *TaskStartEvent:
		return fmt.Sprintf("task started: %s", firstNonEmpty(e.Task, e.TaskID, "(unnamed)"))
	case *TaskCompleteEvent:
		return fmt.Sprintf("task complete: %s", firstNonEmpty(e.Task, e.TaskID, "(unnamed)"))
	case *ResponseEvent:
		prefix := "agent"
		if e.Agent != "" {
			prefix = e.Agent
		}
		return fmt.Sprintf("%s: %s", prefix, truncate(oneLine(e.Content), maxTextLength))
	case *ErrorEvent:
		return fmt.Sprintf("error: %s", truncate(oneLine(e.Text()), maxTextLength))
	case *SessionCompleteEvent:
		return "session complete"
	case *SessionStoppedEvent:
		if e.Reason != "" {
			return fmt.Sprintf("session stopped: %s", e.Reason)
		}
		return "session stopped"
	case *LogEvent:
		return formatLog(e)
	case *ProgressEvent:
		return fmt.Sprintf("progress: %.0f%%", e.Progress)
	case *StatusEvent:
		return formatStatus(e)
	case *CompleteEvent:
		return fmt.Sprintf("swarm complete: %s", firstNonEmpty(e.Status, "done"))
	case *ConsensusEvent:
		return fmt.Sprintf("consensus (%s): %.0f%% agreement", firstNonEmpty(e.Consensus.Strategy, "merge"), e.Consensus.Agreement*100)
	case *ConnectionStateEvent:
		return formatConnectionState(e)
	case *SessionStatusEvent:
		return fmt.Sprintf("session %s: %s -> %s", e.SessionID, e.From, e.To)
	case *MessageEvent:
		return fmt.Sprintf("%s: %s", e.Role, truncate(oneLine(e.Content), maxTextLength))
	case *ParseErrorEvent:
		return fmt.Sprintf("dropped malformed frame: %s", e.Error)
	default:
		return string(event.Type())
	}
}

func formatLog(e *LogEvent) string {
	var b strings.Builder
	if e.Level != "" && e.Level != "info" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(e.Level))
	}
	if e.Agent != "" {
		fmt.Fprintf(&b, "%s: ", e.Agent)
	}
	b.WriteString(truncate(oneLine(e.Message), maxTextLength))
	return b.String()
}

func formatStatus(e *StatusEvent) string {
	working := 0
	for _, a := range e.Agents {
		if a.Status == "working" {
			working++
		}
	}
	return fmt.Sprintf("status: %s (%d/%d agents working)", e.Status, working, len(e.Agents))
}

func formatConnectionState(e *ConnectionStateEvent) string {
	switch e.To {
	case "reconnecting":
		delay := time.Duration(e.NextDelayMs) * time.Millisecond
		return fmt.Sprintf("connection lost, retry %d/%d in %s", e.Attempt, e.MaxAttempts, delay.Round(100*time.Millisecond))
	case "failed":
		if e.LastError != "" {
			return fmt.Sprintf("connection failed after %d attempts: %s", e.Attempt, e.LastError)
		}
		return fmt.Sprintf("connection failed after %d attempts", e.Attempt)
	default:
		return fmt.Sprintf("connection %s", e.To)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to at most n runes including the indicator.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-len(truncateIndicator)]) + truncateIndicator
}
