// Package session drives one execution on the remote service: it issues the
// control calls, follows the execution's event stream, and merges what
// arrives into a Session the dashboard can render.
package session

import (
	"time"
)

// Status is the execution status of a session. It is independent of the
// stream's connection state.
type Status string

// Execution statuses.
const (
	StatusNone      Status = ""
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether s ends the execution.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// ParseStatus maps a server status string onto Status. Unknown values map to
// StatusRunning since the server only reports them for live executions.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return Status(s)
	case "":
		return StatusNone
	}
	return StatusRunning
}

// Role tags the author of a Message.
type Role string

// Message roles.
const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
	RoleError  Role = "error"
)

// parseRole maps history roles onto Role. The server calls the agent side
// "assistant".
func parseRole(s string) Role {
	switch s {
	case "user":
		return RoleUser
	case "assistant", "agent":
		return RoleAgent
	case "error":
		return RoleError
	}
	return RoleSystem
}

// Message is one entry in a session's history.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
	TaskID    string

	// Local marks a message the client appended before the server confirmed it.
	Local bool
}

// Progress counts finished tasks.
type Progress struct {
	Completed int
	Total     int
}

// Session is a point-in-time copy of a controller's state.
type Session struct {
	ID          string
	Status      Status
	Messages    []Message
	Progress    Progress
	CurrentTask string
	Error       string

	// Revision increases on every change to Messages.
	Revision uint64
}

func (s Session) clone() Session {
	s.Messages = append([]Message(nil), s.Messages...)
	return s
}
