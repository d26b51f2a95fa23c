// Package api provides the control-plane client for the execution service.
// It abstracts the HTTP calls to enable unit testing with mocks.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/npratt/tether/internal/events"
)

// StartParams is the body of POST /execute.
type StartParams struct {
	Provider    string `json:"provider"`
	ChangeID    string `json:"change_id,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

// ExecuteResponse is returned by the execute endpoints. Single sessions
// answer with session_id, swarms with executionId.
type ExecuteResponse struct {
	SessionID   string `json:"session_id,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// ID returns whichever identifier the server populated.
func (r *ExecuteResponse) ID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.ExecutionID
}

// HistoryEntry is one confirmed message in a session snapshot.
type HistoryEntry struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Timestamp events.WireTime `json:"timestamp"`
	TaskID    string          `json:"task_id,omitempty"`
}

// Progress counts finished tasks.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Snapshot is the persisted state of a session from GET /sessions/{id}.
type Snapshot struct {
	SessionID           string         `json:"session_id"`
	Status              string         `json:"status"`
	Progress            Progress       `json:"progress"`
	Error               string         `json:"error,omitempty"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
}

// LogEntry is one line from GET /sessions/{id}/logs.
type LogEntry struct {
	Timestamp events.WireTime `json:"timestamp"`
	Level     string          `json:"level,omitempty"`
	Message   string          `json:"message"`
}

// SwarmAgentSpec configures one swarm member.
type SwarmAgentSpec struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Model string `json:"model,omitempty"`
}

// SwarmParams is the body of POST /swarm/execute.
type SwarmParams struct {
	Task            string           `json:"task"`
	Agents          []SwarmAgentSpec `json:"agents,omitempty"`
	ConsensusModels []string         `json:"consensus_models,omitempty"`
}

// SessionAPI controls single-agent sessions.
type SessionAPI interface {
	// Execute creates a session server-side.
	Execute(ctx context.Context, params StartParams) (*ExecuteResponse, error)

	// Stop asks the server to stop a session.
	Stop(ctx context.Context, sessionID string) error

	// Resume restarts a stopped session.
	Resume(ctx context.Context, sessionID string) error

	// SendInput delivers a follow-up message to a session.
	SendInput(ctx context.Context, sessionID, input string) error

	// GetSession fetches the persisted snapshot of a session.
	GetSession(ctx context.Context, sessionID string) (*Snapshot, error)

	// GetLogs fetches the server-side log of a session.
	GetLogs(ctx context.Context, sessionID string) ([]LogEntry, error)
}

// SwarmAPI controls multi-agent executions.
type SwarmAPI interface {
	ExecuteSwarm(ctx context.Context, params SwarmParams) (*ExecuteResponse, error)
	StopSwarm(ctx context.Context, executionID string) error
}

// Client combines all control operations.
type Client interface {
	SessionAPI
	SwarmAPI
}

// APIError is a non-2xx response from a control endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// NotFound reports whether the server did not know the resource.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
