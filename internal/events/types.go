// Package events defines the stream event taxonomy shared by the connection
// manager, the session controllers, and the dashboard. Wire events arrive as
// JSON frames on the execution stream; internal events describe connection
// and session transitions on the client side.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the category and nature of an event.
type EventType string

// Wire event types sent by the execution service.
const (
	// Single-session vocabulary
	EventTaskStart       EventType = "task_start"
	EventTaskComplete    EventType = "task_complete"
	EventAgentResponse   EventType = "agent_response"
	EventLLMResponse     EventType = "llm_response"
	EventError           EventType = "error"
	EventSessionComplete EventType = "session_complete"
	EventSessionStopped  EventType = "session_stopped"

	// Swarm vocabulary (also used as SSE channel names)
	EventLog       EventType = "log"
	EventProgress  EventType = "progress"
	EventStatus    EventType = "status"
	EventComplete  EventType = "complete"
	EventConsensus EventType = "consensus"
)

// Internal event types emitted by tether itself.
const (
	EventConnectionState EventType = "connection.state_changed"
	EventSessionStatus   EventType = "session.status"
	EventMessage         EventType = "session.message"
	EventParseError      EventType = "error.parse"
)

// Kinds of execution a SessionStatusEvent can describe.
const (
	KindSession = "session"
	KindSwarm   = "swarm"
)

// Source constants identify the origin of events.
const (
	SourceServer   = "server"
	SourceInternal = "tether"
)

// Event is the base interface for all events in the system.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Source() string
	Stream() string

	// Stamp records the stream key the event arrived on and fills in the
	// receive time when the frame carried no timestamp.
	Stamp(streamKey string, received time.Time)
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      WireTime  `json:"timestamp"`
	Src       string    `json:"source,omitempty"`
	StreamKey string    `json:"stream_key,omitempty"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.Time.Time
}

// Source returns the origin of the event.
func (e BaseEvent) Source() string {
	return e.Src
}

// Stream returns the stream key the event was received on, if any.
func (e BaseEvent) Stream() string {
	return e.StreamKey
}

// Stamp implements Event.
func (e *BaseEvent) Stamp(streamKey string, received time.Time) {
	e.StreamKey = streamKey
	if e.Time.IsZero() {
		e.Time = WireTime{received}
	}
	if e.Src == "" {
		e.Src = SourceServer
	}
}

// TaskStartEvent marks the start of one task within an execution.
type TaskStartEvent struct {
	BaseEvent
	TaskID     string `json:"task_id,omitempty"`
	Task       string `json:"task,omitempty"`
	TotalTasks int    `json:"total_tasks,omitempty"`
}

// TaskCompleteEvent marks the end of one task within an execution.
type TaskCompleteEvent struct {
	BaseEvent
	TaskID string `json:"task_id,omitempty"`
	Task   string `json:"task,omitempty"`
	Result string `json:"result,omitempty"`
}

// ResponseEvent carries agent output. Used for both agent_response and
// llm_response frames.
type ResponseEvent struct {
	BaseEvent
	Content string `json:"content"`
	TaskID  string `json:"task_id,omitempty"`
	Agent   string `json:"agent,omitempty"`
}

// ErrorEvent is a server-reported error. It does not end the stream.
type ErrorEvent struct {
	BaseEvent
	Message string `json:"message,omitempty"`
	Err     string `json:"error,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

// Text returns whichever of message/error the server populated.
func (e *ErrorEvent) Text() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != "" {
		return e.Err
	}
	return "unknown error"
}

// SessionCompleteEvent is the terminal frame of a successful session.
type SessionCompleteEvent struct {
	BaseEvent
	Result string `json:"result,omitempty"`
}

// SessionStoppedEvent is the terminal frame of a stopped session.
type SessionStoppedEvent struct {
	BaseEvent
	Reason string `json:"reason,omitempty"`
}

// LogEvent is a swarm log line.
type LogEvent struct {
	BaseEvent
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
	Agent   string `json:"agent,omitempty"`
}

// ProgressEvent reports aggregate swarm progress as a percentage.
type ProgressEvent struct {
	BaseEvent
	Progress  float64 `json:"progress"`
	Completed int     `json:"completed,omitempty"`
	Total     int     `json:"total,omitempty"`
}

// AgentState is the snapshot of one swarm agent.
type AgentState struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Status      string `json:"status"`
	CurrentTask string `json:"current_task,omitempty"`
}

// StatusEvent replaces the full swarm status and agent snapshot.
type StatusEvent struct {
	BaseEvent
	Status string       `json:"status"`
	Agents []AgentState `json:"agents,omitempty"`
}

// CompleteEvent is the terminal frame of a swarm execution.
type CompleteEvent struct {
	BaseEvent
	Status string          `json:"status,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    string          `json:"error,omitempty"`
}

// ConsensusResult is the merged outcome of a multi-model swarm.
type ConsensusResult struct {
	Strategy  string   `json:"strategy,omitempty"`
	Agreement float64  `json:"agreement,omitempty"`
	Content   string   `json:"content,omitempty"`
	Models    []string `json:"models,omitempty"`
}

// ConsensusEvent attaches a consensus result to a swarm.
type ConsensusEvent struct {
	BaseEvent
	Consensus ConsensusResult `json:"consensus"`
}

// ConnectionStateEvent is emitted on every connection state transition.
type ConnectionStateEvent struct {
	BaseEvent
	From        string `json:"from"`
	To          string `json:"to"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	NextDelayMs int64  `json:"next_delay_ms,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// SessionStatusEvent is emitted when a controller changes execution status.
type SessionStatusEvent struct {
	BaseEvent
	Kind      string `json:"kind"` // KindSession or KindSwarm
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Error     string `json:"error,omitempty"`
}

// MessageEvent is emitted when a controller appends a message.
type MessageEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Local     bool   `json:"local,omitempty"`
}

// ParseErrorEvent is emitted when a stream frame cannot be decoded.
type ParseErrorEvent struct {
	BaseEvent
	Line  string `json:"line"`
	Error string `json:"error"`
}

// NewEvent creates a BaseEvent with the given type and source.
func NewEvent(eventType EventType, source string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      WireTime{time.Now()},
		Src:       source,
	}
}

// NewInternalEvent creates a BaseEvent with tether as the source.
func NewInternalEvent(eventType EventType) BaseEvent {
	return NewEvent(eventType, SourceInternal)
}

// IsTerminal reports whether t ends an execution stream.
func IsTerminal(t EventType) bool {
	switch t {
	case EventSessionComplete, EventSessionStopped, EventComplete:
		return true
	}
	return false
}
