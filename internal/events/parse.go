package events

import (
	"encoding/json"
	"log/slog"
)

// eventEnvelope is used for initial JSON parsing to determine event type.
type eventEnvelope struct {
	Type EventType `json:"type"`
}

// ParseFrame decodes one stream frame into a typed Event. channel is the SSE
// event name; it supplies the type when the payload has no "type" field.
//
// Returns nil with no error for unknown event types (for forward
// compatibility). Returns an error only for payloads that are not valid JSON
// objects or do not match the declared type.
func ParseFrame(channel string, data []byte) (Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	eventType := envelope.Type
	if eventType == "" {
		eventType = EventType(channel)
	}

	ev := newWireEvent(eventType)
	if ev == nil {
		slog.Debug("unknown event type", "type", eventType, "channel", channel)
		return nil, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, err
	}
	setType(ev, eventType)
	return ev, nil
}

// ParseEvent decodes a line written by the log sink. Unlike ParseFrame it
// also accepts internal event types.
func ParseEvent(line []byte) (Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, err
	}

	ev := newWireEvent(envelope.Type)
	if ev == nil {
		ev = newInternalEvent(envelope.Type)
	}
	if ev == nil {
		slog.Debug("unknown event type", "type", envelope.Type)
		return nil, nil
	}

	if err := json.Unmarshal(line, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func newWireEvent(t EventType) Event {
	switch t {
	case EventTaskStart:
		return &TaskStartEvent{}
	case EventTaskComplete:
		return &TaskCompleteEvent{}
	case EventAgentResponse, EventLLMResponse:
		return &ResponseEvent{}
	case EventError:
		return &ErrorEvent{}
	case EventSessionComplete:
		return &SessionCompleteEvent{}
	case EventSessionStopped:
		return &SessionStoppedEvent{}
	case EventLog:
		return &LogEvent{}
	case EventProgress:
		return &ProgressEvent{}
	case EventStatus:
		return &StatusEvent{}
	case EventComplete:
		return &CompleteEvent{}
	case EventConsensus:
		return &ConsensusEvent{}
	default:
		return nil
	}
}

func newInternalEvent(t EventType) Event {
	switch t {
	case EventConnectionState:
		return &ConnectionStateEvent{}
	case EventSessionStatus:
		return &SessionStatusEvent{}
	case EventMessage:
		return &MessageEvent{}
	case EventParseError:
		return &ParseErrorEvent{}
	default:
		return nil
	}
}

// typed is satisfied by every concrete event through its embedded BaseEvent.
type typed interface {
	base() *BaseEvent
}

func (e *BaseEvent) base() *BaseEvent { return e }

// setType records the resolved type for frames that relied on the channel
// name rather than a "type" field.
func setType(ev Event, t EventType) {
	if b, ok := ev.(typed); ok {
		b.base().EventType = t
	}
}
