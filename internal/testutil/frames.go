package testutil

import (
	"encoding/json"

	"github.com/npratt/tether/internal/sse"
)

// JSONFrame builds an unnamed frame whose data is fields plus a type
// discriminator.
func JSONFrame(eventType string, fields map[string]any) sse.Frame {
	payload := map[string]any{"type": eventType}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return sse.Frame{Data: string(data)}
}

// ChannelFrame builds a frame on a named SSE channel whose payload carries no
// type field.
func ChannelFrame(channel string, fields map[string]any) sse.Frame {
	data, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	return sse.Frame{Event: channel, Data: string(data)}
}

// WithID sets the frame's event id.
func WithID(f sse.Frame, id string) sse.Frame {
	f.ID = id
	return f
}

// AgentResponse is an agent_response frame.
func AgentResponse(content string) sse.Frame {
	return JSONFrame("agent_response", map[string]any{"content": content})
}

// TaskStart is a task_start frame.
func TaskStart(taskID, task string, total int) sse.Frame {
	return JSONFrame("task_start", map[string]any{"task_id": taskID, "task": task, "total_tasks": total})
}

// TaskComplete is a task_complete frame.
func TaskComplete(taskID, task string) sse.Frame {
	return JSONFrame("task_complete", map[string]any{"task_id": taskID, "task": task})
}

// ServerError is an error frame.
func ServerError(message string) sse.Frame {
	return JSONFrame("error", map[string]any{"message": message})
}

// SessionComplete is the terminal frame of a successful session.
func SessionComplete() sse.Frame {
	return JSONFrame("session_complete", nil)
}

// SessionStopped is the terminal frame of a stopped session.
func SessionStopped() sse.Frame {
	return JSONFrame("session_stopped", nil)
}

// Malformed is a frame whose data is not JSON.
func Malformed() sse.Frame {
	return sse.Frame{Data: "{not json"}
}

// SwarmAgent describes one agent in a swarm status frame.
type SwarmAgent struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Status      string `json:"status"`
	CurrentTask string `json:"current_task,omitempty"`
}

// SwarmStatus is a status frame on the swarm status channel.
func SwarmStatus(status string, agents ...SwarmAgent) sse.Frame {
	return ChannelFrame("status", map[string]any{"status": status, "agents": agents})
}

// SwarmProgress is a progress frame on the swarm progress channel.
func SwarmProgress(percent float64) sse.Frame {
	return ChannelFrame("progress", map[string]any{"progress": percent})
}

// SwarmLog is a log frame on the swarm log channel.
func SwarmLog(agent, message string) sse.Frame {
	return ChannelFrame("log", map[string]any{"agent": agent, "message": message})
}

// SwarmComplete is the terminal frame of a swarm.
func SwarmComplete(status string) sse.Frame {
	return ChannelFrame("complete", map[string]any{"status": status})
}

// SwarmConsensus is a consensus frame.
func SwarmConsensus(content string, agreement float64) sse.Frame {
	return ChannelFrame("consensus", map[string]any{
		"consensus": map[string]any{"content": content, "agreement": agreement, "strategy": "majority"},
	})
}
