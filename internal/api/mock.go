package api

import (
	"context"
	"sync"
)

// MockClient is a mock implementation of Client for testing.
// It records all calls and returns configured responses.
type MockClient struct {
	mu sync.Mutex

	// Configured responses
	ExecuteResponse      *ExecuteResponse
	ExecuteError         error
	StopError            error
	ResumeError          error
	SendInputError       error
	Snapshots            map[string]*Snapshot
	GetSessionError      error
	Logs                 map[string][]LogEntry
	GetLogsError         error
	ExecuteSwarmResponse *ExecuteResponse
	ExecuteSwarmError    error
	StopSwarmError       error

	// Block, when set, is called at the start of every call while the
	// mutex is released. Tests use it to hold a call in flight.
	Block func(ctx context.Context, op string) error

	// Call tracking
	ExecuteCalls      []StartParams
	StopCalls         []string
	ResumeCalls       []string
	SendInputCalls    []SendInputCall
	GetSessionCalls   []string
	GetLogsCalls      []string
	ExecuteSwarmCalls []SwarmParams
	StopSwarmCalls    []string
}

// SendInputCall records a SendInput call.
type SendInputCall struct {
	SessionID string
	Input     string
}

// Compile-time interface check
var _ Client = (*MockClient)(nil)

// NewMockClient creates a new MockClient with initialized maps.
func NewMockClient() *MockClient {
	return &MockClient{
		Snapshots: make(map[string]*Snapshot),
		Logs:      make(map[string][]LogEntry),
	}
}

func (m *MockClient) block(ctx context.Context, op string) error {
	m.mu.Lock()
	fn := m.Block
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, op)
}

// Execute implements SessionAPI.
func (m *MockClient) Execute(ctx context.Context, params StartParams) (*ExecuteResponse, error) {
	if err := m.block(ctx, "execute"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExecuteCalls = append(m.ExecuteCalls, params)
	if m.ExecuteError != nil {
		return nil, m.ExecuteError
	}
	if m.ExecuteResponse != nil {
		resp := *m.ExecuteResponse
		return &resp, nil
	}
	return &ExecuteResponse{SessionID: "mock-session"}, nil
}

// Stop implements SessionAPI.
func (m *MockClient) Stop(ctx context.Context, sessionID string) error {
	if err := m.block(ctx, "stop"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StopCalls = append(m.StopCalls, sessionID)
	return m.StopError
}

// Resume implements SessionAPI.
func (m *MockClient) Resume(ctx context.Context, sessionID string) error {
	if err := m.block(ctx, "resume"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ResumeCalls = append(m.ResumeCalls, sessionID)
	return m.ResumeError
}

// SendInput implements SessionAPI.
func (m *MockClient) SendInput(ctx context.Context, sessionID, input string) error {
	if err := m.block(ctx, "input"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SendInputCalls = append(m.SendInputCalls, SendInputCall{SessionID: sessionID, Input: input})
	return m.SendInputError
}

// GetSession implements SessionAPI.
func (m *MockClient) GetSession(ctx context.Context, sessionID string) (*Snapshot, error) {
	if err := m.block(ctx, "get_session"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetSessionCalls = append(m.GetSessionCalls, sessionID)
	if m.GetSessionError != nil {
		return nil, m.GetSessionError
	}
	snap, ok := m.Snapshots[sessionID]
	if !ok {
		return nil, &APIError{StatusCode: 404, Message: "session not found"}
	}
	cp := *snap
	cp.ConversationHistory = append([]HistoryEntry(nil), snap.ConversationHistory...)
	return &cp, nil
}

// GetLogs implements SessionAPI.
func (m *MockClient) GetLogs(ctx context.Context, sessionID string) ([]LogEntry, error) {
	if err := m.block(ctx, "logs"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetLogsCalls = append(m.GetLogsCalls, sessionID)
	if m.GetLogsError != nil {
		return nil, m.GetLogsError
	}
	return m.Logs[sessionID], nil
}

// ExecuteSwarm implements SwarmAPI.
func (m *MockClient) ExecuteSwarm(ctx context.Context, params SwarmParams) (*ExecuteResponse, error) {
	if err := m.block(ctx, "execute_swarm"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExecuteSwarmCalls = append(m.ExecuteSwarmCalls, params)
	if m.ExecuteSwarmError != nil {
		return nil, m.ExecuteSwarmError
	}
	if m.ExecuteSwarmResponse != nil {
		resp := *m.ExecuteSwarmResponse
		return &resp, nil
	}
	return &ExecuteResponse{ExecutionID: "mock-execution"}, nil
}

// StopSwarm implements SwarmAPI.
func (m *MockClient) StopSwarm(ctx context.Context, executionID string) error {
	if err := m.block(ctx, "stop_swarm"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StopSwarmCalls = append(m.StopSwarmCalls, executionID)
	return m.StopSwarmError
}

// SetSnapshot stores the response for GetSession(id).
func (m *MockClient) SetSnapshot(snap *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Snapshots[snap.SessionID] = snap
}

// Calls returns how many times op was invoked.
func (m *MockClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch op {
	case "execute":
		return len(m.ExecuteCalls)
	case "stop":
		return len(m.StopCalls)
	case "resume":
		return len(m.ResumeCalls)
	case "input":
		return len(m.SendInputCalls)
	case "get_session":
		return len(m.GetSessionCalls)
	case "logs":
		return len(m.GetLogsCalls)
	case "execute_swarm":
		return len(m.ExecuteSwarmCalls)
	case "stop_swarm":
		return len(m.StopSwarmCalls)
	}
	return 0
}
