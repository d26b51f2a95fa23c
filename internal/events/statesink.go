package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateBufferSize is the recommended buffer size for state sink subscriptions.
const StateBufferSize = 1000

// CurrentStateVersion is the current state file format version.
// Increment this when making incompatible changes to the State struct.
const CurrentStateVersion = 1

// State is the dashboard's own resumable view: which execution it was
// following and how that stream was doing. Execution history itself lives on
// the server.
type State struct {
	Version     int       `json:"version"`
	SessionID   string    `json:"session_id,omitempty"`
	SwarmID     string    `json:"swarm_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Connection  string    `json:"connection,omitempty"`
	Reconnects  int       `json:"reconnects"`
	Messages    int       `json:"messages"`
	ParseErrors int       `json:"parse_errors"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultMinSaveDelay is the minimum time between saves.
const DefaultMinSaveDelay = 2 * time.Second

// StateSink persists State to a JSON file so `attach --last` can find the
// previous execution.
type StateSink struct {
	path     string
	state    *State
	dirty    bool
	mu       sync.Mutex
	done     chan struct{}
	lastSave time.Time
	minDelay time.Duration
}

// NewStateSink creates a new StateSink that writes to the specified path.
func NewStateSink(path string) *StateSink {
	return &StateSink{
		path:     path,
		state:    &State{Version: CurrentStateVersion},
		done:     make(chan struct{}),
		minDelay: DefaultMinSaveDelay,
	}
}

// Start ensures the directory exists, loads existing state, and begins processing events.
func (s *StateSink) Start(ctx context.Context, events <-chan Event) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load state: %w", err)
	}

	go s.run(ctx, events)
	return nil
}

func (s *StateSink) run(ctx context.Context, events <-chan Event) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.flushIfDirty()
			return
		case event, ok := <-events:
			if !ok {
				s.flushIfDirty()
				return
			}
			s.handleEvent(event)
		}
	}
}

func (s *StateSink) handleEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case *SessionStatusEvent:
		if e.Kind == KindSwarm {
			s.state.SwarmID = e.SessionID
		} else {
			s.state.SessionID = e.SessionID
		}
		s.state.Status = e.To
		s.dirty = true
		switch e.To {
		case "completed", "failed", "stopped":
			// Terminal status is saved immediately
			s.saveUnlocked()
			return
		}

	case *ConnectionStateEvent:
		s.state.Connection = e.To
		if e.To == "reconnecting" {
			s.state.Reconnects++
		}
		s.dirty = true

	case *MessageEvent:
		s.state.Messages++
		s.dirty = true

	case *ParseErrorEvent:
		s.state.ParseErrors++
		s.dirty = true
	}

	if s.dirty && time.Since(s.lastSave) >= s.minDelay {
		s.saveUnlocked()
	}
}

func (s *StateSink) saveUnlocked() {
	s.state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		slog.Warn("state sink: marshal failed", "error", err)
		return
	}

	// Atomic write: temp file + rename
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		slog.Warn("state sink: write failed", "path", tmpPath, "error", err)
		return
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		slog.Warn("state sink: rename failed", "path", s.path, "error", err)
		return
	}

	s.dirty = false
	s.lastSave = time.Now()
}

func (s *StateSink) flushIfDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.saveUnlocked()
	}
}

// Stop waits for the run goroutine to finish; the final save happens there.
func (s *StateSink) Stop() error {
	<-s.done
	return nil
}

// Load reads the state file from disk. A corrupted or incompatible file is
// moved aside to <path>.backup and a fresh state is used.
func (s *StateSink) Load() error {
	state, err := ReadState(s.path)
	if err != nil && os.IsNotExist(err) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if backupErr := os.Rename(s.path, s.path+".backup"); backupErr != nil {
			slog.Warn("state file unreadable, failed to backup",
				"path", s.path,
				"error", err,
				"backup_error", backupErr)
		} else {
			slog.Warn("state file unreadable, backed up and starting fresh",
				"path", s.path,
				"error", err)
		}
		s.state = &State{Version: CurrentStateVersion}
		return nil
	}

	s.state = state
	return nil
}

// ReadState reads a state file written by a StateSink.
func ReadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if state.Version != CurrentStateVersion {
		return nil, fmt.Errorf("incompatible state version %d (want %d)", state.Version, CurrentStateVersion)
	}
	return &state, nil
}

// State returns a copy of the current state.
func (s *StateSink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state
}

// Path returns the state file path.
func (s *StateSink) Path() string {
	return s.path
}

// SetMinDelay sets the minimum delay between saves (for testing).
func (s *StateSink) SetMinDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minDelay = d
}
