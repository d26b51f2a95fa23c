// Package stream keeps one server-push event stream alive. A Manager owns the
// transport for a single stream key at a time, reconnects with exponential
// backoff after transport errors, and stops for good once the server sends a
// terminal event or the attempt budget is spent.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/npratt/tether/internal/backoff"
	"github.com/npratt/tether/internal/clock"
	"github.com/npratt/tether/internal/events"
	"github.com/npratt/tether/internal/sse"
)

// State is the connection state of a Manager.
type State string

// Connection states.
const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// DefaultMaxAttempts is the number of consecutive transport failures after
// which a Manager gives up.
const DefaultMaxAttempts = 10

// maxLoggedFrame bounds the payload copied into logs and parse error events.
const maxLoggedFrame = 200

var (
	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("stream manager closed")

	// ErrNoStream is returned by Retry when no stream key was ever connected.
	ErrNoStream = errors.New("no stream to retry")

	// errServerClosed marks a server EOF without a terminal event.
	errServerClosed = errors.New("server closed stream")
)

// ReconnectState describes the retry budget of the current stream.
type ReconnectState struct {
	Attempt     int
	MaxAttempts int
	NextDelay   time.Duration
	LastError   string
}

// Handler receives every parsed event in arrival order. gen identifies the
// connection the event arrived on; pass it to Current to reject events from a
// connection that has since been replaced. Handlers run on the stream's read
// goroutine without any Manager lock held, so they may call back into the
// Manager.
type Handler func(gen uint64, ev events.Event)

// Options configure a Manager.
type Options struct {
	Transport   Transport
	Backoff     *backoff.Backoff // nil uses backoff.DefaultPolicy
	MaxAttempts int              // <= 0 uses DefaultMaxAttempts
	Clock       clock.Clock      // nil uses clock.Real
	Router      *events.Router   // receives wire and connection events; may be nil
	Logger      *slog.Logger

	// Terminal reports whether an event type ends the stream. nil uses
	// events.IsTerminal.
	Terminal func(events.EventType) bool
}

// Manager owns the lifecycle of one server-push subscription.
type Manager struct {
	transport Transport
	backoff   *backoff.Backoff
	clock     clock.Clock
	router    *events.Router
	logger    *slog.Logger
	terminal  func(events.EventType) bool

	mu          sync.Mutex
	handler     Handler
	key         string
	lastEventID string
	state       State
	rs          ReconnectState
	gen         uint64
	cancel      context.CancelFunc
	conn        Conn
	timer       clock.Timer
	closed      bool
}

// New creates a Manager in the idle state.
func New(opts Options) *Manager {
	if opts.Backoff == nil {
		opts.Backoff = backoff.New(backoff.DefaultPolicy())
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Terminal == nil {
		opts.Terminal = events.IsTerminal
	}
	return &Manager{
		transport: opts.Transport,
		backoff:   opts.Backoff,
		clock:     opts.Clock,
		router:    opts.Router,
		logger:    opts.Logger.With("component", "stream"),
		terminal:  opts.Terminal,
		state:     StateIdle,
		rs:        ReconnectState{MaxAttempts: opts.MaxAttempts},
	}
}

// SetHandler registers the event handler. It replaces any previous handler.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Connect opens the stream for key, superseding any stream that is open,
// opening, or waiting to reconnect. It returns the generation of the new
// connection. The open itself happens in the background.
func (m *Manager) Connect(key string) (uint64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}

	m.teardownLocked()
	if key != m.key {
		m.lastEventID = ""
	}
	m.key = key
	m.rs = ReconnectState{MaxAttempts: m.rs.MaxAttempts}
	gen := m.startLocked()
	m.mu.Unlock()
	return gen, nil
}

// Disconnect cancels any pending retry, closes the transport, and moves to
// idle. Events already in flight from the closed connection are discarded.
// Disconnect is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.teardownLocked()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
}

// Retry cancels any scheduled reconnect, resets the attempt counter, and
// reconnects to the last key immediately. It is the only way out of
// StateFailed.
func (m *Manager) Retry() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.key == "" {
		m.mu.Unlock()
		return ErrNoStream
	}

	m.teardownLocked()
	m.rs = ReconnectState{MaxAttempts: m.rs.MaxAttempts}
	m.startLocked()
	key := m.key
	m.mu.Unlock()

	m.logger.Info("manual retry", "key", key)
	return nil
}

// OnOnline short-circuits a pending backoff delay when connectivity returns.
// It only acts while reconnecting, so a connect already in flight is never
// doubled and a failed stream stays failed.
func (m *Manager) OnOnline() {
	m.mu.Lock()
	if m.closed || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.startLocked()
	key := m.key
	m.mu.Unlock()

	m.logger.Info("network online, reconnecting now", "key", key)
}

// OnOffline records a connectivity loss. The stream itself notices on its
// own through the transport.
func (m *Manager) OnOffline() {
	m.logger.Info("network offline", "key", m.Key(), "state", m.State())
}

// Close disconnects and makes the Manager unusable.
func (m *Manager) Close() error {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reconnect returns the current retry budget.
func (m *Manager) Reconnect() ReconnectState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rs
}

// Key returns the stream key of the current or last connection.
func (m *Manager) Key() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key
}

// Current reports whether gen is still the live connection.
func (m *Manager) Current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && !m.closed
}

// Active reports whether a stream is open or being re-established.
func (m *Manager) Active() bool {
	switch m.State() {
	case StateConnecting, StateConnected, StateReconnecting:
		return true
	}
	return false
}

// startLocked begins a new connection attempt for m.key under a fresh
// generation.
func (m *Manager) startLocked() uint64 {
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.setStateLocked(StateConnecting)
	go m.run(ctx, gen, m.key, m.lastEventID)
	return gen
}

// teardownLocked stops the retry timer and closes the transport. It does not
// wait for the read goroutine, which exits once it sees the stale generation.
func (m *Manager) teardownLocked() {
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Debug("close transport", "key", m.key, "error", err)
		}
		m.conn = nil
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// setStateLocked publishes the transition while m.mu is held, so subscribers
// see transitions in the order they happened. Router.Emit never blocks.
func (m *Manager) setStateLocked(to State) {
	if m.state == to {
		return
	}
	from := m.state
	m.state = to
	m.logger.Debug("connection state changed", "from", from, "to", to, "attempt", m.rs.Attempt)
	m.router.Emit(&events.ConnectionStateEvent{
		BaseEvent:   events.NewInternalEvent(events.EventConnectionState),
		From:        string(from),
		To:          string(to),
		Attempt:     m.rs.Attempt,
		MaxAttempts: m.rs.MaxAttempts,
		NextDelayMs: m.rs.NextDelay.Milliseconds(),
		LastError:   m.rs.LastError,
	})
}

func (m *Manager) run(ctx context.Context, gen uint64, key, lastEventID string) {
	conn, err := m.transport.Open(ctx, key, lastEventID)
	if err != nil {
		m.fail(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.rs.Attempt = 0
	m.rs.NextDelay = 0
	m.rs.LastError = ""
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	for {
		frame, err := conn.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errServerClosed
			}
			m.fail(gen, err)
			return
		}

		if frame.Err != nil {
			m.skipFrame(key, frame, frame.Err)
			continue
		}

		ev, perr := events.ParseFrame(frame.Event, []byte(frame.Data))
		if perr != nil {
			m.skipFrame(key, frame, perr)
			continue
		}
		if ev == nil {
			continue
		}
		ev.Stamp(key, m.clock.Now())

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		if frame.ID != "" {
			m.lastEventID = frame.ID
		}
		handler := m.handler
		terminal := m.terminal(ev.Type())
		if terminal {
			m.teardownLocked()
			m.rs.Attempt = 0
			m.rs.NextDelay = 0
			m.setStateLocked(StateIdle)
		}
		m.mu.Unlock()

		if terminal {
			m.logger.Info("terminal event, stream closed", "key", key, "type", ev.Type())
		}
		m.router.Emit(ev)
		if handler != nil {
			handler(gen, ev)
		}
		if terminal {
			return
		}
	}
}

// fail handles a transport error on connection gen: either schedule the next
// attempt or give up.
func (m *Manager) fail(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state == StateIdle || m.state == StateFailed {
		m.mu.Unlock()
		return
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}

	m.rs.Attempt++
	m.rs.LastError = cause.Error()

	if m.rs.Attempt >= m.rs.MaxAttempts {
		m.rs.Attempt = m.rs.MaxAttempts
		m.rs.NextDelay = 0
		m.setStateLocked(StateFailed)
		key, rs := m.key, m.rs
		m.mu.Unlock()

		m.logger.Error("stream failed, giving up",
			"key", key,
			"attempts", rs.Attempt,
			"error", cause)
		return
	}

	delay := m.backoff.Delay(m.rs.Attempt)
	m.rs.NextDelay = delay
	m.setStateLocked(StateReconnecting)
	m.timer = m.clock.AfterFunc(delay, func() { m.fireRetry(gen) })
	key, rs := m.key, m.rs
	m.mu.Unlock()

	m.logger.Warn("stream error, reconnecting",
		"key", key,
		"attempt", rs.Attempt,
		"max_attempts", rs.MaxAttempts,
		"delay", delay,
		"error", cause)
}

func (m *Manager) fireRetry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.startLocked()
	m.mu.Unlock()
}

// skipFrame logs a frame that could not be turned into an event and reports
// it on the router. The stream stays up.
func (m *Manager) skipFrame(key string, frame sse.Frame, cause error) {
	m.logger.Warn("malformed frame skipped",
		"key", key,
		"event", frame.Event,
		"data", clip(frame.Data),
		"error", cause)
	pe := &events.ParseErrorEvent{
		BaseEvent: events.NewInternalEvent(events.EventParseError),
		Line:      clip(frame.Data),
		Error:     cause.Error(),
	}
	pe.StreamKey = key
	m.router.Emit(pe)
}

// clip shortens s for logging without splitting a UTF-8 sequence.
func clip(s string) string {
	if len(s) <= maxLoggedFrame {
		return s
	}
	n := maxLoggedFrame
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// String implements fmt.Stringer for log output.
func (rs ReconnectState) String() string {
	if rs.LastError == "" {
		return fmt.Sprintf("attempt %d/%d", rs.Attempt, rs.MaxAttempts)
	}
	return fmt.Sprintf("attempt %d/%d (%s)", rs.Attempt, rs.MaxAttempts, rs.LastError)
}
