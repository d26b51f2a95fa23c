// Package netstatus tracks whether the execution service is reachable. It
// combines the host's own connectivity signal with a periodic HEAD probe and
// notifies subscribers when connectivity is lost or regained.
package netstatus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/npratt/tether/internal/clock"
)

// Status is the monitor's view of connectivity.
type Status string

// Connectivity states.
const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Defaults for Options.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Options configure a Monitor.
type Options struct {
	Platform     Platform // required
	Prober       Prober   // nil disables active probing
	Clock        clock.Clock
	PollInterval time.Duration
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

type subscription struct {
	onOnline  func()
	onOffline func()
}

// Monitor observes connectivity. It knows nothing about streams; the stream
// manager subscribes to it.
type Monitor struct {
	platform     Platform
	prober       Prober
	clock        clock.Clock
	pollInterval time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	status  Status
	subs    map[int]subscription
	nextID  int
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	watched <-chan struct{}
	probeMu sync.Mutex
}

// New creates a Monitor with status unknown.
func New(opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		platform:     opts.Platform,
		prober:       opts.Prober,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		probeTimeout: opts.ProbeTimeout,
		logger:       opts.Logger.With("component", "netstatus"),
		status:       StatusUnknown,
		subs:         make(map[int]subscription),
	}
}

// Start reads the platform flag, begins watching it, and starts polling.
// Returns immediately. Use Stop to terminate.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("monitor already running")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true
	m.mu.Unlock()

	m.PlatformChanged()

	watched, err := m.platform.Watch(ctx, m.PlatformChanged)
	if err != nil {
		// Polling still covers us
		m.logger.Warn("platform connectivity watch unavailable", "error", err)
	}
	m.mu.Lock()
	m.watched = watched
	m.mu.Unlock()

	go m.poll(ctx)
	return nil
}

// Stop terminates polling and watching. Once it returns no subscriber
// callback is running or will run.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done, watched := m.cancel, m.done, m.watched
	m.watched = nil
	m.mu.Unlock()

	cancel()
	<-done
	if watched != nil {
		<-watched
	}
}

// Status returns the current connectivity status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers callbacks for connectivity transitions. Either may be
// nil. Callbacks run on the monitor's goroutines. The returned function
// removes the subscription.
func (m *Monitor) Subscribe(onOnline, onOffline func()) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = subscription{onOnline: onOnline, onOffline: onOffline}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// PlatformChanged re-reads the platform flag. The platform's own transition
// is trusted in both directions, matching how an OS link event is handled.
func (m *Monitor) PlatformChanged() {
	online := m.platform.Online()

	m.mu.Lock()
	next := StatusOffline
	if online {
		next = StatusOnline
	}
	prev := m.setLocked(next)
	m.mu.Unlock()

	m.logger.Debug("platform connectivity", "online", online, "status", next)
	m.fire(prev, next)
}

// Check runs one active probe and applies its result. A probe failure only
// takes the monitor offline when the platform agrees, since a single timeout
// is weaker evidence than the OS.
func (m *Monitor) Check(ctx context.Context) {
	if m.prober == nil {
		return
	}

	// Overlapping probes would race on the result.
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	platformOnline := true
	if err != nil {
		platformOnline = m.platform.Online()
	}

	m.mu.Lock()
	var prev, next Status
	switch {
	case err == nil:
		next = StatusOnline
		prev = m.setLocked(next)
	case !platformOnline:
		next = StatusOffline
		prev = m.setLocked(next)
	default:
		prev, next = m.status, m.status
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("health probe failed", "error", err, "status", next)
	}
	m.fire(prev, next)
}

func (m *Monitor) setLocked(next Status) Status {
	prev := m.status
	m.status = next
	return prev
}

// fire notifies subscribers of a real transition. unknown → online is not a
// recovery, so it does not fire onOnline.
func (m *Monitor) fire(prev, next Status) {
	if prev == next {
		return
	}

	m.mu.Lock()
	subs := make([]subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	switch {
	case next == StatusOnline && prev == StatusOffline:
		m.logger.Info("network online")
		for _, s := range subs {
			if s.onOnline != nil {
				s.onOnline()
			}
		}
	case next == StatusOffline:
		m.logger.Info("network offline")
		for _, s := range subs {
			if s.onOffline != nil {
				s.onOffline()
			}
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	defer close(m.done)

	m.Check(ctx)

	ticker := m.clock.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
