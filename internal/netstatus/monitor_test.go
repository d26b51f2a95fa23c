package netstatus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npratt/tether/internal/clock"
)

type fakePlatform struct {
	online atomic.Bool
}

func (p *fakePlatform) Online() bool { return p.online.Load() }

func (p *fakePlatform) Watch(ctx context.Context, onChange func()) (<-chan struct{}, error) {
	done := make(chan struct{})
	close(done)
	return done, nil
}

// lingeringPlatform keeps its watch running briefly after cancellation.
type lingeringPlatform struct {
	fakePlatform
	exited atomic.Bool
}

func (p *lingeringPlatform) Watch(ctx context.Context, onChange func()) (<-chan struct{}, error) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		p.exited.Store(true)
		close(done)
	}()
	return done, nil
}

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProber) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type counter struct {
	online, offline atomic.Int32
}

func newTestMonitor(platform Platform, prober Prober, clk clock.Clock) *Monitor {
	return New(Options{
		Platform:     platform,
		Prober:       prober,
		Clock:        clk,
		PollInterval: 30 * time.Second,
		Logger:       slog.New(slog.DiscardHandler),
	})
}

func subscribeCounter(m *Monitor) *counter {
	c := &counter{}
	m.Subscribe(func() { c.online.Add(1) }, func() { c.offline.Add(1) })
	return c
}

func TestMonitorStopWaitsForWatch(t *testing.T) {
	platform := &lingeringPlatform{}
	m := newTestMonitor(platform, nil, clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Stop()

	if !platform.exited.Load() {
		t.Error("Stop returned while the platform watch was still running")
	}
}

func TestMonitorStartsUnknown(t *testing.T) {
	m := newTestMonitor(&fakePlatform{}, nil, nil)
	if got := m.Status(); got != StatusUnknown {
		t.Errorf("Status() = %s, want unknown", got)
	}
}

func TestMonitorPlatformTransitions(t *testing.T) {
	platform := &fakePlatform{}
	platform.online.Store(true)
	m := newTestMonitor(platform, nil, nil)
	c := subscribeCounter(m)

	m.PlatformChanged()
	if got := m.Status(); got != StatusOnline {
		t.Fatalf("Status() = %s, want online", got)
	}
	if c.online.Load() != 0 {
		t.Error("unknown -> online must not count as a recovery")
	}

	platform.online.Store(false)
	m.PlatformChanged()
	if got := m.Status(); got != StatusOffline {
		t.Errorf("Status() = %s, want offline", got)
	}
	if c.offline.Load() != 1 {
		t.Errorf("onOffline calls = %d, want 1", c.offline.Load())
	}

	platform.online.Store(true)
	m.PlatformChanged()
	if c.online.Load() != 1 {
		t.Errorf("onOnline calls = %d, want 1", c.online.Load())
	}

	// No transition, no callback
	m.PlatformChanged()
	if c.online.Load() != 1 {
		t.Errorf("onOnline calls = %d, want 1", c.online.Load())
	}
}

func TestMonitorProbe(t *testing.T) {
	tests := []struct {
		name           string
		platformOnline bool
		start          func(m *Monitor)
		probeErr       error
		want           Status
		wantOnline     int32
		wantOffline    int32
	}{
		{
			name:           "success while offline fires online",
			platformOnline: false,
			start:          func(m *Monitor) { m.PlatformChanged() },
			want:           StatusOnline,
			wantOnline:     1,
			wantOffline:    1,
		},
		{
			name:           "failure while online with platform online stays online",
			platformOnline: true,
			start:          func(m *Monitor) { m.PlatformChanged() },
			probeErr:       errors.New("timeout"),
			want:           StatusOnline,
		},
		{
			name:           "failure from unknown with platform offline goes offline",
			platformOnline: false,
			start:          func(m *Monitor) {},
			probeErr:       errors.New("timeout"),
			want:           StatusOffline,
			wantOffline:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := &fakePlatform{}
			platform.online.Store(tt.platformOnline)
			prober := &fakeProber{err: tt.probeErr}
			m := newTestMonitor(platform, prober, nil)
			c := subscribeCounter(m)

			tt.start(m)
			m.Check(context.Background())

			if got := m.Status(); got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
			if got := c.online.Load(); got != tt.wantOnline {
				t.Errorf("onOnline calls = %d, want %d", got, tt.wantOnline)
			}
			if got := c.offline.Load(); got != tt.wantOffline {
				t.Errorf("onOffline calls = %d, want %d", got, tt.wantOffline)
			}
		})
	}
}

func TestMonitorProbeFailureNeedsPlatformAgreement(t *testing.T) {
	platform := &fakePlatform{}
	platform.online.Store(true)
	prober := &fakeProber{}
	m := newTestMonitor(platform, prober, nil)
	c := subscribeCounter(m)

	m.PlatformChanged()
	m.Check(context.Background())

	// The platform flag drops without a change event reaching us
	platform.online.Store(false)
	prober.set(errors.New("no route to host"))
	m.Check(context.Background())

	if got := m.Status(); got != StatusOffline {
		t.Errorf("Status() = %s, want offline", got)
	}
	if c.offline.Load() != 1 {
		t.Errorf("onOffline calls = %d, want 1", c.offline.Load())
	}
}

func TestMonitorPolls(t *testing.T) {
	platform := &fakePlatform{}
	platform.online.Store(true)
	prober := &fakeProber{}
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := newTestMonitor(platform, prober, clk)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	waitCalls := func(want int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if prober.count() >= want {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("probe calls = %d, want %d", prober.count(), want)
	}

	// Initial probe on start
	waitCalls(1)

	// The ticker is created after the first probe; wait for it before advancing
	deadline := time.Now().Add(2 * time.Second)
	for clk.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	clk.Advance(30 * time.Second)
	waitCalls(2)
	clk.Advance(30 * time.Second)
	waitCalls(3)
}

func TestMonitorUnsubscribe(t *testing.T) {
	platform := &fakePlatform{}
	m := newTestMonitor(platform, nil, nil)
	c := &counter{}
	unsubscribe := m.Subscribe(nil, func() { c.offline.Add(1) })

	unsubscribe()
	m.PlatformChanged()

	if c.offline.Load() != 0 {
		t.Errorf("onOffline called after unsubscribe")
	}
}

func TestMonitorStopWithoutStart(t *testing.T) {
	m := newTestMonitor(&fakePlatform{}, nil, nil)
	m.Stop()
}
