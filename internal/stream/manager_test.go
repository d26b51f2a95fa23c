package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/npratt/tether/internal/backoff"
	"github.com/npratt/tether/internal/clock"
	"github.com/npratt/tether/internal/events"
	"github.com/npratt/tether/internal/sse"
)

const waitTimeout = 2 * time.Second

// fakeTransport hands every Open call to the test, which decides the outcome.
type fakeTransport struct {
	opens chan *fakeOpen
}

type fakeOpen struct {
	key         string
	lastEventID string
	reply       chan openReply
}

type openReply struct {
	conn Conn
	err  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opens: make(chan *fakeOpen, 16)}
}

func (f *fakeTransport) Open(ctx context.Context, key, lastEventID string) (Conn, error) {
	o := &fakeOpen{key: key, lastEventID: lastEventID, reply: make(chan openReply, 1)}
	f.opens <- o
	select {
	case r := <-o.reply:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *fakeOpen) accept() *fakeConn {
	c := newFakeConn()
	o.reply <- openReply{conn: c}
	return c
}

func (o *fakeOpen) reject(err error) {
	o.reply <- openReply{err: err}
}

func (f *fakeTransport) expectOpen(t *testing.T) *fakeOpen {
	t.Helper()
	select {
	case o := <-f.opens:
		return o
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for Open")
		return nil
	}
}

func (f *fakeTransport) expectNoOpen(t *testing.T) {
	t.Helper()
	select {
	case o := <-f.opens:
		t.Fatalf("unexpected Open for key %q", o.key)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeConn struct {
	frames    chan sse.Frame
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan sse.Frame, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Next() (sse.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		return sse.Frame{}, err
	case <-c.closed:
		return sse.Frame{}, io.ErrClosedPipe
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(event, data string) {
	c.frames <- sse.Frame{Event: event, Data: data}
}

type received struct {
	gen uint64
	ev  events.Event
}

type testHarness struct {
	m         *Manager
	transport *fakeTransport
	clock     *clock.FakeClock
	router    *events.Router
	got       chan received
}

func newHarness(t *testing.T, maxAttempts int) *testHarness {
	t.Helper()
	h := &testHarness{
		transport: newFakeTransport(),
		clock:     clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		router:    events.NewRouter(100),
		got:       make(chan received, 100),
	}
	h.m = New(Options{
		Transport:   h.transport,
		Backoff:     backoff.NewWithSeed(backoff.DefaultPolicy(), 42),
		MaxAttempts: maxAttempts,
		Clock:       h.clock,
		Router:      h.router,
		Logger:      slog.New(slog.DiscardHandler),
	})
	h.m.SetHandler(func(gen uint64, ev events.Event) {
		h.got <- received{gen: gen, ev: ev}
	})
	t.Cleanup(func() {
		_ = h.m.Close()
		h.router.Close()
	})
	return h
}

func (h *testHarness) expectEvent(t *testing.T) received {
	t.Helper()
	select {
	case r := <-h.got:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return received{}
	}
}

func (h *testHarness) expectNoEvent(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.got:
		t.Fatalf("unexpected event %s", r.ev.Type())
	case <-time.After(50 * time.Millisecond):
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func waitAttempt(t *testing.T, m *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if m.State() == StateReconnecting && m.Reconnect().Attempt == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("attempt = %d (state %s), want %d while reconnecting", m.Reconnect().Attempt, m.State(), want)
}

func TestManagerConnectDeliversInOrder(t *testing.T) {
	h := newHarness(t, 10)

	gen, err := h.m.Connect("s1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := h.m.State(); got != StateConnecting {
		t.Errorf("State() = %s, want connecting", got)
	}

	o := h.transport.expectOpen(t)
	if o.key != "s1" {
		t.Errorf("opened key %q, want s1", o.key)
	}
	conn := o.accept()
	waitState(t, h.m, StateConnected)

	conn.send("", `{"type":"agent_response","content":"one"}`)
	conn.send("", `{"type":"agent_response","content":"two"}`)
	conn.send("", `{"type":"agent_response","content":"three"}`)

	for _, want := range []string{"one", "two", "three"} {
		r := h.expectEvent(t)
		if r.gen != gen {
			t.Errorf("gen = %d, want %d", r.gen, gen)
		}
		resp, ok := r.ev.(*events.ResponseEvent)
		if !ok {
			t.Fatalf("expected *ResponseEvent, got %T", r.ev)
		}
		if resp.Content != want {
			t.Errorf("Content = %q, want %q", resp.Content, want)
		}
		if resp.Stream() != "s1" {
			t.Errorf("Stream() = %q, want s1", resp.Stream())
		}
	}
	if !h.m.Current(gen) {
		t.Error("Current(gen) = false for live connection")
	}
}

func TestManagerBackoffAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t, 10)

	if _, err := h.m.Connect("s1"); err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		h.transport.expectOpen(t).reject(errors.New("connection refused"))
		waitAttempt(t, h.m, attempt)
		if attempt < 3 {
			h.clock.Advance(h.m.Reconnect().NextDelay)
		}
	}

	rs := h.m.Reconnect()
	if rs.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", rs.Attempt)
	}
	if rs.LastError != "connection refused" {
		t.Errorf("LastError = %q", rs.LastError)
	}
	// initial * 2^2 = 4s, jitter ±10%
	if rs.NextDelay < 3600*time.Millisecond || rs.NextDelay > 4400*time.Millisecond {
		t.Errorf("NextDelay = %v, want within [3.6s, 4.4s]", rs.NextDelay)
	}
	if h.clock.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1 retry timer", h.clock.Pending())
	}

	// Nothing fires before the delay elapses
	h.clock.Advance(rs.NextDelay - time.Millisecond)
	h.transport.expectNoOpen(t)
	h.clock.Advance(time.Millisecond)
	h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)

	if got := h.m.Reconnect().Attempt; got != 0 {
		t.Errorf("Attempt after successful open = %d, want 0", got)
	}
}

func TestManagerFailsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, 3)

	if _, err := h.m.Connect("s1"); err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		h.transport.expectOpen(t).reject(errors.New("boom"))
		if attempt < 3 {
			waitAttempt(t, h.m, attempt)
			h.clock.Advance(h.m.Reconnect().NextDelay)
		}
	}

	waitState(t, h.m, StateFailed)
	if got := h.m.Reconnect().Attempt; got != 3 {
		t.Errorf("Attempt = %d, want 3", got)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.clock.Pending())
	}

	h.clock.Advance(time.Hour)
	h.transport.expectNoOpen(t)

	// Network recovery does not revive a failed stream
	h.m.OnOnline()
	h.transport.expectNoOpen(t)
	if got := h.m.State(); got != StateFailed {
		t.Errorf("State() = %s, want failed", got)
	}

	// Manual retry does
	if err := h.m.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)
	if got := h.m.Reconnect().Attempt; got != 0 {
		t.Errorf("Attempt after retry = %d, want 0", got)
	}
}

func TestManagerTerminalEventSuppressesReconnect(t *testing.T) {
	for _, frame := range []struct {
		name, event, data string
	}{
		{"session_complete", "", `{"type":"session_complete"}`},
		{"session_stopped", "", `{"type":"session_stopped","reason":"user"}`},
		{"swarm complete channel", "complete", `{"status":"completed"}`},
	} {
		t.Run(frame.name, func(t *testing.T) {
			h := newHarness(t, 10)
			if _, err := h.m.Connect("s1"); err != nil {
				t.Fatal(err)
			}
			conn := h.transport.expectOpen(t).accept()
			waitState(t, h.m, StateConnected)

			conn.send(frame.event, frame.data)
			r := h.expectEvent(t)
			if !events.IsTerminal(r.ev.Type()) {
				t.Fatalf("got %s, want terminal event", r.ev.Type())
			}
			// Terminal handling happens before the handler sees the event
			if !h.m.Current(r.gen) {
				t.Error("terminal event generation should still be current")
			}
			if got := h.m.State(); got != StateIdle {
				t.Errorf("State() = %s, want idle", got)
			}
			if !conn.isClosed() {
				t.Error("transport not closed after terminal event")
			}

			// A later drop must not schedule anything
			conn.errs <- errors.New("reset by peer")
			h.clock.Advance(time.Minute)
			h.transport.expectNoOpen(t)
			if h.clock.Pending() != 0 {
				t.Errorf("Pending() = %d, want 0", h.clock.Pending())
			}
		})
	}
}

func TestManagerServerEOFReconnectsWithLastEventID(t *testing.T) {
	h := newHarness(t, 10)
	if _, err := h.m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	conn := h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)

	conn.frames <- sse.Frame{ID: "41", Data: `{"type":"task_start","task":"a"}`}
	h.expectEvent(t)
	conn.errs <- io.EOF

	waitAttempt(t, h.m, 1)
	if got := h.m.Reconnect().LastError; got != errServerClosed.Error() {
		t.Errorf("LastError = %q, want %q", got, errServerClosed.Error())
	}

	h.clock.Advance(h.m.Reconnect().NextDelay)
	o := h.transport.expectOpen(t)
	if o.lastEventID != "41" {
		t.Errorf("lastEventID = %q, want 41", o.lastEventID)
	}
}

func TestManagerOnlineShortCircuitsBackoff(t *testing.T) {
	h := newHarness(t, 10)
	if _, err := h.m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	conn := h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)

	conn.errs <- errors.New("network unreachable")
	waitAttempt(t, h.m, 1)
	h.m.OnOffline()

	h.m.OnOnline()
	// Fires without advancing the clock
	h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)

	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want backoff timer cancelled", h.clock.Pending())
	}
	h.clock.Advance(time.Minute)
	h.transport.expectNoOpen(t)
}

func TestManagerOnlineIgnoredWhenNotReconnecting(t *testing.T) {
	h := newHarness(t, 10)

	h.m.OnOnline()
	h.transport.expectNoOpen(t)

	if _, err := h.m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	o := h.transport.expectOpen(t)

	// Open still in flight: no second connect
	h.m.OnOnline()
	h.transport.expectNoOpen(t)

	o.accept()
	waitState(t, h.m, StateConnected)
	h.m.OnOnline()
	h.transport.expectNoOpen(t)
}

func TestManagerConnectSupersedesPreviousKey(t *testing.T) {
	h := newHarness(t, 10)

	if _, err := h.m.Connect("old"); err != nil {
		t.Fatal(err)
	}
	oldConn := h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)

	newGen, err := h.m.Connect("new")
	if err != nil {
		t.Fatal(err)
	}
	if !oldConn.isClosed() {
		t.Error("old transport not closed by Connect")
	}

	oldConn.send("", `{"type":"agent_response","content":"stale"}`)
	o := h.transport.expectOpen(t)
	if o.key != "new" {
		t.Errorf("opened key %q, want new", o.key)
	}
	newConn := o.accept()
	newConn.send("", `{"type":"agent_response","content":"fresh"}`)

	r := h.expectEvent(t)
	if r.gen != newGen {
		t.Errorf("gen = %d, want %d", r.gen, newGen)
	}
	if got := r.ev.(*events.ResponseEvent).Content; got != "fresh" {
		t.Errorf("Content = %q, want fresh", got)
	}
	h.expectNoEvent(t)
}

func TestManagerSupersededOpenIsDiscarded(t *testing.T) {
	h := newHarness(t, 10)

	if _, err := h.m.Connect("a"); err != nil {
		t.Fatal(err)
	}
	first := h.transport.expectOpen(t)

	if _, err := h.m.Connect("b"); err != nil {
		t.Fatal(err)
	}
	second := h.transport.expectOpen(t)
	second.accept()
	waitState(t, h.m, StateConnected)

	// The first Open was cancelled through its context; a late failure
	// must not disturb the new connection.
	first.reject(errors.New("late failure"))
	h.transport.expectNoOpen(t)
	if got := h.m.State(); got != StateConnected {
		t.Errorf("State() = %s, want connected", got)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.clock.Pending())
	}
}

func TestManagerDisconnect(t *testing.T) {
	h := newHarness(t, 10)
	if _, err := h.m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	conn := h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)

	conn.errs <- errors.New("dropped")
	waitAttempt(t, h.m, 1)

	h.m.Disconnect()
	h.m.Disconnect()

	if got := h.m.State(); got != StateIdle {
		t.Errorf("State() = %s, want idle", got)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.clock.Pending())
	}
	h.clock.Advance(time.Hour)
	h.transport.expectNoOpen(t)
}

func TestManagerDisconnectDropsInFlightEvents(t *testing.T) {
	h := newHarness(t, 10)
	gen, err := h.m.Connect("s1")
	if err != nil {
		t.Fatal(err)
	}
	conn := h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)

	h.m.Disconnect()
	if h.m.Current(gen) {
		t.Error("Current(gen) = true after Disconnect")
	}
	conn.send("", `{"type":"agent_response","content":"late"}`)
	h.expectNoEvent(t)
}

func TestManagerMalformedFrameIsSkipped(t *testing.T) {
	h := newHarness(t, 10)
	sub := h.router.SubscribeFiltered(100, func(ev events.Event) bool {
		return ev.Type() == events.EventParseError
	})

	if _, err := h.m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	conn := h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)

	conn.send("", `{"type":"agent_response",`)
	conn.send("", `{"type":"brand_new_type"}`)
	conn.send("", `{"type":"agent_response","content":"ok"}`)

	r := h.expectEvent(t)
	if got := r.ev.(*events.ResponseEvent).Content; got != "ok" {
		t.Errorf("Content = %q, want ok", got)
	}
	if got := h.m.State(); got != StateConnected {
		t.Errorf("State() = %s, want connected", got)
	}

	select {
	case ev := <-sub:
		pe := ev.(*events.ParseErrorEvent)
		if pe.Stream() != "s1" {
			t.Errorf("parse error stream = %q, want s1", pe.Stream())
		}
	case <-time.After(waitTimeout):
		t.Fatal("expected a parse error event")
	}
}

func TestManagerOversizedFrameIsSkipped(t *testing.T) {
	h := newHarness(t, 10)
	sub := h.router.SubscribeFiltered(100, func(ev events.Event) bool {
		return ev.Type() == events.EventParseError
	})

	if _, err := h.m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	conn := h.transport.expectOpen(t).accept()
	waitState(t, h.m, StateConnected)

	conn.frames <- sse.Frame{ID: "9", Err: sse.ErrFrameTooLarge}
	conn.send("", `{"type":"agent_response","content":"after"}`)

	r := h.expectEvent(t)
	if got := r.ev.(*events.ResponseEvent).Content; got != "after" {
		t.Errorf("Content = %q, want after", got)
	}
	if got := h.m.State(); got != StateConnected {
		t.Errorf("State() = %s, want connected", got)
	}
	if got := h.m.Reconnect().Attempt; got != 0 {
		t.Errorf("Attempt = %d, want 0", got)
	}

	select {
	case ev := <-sub:
		pe := ev.(*events.ParseErrorEvent)
		if pe.Error != sse.ErrFrameTooLarge.Error() {
			t.Errorf("parse error = %q, want %q", pe.Error, sse.ErrFrameTooLarge.Error())
		}
	case <-time.After(waitTimeout):
		t.Fatal("expected a parse error event")
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "abc", "abc"},
		{"exact", strings.Repeat("a", maxLoggedFrame), strings.Repeat("a", maxLoggedFrame)},
		{"ascii", strings.Repeat("a", maxLoggedFrame+5), strings.Repeat("a", maxLoggedFrame) + "..."},
		// "é" is two bytes; byte 200 falls inside the last one.
		{"rune boundary", strings.Repeat("a", maxLoggedFrame-1) + "ééé", strings.Repeat("a", maxLoggedFrame-1) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clip(tt.in)
			if got != tt.want {
				t.Errorf("clip() = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("clip() = %q is not valid UTF-8", got)
			}
		})
	}
}

func TestManagerStateEventsInOrder(t *testing.T) {
	h := newHarness(t, 10)
	sub := h.router.SubscribeFiltered(100, func(ev events.Event) bool {
		return ev.Type() == events.EventConnectionState
	})

	for i := 0; i < 20; i++ {
		if _, err := h.m.Connect("s1"); err != nil {
			t.Fatal(err)
		}
		h.transport.expectOpen(t).reject(errors.New("refused"))
		h.m.Disconnect()
	}
	h.m.Disconnect()

	prev := string(StateIdle)
	for {
		select {
		case ev := <-sub:
			cs := ev.(*events.ConnectionStateEvent)
			if cs.From != prev {
				t.Fatalf("transition %s -> %s follows state %s", cs.From, cs.To, prev)
			}
			prev = cs.To
		case <-time.After(100 * time.Millisecond):
			if prev != string(StateIdle) {
				t.Errorf("last state = %s, want idle", prev)
			}
			return
		}
	}
}

func TestManagerPublishesStateChanges(t *testing.T) {
	h := newHarness(t, 10)
	sub := h.router.SubscribeFiltered(100, func(ev events.Event) bool {
		return ev.Type() == events.EventConnectionState
	})

	if _, err := h.m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	h.transport.expectOpen(t).reject(errors.New("refused"))
	waitAttempt(t, h.m, 1)

	want := []struct {
		to      string
		attempt int
	}{
		{"connecting", 0},
		{"reconnecting", 1},
	}
	for _, w := range want {
		select {
		case ev := <-sub:
			cs := ev.(*events.ConnectionStateEvent)
			if cs.To != w.to || cs.Attempt != w.attempt {
				t.Errorf("got %s attempt %d, want %s attempt %d", cs.To, cs.Attempt, w.to, w.attempt)
			}
			if cs.To == "reconnecting" && (cs.NextDelayMs <= 0 || cs.LastError != "refused") {
				t.Errorf("reconnecting event missing details: %+v", cs)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for %s", w.to)
		}
	}
}

func TestManagerErrors(t *testing.T) {
	h := newHarness(t, 10)

	if err := h.m.Retry(); !errors.Is(err, ErrNoStream) {
		t.Errorf("Retry() = %v, want ErrNoStream", err)
	}

	_ = h.m.Close()
	if _, err := h.m.Connect("s1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close = %v, want ErrClosed", err)
	}
	if err := h.m.Retry(); !errors.Is(err, ErrClosed) {
		t.Errorf("Retry() after Close = %v, want ErrClosed", err)
	}
}
