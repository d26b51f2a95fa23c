package events

import (
	"sync"
	"testing"
	"time"
)

func testResponse(text string) *ResponseEvent {
	return &ResponseEvent{
		BaseEvent: NewEvent(EventAgentResponse, SourceServer),
		Content:   text,
	}
}

func TestNewRouter(t *testing.T) {
	t.Run("default buffer size", func(t *testing.T) {
		r := NewRouter(0)
		if r.bufferSize != DefaultBufferSize {
			t.Errorf("expected buffer size %d, got %d", DefaultBufferSize, r.bufferSize)
		}
	})

	t.Run("negative buffer size uses default", func(t *testing.T) {
		r := NewRouter(-10)
		if r.bufferSize != DefaultBufferSize {
			t.Errorf("expected buffer size %d, got %d", DefaultBufferSize, r.bufferSize)
		}
	})

	t.Run("custom buffer size", func(t *testing.T) {
		r := NewRouter(50)
		if r.bufferSize != 50 {
			t.Errorf("expected buffer size 50, got %d", r.bufferSize)
		}
	})
}

func TestRouterEmitSubscribe(t *testing.T) {
	t.Run("single subscriber receives event", func(t *testing.T) {
		r := NewRouter(10)
		defer r.Close()

		ch := r.Subscribe()
		r.Emit(testResponse("Hello"))

		select {
		case received := <-ch:
			resp, ok := received.(*ResponseEvent)
			if !ok {
				t.Fatalf("expected *ResponseEvent, got %T", received)
			}
			if resp.Content != "Hello" {
				t.Errorf("expected 'Hello', got %q", resp.Content)
			}
		case <-time.After(time.Second):
			t.Error("timeout waiting for event")
		}
	})

	t.Run("multiple subscribers each receive all events", func(t *testing.T) {
		r := NewRouter(10)
		defer r.Close()

		subs := []<-chan Event{r.Subscribe(), r.Subscribe(), r.Subscribe()}
		for _, text := range []string{"one", "two", "three"} {
			r.Emit(testResponse(text))
		}

		for i, ch := range subs {
			if len(ch) != 3 {
				t.Errorf("subscriber %d: expected 3 events, got %d", i, len(ch))
			}
		}
	})

	t.Run("nil event is ignored", func(t *testing.T) {
		r := NewRouter(10)
		defer r.Close()

		ch := r.Subscribe()
		r.Emit(nil)
		if len(ch) != 0 {
			t.Errorf("expected no events, got %d", len(ch))
		}
	})

	t.Run("nil router is safe", func(t *testing.T) {
		var r *Router
		r.Emit(testResponse("ignored"))
	})
}

func TestRouterFullSubscriberDoesNotBlock(t *testing.T) {
	r := NewRouter(1)
	defer r.Close()

	slow := r.SubscribeBuffered(1)
	fast := r.SubscribeBuffered(10)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			r.Emit(testResponse("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}

	if len(slow) != 1 {
		t.Errorf("slow subscriber: expected 1 event, got %d", len(slow))
	}
	if len(fast) != 5 {
		t.Errorf("fast subscriber: expected 5 events, got %d", len(fast))
	}
	if got := r.Dropped(); got != 4 {
		t.Errorf("Dropped() = %d, want 4", got)
	}
}

func TestRouterForStream(t *testing.T) {
	r := NewRouter(10)
	defer r.Close()

	ch := r.SubscribeFiltered(10, ForStream("session:a"))

	onA := testResponse("a")
	onA.Stamp("session:a", time.Now())
	onB := testResponse("b")
	onB.Stamp("session:b", time.Now())
	internal := &ConnectionStateEvent{
		BaseEvent: NewInternalEvent(EventConnectionState),
		From:      "idle",
		To:        "connecting",
	}

	r.Emit(onA)
	r.Emit(onB)
	r.Emit(internal)

	if len(ch) != 2 {
		t.Fatalf("expected 2 events, got %d", len(ch))
	}
	if ev := <-ch; ev.Stream() != "session:a" {
		t.Errorf("first event stream = %q, want session:a", ev.Stream())
	}
	if ev := <-ch; ev.Type() != EventConnectionState {
		t.Errorf("second event type = %q, want %q", ev.Type(), EventConnectionState)
	}
}

func TestRouterUnsubscribe(t *testing.T) {
	r := NewRouter(10)
	defer r.Close()

	ch := r.Subscribe()
	r.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}

	// Second unsubscribe is a no-op
	r.Unsubscribe(ch)
	r.Emit(testResponse("after"))
}

func TestRouterClose(t *testing.T) {
	r := NewRouter(10)
	ch := r.Subscribe()

	r.Close()
	r.Close()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}

	late := r.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected subscription after Close to be closed")
	}

	r.Emit(testResponse("after close"))
}

func TestRouterConcurrentEmit(t *testing.T) {
	r := NewRouter(1000)
	defer r.Close()

	ch := r.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Emit(testResponse("concurrent"))
			}
		}()
	}
	wg.Wait()

	if len(ch) != 500 {
		t.Errorf("expected 500 events, got %d", len(ch))
	}
}
