package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default channel buffer size for subscribers.
const DefaultBufferSize = 100

// Filter selects which events a subscriber receives.
type Filter func(Event) bool

// ForStream returns a Filter that passes internal events and events received
// on the given stream key.
func ForStream(key string) Filter {
	return func(ev Event) bool {
		return ev.Stream() == "" || ev.Stream() == key
	}
}

// subscriberEntry holds a subscriber channel and its metadata.
type subscriberEntry struct {
	ch     chan Event
	filter Filter
}

// Router fans events out from the connection manager and controllers to the
// dashboard, the log sink, and the state sink. Producers never block on a
// slow consumer.
type Router struct {
	subscribers []subscriberEntry
	bufferSize  int
	mu          sync.RWMutex
	closed      bool
	dropped     atomic.Int64
}

// NewRouter creates a new event router with the specified default buffer size.
// If bufferSize is 0 or negative, DefaultBufferSize is used.
func NewRouter(bufferSize int) *Router {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Router{
		bufferSize: bufferSize,
	}
}

// Emit publishes an event to all matching subscribers.
// Events are sent non-blocking: if a subscriber's channel is full, the event
// is dropped for that subscriber and counted.
// Emit is safe to call concurrently, on a nil Router, and after Close.
func (r *Router) Emit(event Event) {
	if r == nil || event == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	for _, sub := range r.subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			r.dropped.Add(1)
			slog.Warn("event dropped: subscriber channel full",
				"event_type", event.Type(),
				"stream", event.Stream(),
			)
		}
	}
}

// Subscribe returns a channel that receives all emitted events.
// The returned channel is closed when the router is closed.
func (r *Router) Subscribe() <-chan Event {
	return r.SubscribeFiltered(r.bufferSize, nil)
}

// SubscribeBuffered returns a channel with the specified buffer size.
func (r *Router) SubscribeBuffered(size int) <-chan Event {
	return r.SubscribeFiltered(size, nil)
}

// SubscribeFiltered returns a channel that receives only events passing
// filter. A nil filter passes everything.
func (r *Router) SubscribeFiltered(size int, filter Filter) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	if size <= 0 {
		size = r.bufferSize
	}
	ch := make(chan Event, size)
	r.subscribers = append(r.subscribers, subscriberEntry{ch: ch, filter: filter})
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// It is safe to call with a channel that was never subscribed or already unsubscribed.
func (r *Router) Unsubscribe(ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subscribers {
		if sub.ch == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

// Close closes all subscriber channels and marks the router as closed.
// Close is safe to call multiple times.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true
	for _, sub := range r.subscribers {
		close(sub.ch)
	}
	r.subscribers = nil
}
