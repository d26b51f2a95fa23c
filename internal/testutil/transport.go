// Package testutil provides test infrastructure for unit and integration testing.
// It includes a scripted stream transport, frame fixtures, and helpers that
// other packages use for testing.
package testutil

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/npratt/tether/internal/sse"
	"github.com/npratt/tether/internal/stream"
)

// WaitTimeout bounds every blocking expectation in this package.
const WaitTimeout = 2 * time.Second

// FakeTransport implements stream.Transport. Every Open call is handed to the
// test through Expect, which decides whether it succeeds.
type FakeTransport struct {
	opens chan *PendingOpen
}

// Compile-time interface check
var _ stream.Transport = (*FakeTransport)(nil)

// PendingOpen is an Open call waiting for the test's verdict.
type PendingOpen struct {
	Key         string
	LastEventID string

	reply chan openReply
}

type openReply struct {
	conn stream.Conn
	err  error
}

// NewFakeTransport creates a FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{opens: make(chan *PendingOpen, 16)}
}

// Open implements stream.Transport.
func (f *FakeTransport) Open(ctx context.Context, key, lastEventID string) (stream.Conn, error) {
	o := &PendingOpen{Key: key, LastEventID: lastEventID, reply: make(chan openReply, 1)}
	f.opens <- o
	select {
	case r := <-o.reply:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expect waits for the next Open call.
func (f *FakeTransport) Expect(t *testing.T) *PendingOpen {
	t.Helper()
	select {
	case o := <-f.opens:
		return o
	case <-time.After(WaitTimeout):
		t.Fatal("timed out waiting for stream open")
		return nil
	}
}

// ExpectNone fails the test if an Open call arrives shortly.
func (f *FakeTransport) ExpectNone(t *testing.T) {
	t.Helper()
	select {
	case o := <-f.opens:
		t.Fatalf("unexpected stream open for %q", o.Key)
	case <-time.After(50 * time.Millisecond):
	}
}

// Accept lets the Open succeed and returns the connection for scripting.
func (o *PendingOpen) Accept() *FakeConn {
	c := NewFakeConn()
	o.reply <- openReply{conn: c}
	return c
}

// Reject fails the Open with err.
func (o *PendingOpen) Reject(err error) {
	o.reply <- openReply{err: err}
}

// FakeConn is a scripted stream.Conn.
type FakeConn struct {
	frames    chan sse.Frame
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

// NewFakeConn creates an open FakeConn.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		frames: make(chan sse.Frame, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

// Next implements stream.Conn.
func (c *FakeConn) Next() (sse.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		return sse.Frame{}, err
	case <-c.closed:
		return sse.Frame{}, io.ErrClosedPipe
	}
}

// Close implements stream.Conn.
func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Send queues frames for delivery.
func (c *FakeConn) Send(frames ...sse.Frame) {
	for _, f := range frames {
		c.frames <- f
	}
}

// Fail makes the next read return err once queued frames are drained.
func (c *FakeConn) Fail(err error) {
	c.errs <- err
}

// EOF ends the stream as if the server hung up.
func (c *FakeConn) EOF() {
	c.errs <- io.EOF
}

// Closed reports whether the client closed the connection.
func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// WaitClosed fails the test if the client does not close the connection.
func (c *FakeConn) WaitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(WaitTimeout):
		t.Fatal("connection was not closed")
	}
}
