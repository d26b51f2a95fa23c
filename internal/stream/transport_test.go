package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTransportURL(t *testing.T) {
	tests := []struct {
		base, path, key, want string
	}{
		{"http://h/api", "/sessions/{id}/stream", "s1", "http://h/api/sessions/s1/stream"},
		{"http://h/api/", "/stream/{id}", "x-9", "http://h/api/stream/x-9"},
		{"http://h/api", "/stream/{id}", "a/b", "http://h/api/stream/a%2Fb"},
	}
	for _, tt := range tests {
		tr := NewHTTPTransport(nil, tt.base, tt.path)
		if got := tr.URL(tt.key); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestHTTPTransportReadsFrames(t *testing.T) {
	reqs := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r.Clone(context.Background())
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "id: 7\ndata: {\"type\":\"task_start\"}\n\n")
		fmt.Fprint(w, "event: progress\ndata: {\"progress\":50}\n\n")
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.Client(), srv.URL+"/api", "/sessions/{id}/stream")
	conn, err := tr.Open(context.Background(), "s1", "6")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = conn.Close() }()

	f, err := conn.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.ID != "7" || f.Data != `{"type":"task_start"}` {
		t.Errorf("first frame = %+v", f)
	}

	f, err = conn.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Event != "progress" {
		t.Errorf("second frame event = %q, want progress", f.Event)
	}

	if _, err := conn.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next at end = %v, want io.EOF", err)
	}

	r := <-reqs
	if got := r.Header.Get("Accept"); got != "text/event-stream" {
		t.Errorf("Accept = %q", got)
	}
	if got := r.Header.Get("Last-Event-ID"); got != "6" {
		t.Errorf("Last-Event-ID = %q, want 6", got)
	}
	if got := r.URL.EscapedPath(); got != "/api/sessions/s1/stream" {
		t.Errorf("path = %q", got)
	}
}

func TestHTTPTransportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.Client(), srv.URL, "/stream/{id}")
	_, err := tr.Open(context.Background(), "missing", "")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", se.StatusCode)
	}
	if se.Message != "session not found" {
		t.Errorf("Message = %q", se.Message)
	}
}

func TestHTTPTransportCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewHTTPTransport(srv.Client(), srv.URL, "/stream/{id}")
	if _, err := tr.Open(ctx, "s1", ""); err == nil {
		t.Error("expected error for cancelled context")
	}
}
