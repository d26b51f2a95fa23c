package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTailLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	var lines []string
	for i := 1; i <= 5; i++ {
		lines = append(lines, fmt.Sprintf(`{"type":"agent_response","timestamp":"2026-03-01T10:00:0%dZ","content":"line %d"}`, i, i))
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := tailLast(&buf, path, 2); err != nil {
		t.Fatalf("tailLast() error: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "line 3") {
		t.Errorf("should only show the last 2 lines: %q", out)
	}
	if !strings.Contains(out, "agent_response: line 4") || !strings.Contains(out, "agent_response: line 5") {
		t.Errorf("missing last lines: %q", out)
	}
}

func TestTailLast_MissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	if err := tailLast(&buf, filepath.Join(dir, "missing.log"), 10); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "does not exist") {
		t.Errorf("output = %q", buf.String())
	}

	empty := filepath.Join(dir, "empty.log")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := tailLast(&buf, empty, 10); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No events yet") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestPrintEventLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "connection change",
			line: `{"type":"connection.state_changed","from":"connected","to":"reconnecting","last_error":"EOF"}`,
			want: "connection.state_changed: connected -> reconnecting (EOF)",
		},
		{
			name: "session status",
			line: `{"type":"session.status","session_id":"s1","from":"running","to":"completed"}`,
			want: "session.status: s1 running -> completed",
		},
		{
			name: "message content",
			line: `{"type":"session.message","content":"hello"}`,
			want: "session.message: hello",
		},
		{
			name: "no detail",
			line: `{"type":"session_complete"}`,
			want: "session_complete",
		},
		{
			name: "not json",
			line: "plain text",
			want: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printEventLine(&buf, tt.line)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("printEventLine() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestTailFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	if err := os.WriteFile(path, []byte(`{"type":"old","content":"before"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- tailFollow(ctx, out, path) }()

	// Give tailFollow time to seek to the end before appending.
	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"type":"new","content":"after"}` + "\n")
	_ = f.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "after") && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("tailFollow() error: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "new: after") {
		t.Errorf("appended line missing: %q", got)
	}
	if strings.Contains(got, "before") {
		t.Errorf("existing lines should be skipped: %q", got)
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
