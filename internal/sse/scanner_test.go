package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func collect(t *testing.T, input string) ([]Frame, error) {
	t.Helper()
	s := NewScanner(strings.NewReader(input))
	var frames []Frame
	for s.Next() {
		frames = append(frames, s.Frame())
	}
	return frames, s.Err()
}

func TestScanner(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Frame
	}{
		{
			name:  "single data frame",
			input: "data: {\"type\":\"agent_response\"}\n\n",
			want:  []Frame{{Data: `{"type":"agent_response"}`}},
		},
		{
			name:  "named event with id",
			input: "event: progress\nid: 7\ndata: {\"progress\":40}\n\n",
			want:  []Frame{{Event: "progress", ID: "7", Data: `{"progress":40}`}},
		},
		{
			name:  "multi-line data joined with newline",
			input: "data: line1\ndata: line2\n\n",
			want:  []Frame{{Data: "line1\nline2"}},
		},
		{
			name:  "heartbeat comments skipped",
			input: ": ping\n\n: ping\ndata: x\n\n",
			want:  []Frame{{Data: "x"}},
		},
		{
			name:  "crlf line endings",
			input: "event: log\r\ndata: hi\r\n\r\n",
			want:  []Frame{{Event: "log", Data: "hi"}},
		},
		{
			name:  "no space after colon",
			input: "data:{\"a\":1}\n\n",
			want:  []Frame{{Data: `{"a":1}`}},
		},
		{
			name:  "trailing frame without blank line",
			input: "data: one\n\ndata: two",
			want:  []Frame{{Data: "one"}, {Data: "two"}},
		},
		{
			name:  "event name without data does not leak into next frame",
			input: "event: status\n\ndata: plain\n\n",
			want:  []Frame{{Data: "plain"}},
		},
		{
			name:  "unknown fields ignored",
			input: "retry: 1000\nfoo: bar\ndata: ok\n\n",
			want:  []Frame{{Data: "ok"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collect(t, tt.input)
			if err != nil {
				t.Fatalf("Err() = %v, want nil", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d frames %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("frame %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

type failingReader struct {
	data string
	err  error
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, r.err
	}
	r.done = true
	return copy(p, r.data), nil
}

func TestScannerReadError(t *testing.T) {
	wantErr := errors.New("connection reset")
	s := NewScanner(&failingReader{data: "data: first\n\ndata: partial", err: wantErr})

	if !s.Next() {
		t.Fatal("expected first frame")
	}
	if s.Frame().Data != "first" {
		t.Errorf("Data = %q, want %q", s.Frame().Data, "first")
	}
	if s.Next() {
		t.Errorf("partial frame dispatched after read error: %+v", s.Frame())
	}
	if !errors.Is(s.Err(), wantErr) {
		t.Errorf("Err() = %v, want %v", s.Err(), wantErr)
	}
}

func TestScannerCleanEOF(t *testing.T) {
	s := NewScanner(io.LimitReader(strings.NewReader(""), 0))
	if s.Next() {
		t.Error("Next() = true on empty stream")
	}
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil", s.Err())
	}
}

func TestScannerOversizedFrame(t *testing.T) {
	big := strings.Repeat("x", 2*maxLineSize)
	input := "id: 7\ndata: " + big + "\n\n" +
		": " + big + "\n" +
		"id: 8\ndata: after\n\n"

	got, err := collect(t, input)
	if err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if !errors.Is(got[0].Err, ErrFrameTooLarge) {
		t.Errorf("frame 0 Err = %v, want %v", got[0].Err, ErrFrameTooLarge)
	}
	if got[0].ID != "7" || got[0].Data != "" {
		t.Errorf("frame 0 = {ID:%q Data:%d bytes}, want ID 7 and no data", got[0].ID, len(got[0].Data))
	}
	want := Frame{ID: "8", Data: "after"}
	if got[1] != want {
		t.Errorf("frame 1 = %+v, want %+v", got[1], want)
	}
}

func TestScannerOversizedJoinedData(t *testing.T) {
	half := strings.Repeat("y", maxLineSize/2+10)
	input := "data: " + half + "\ndata: " + half + "\n\ndata: ok\n\n"

	got, err := collect(t, input)
	if err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if !errors.Is(got[0].Err, ErrFrameTooLarge) {
		t.Errorf("frame 0 Err = %v, want %v", got[0].Err, ErrFrameTooLarge)
	}
	if got[1].Data != "ok" || got[1].Err != nil {
		t.Errorf("frame 1 = %+v, want Data ok", got[1])
	}
}
