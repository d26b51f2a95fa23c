// Package sse reads server-sent event frames from a long-lived HTTP response.
package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// maxLineSize bounds a single "data:" line and the joined data of one frame.
// Agent responses can be large.
const maxLineSize = 1024 * 1024

// ErrFrameTooLarge is set on a Frame whose data went over the size limit.
// The data is dropped but the stream stays readable.
var ErrFrameTooLarge = errors.New("sse: frame exceeds size limit")

// Frame is one dispatched server-sent event.
type Frame struct {
	// Event is the "event:" field, or "" for the default channel.
	Event string
	// ID is the "id:" field, or "" if the frame carried none.
	ID string
	// Data is the payload; multiple data lines are joined with "\n".
	Data string
	// Err is ErrFrameTooLarge when Data was discarded, nil otherwise.
	Err error
}

// Scanner splits an event stream into frames. Comment lines (":" prefix,
// used by servers as heartbeats) and unknown fields are ignored.
//
//	s := sse.NewScanner(resp.Body)
//	for s.Next() {
//		handle(s.Frame())
//	}
//	if err := s.Err(); err != nil { ... }
type Scanner struct {
	r       *bufio.Reader
	current Frame
	err     error
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next frame. It returns false at end of stream or on
// a read error; Err distinguishes the two. A trailing frame without a final
// blank line is still dispatched. A frame over the size limit is still
// returned, with its data dropped and Err set.
func (s *Scanner) Next() bool {
	s.current = Frame{}

	var (
		data     []string
		size     int
		event    string
		id       string
		hasData  bool
		tooLarge bool
	)

	dispatch := func() {
		s.current = Frame{Event: event, ID: id}
		if tooLarge {
			s.current.Err = ErrFrameTooLarge
			return
		}
		s.current.Data = strings.Join(data, "\n")
	}

	for {
		line, long, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
				return false
			}
			if hasData {
				dispatch()
				return true
			}
			return false
		}

		if line == "" && !long {
			if hasData {
				dispatch()
				return true
			}
			event = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			hasData = true
			size += len(value) + 1
			if long || size > maxLineSize {
				tooLarge = true
				data = nil
			}
			if !tooLarge {
				data = append(data, value)
			}
		case "event":
			if !long {
				event = value
			}
		case "id":
			// An id containing NUL is ignored, as browsers do.
			if !long && !strings.ContainsRune(value, 0) {
				id = value
			}
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineSize is consumed up to its newline and returned as a short prefix
// with long set, so the field name can still be read.
func (s *Scanner) readLine() (line string, long bool, err error) {
	var buf []byte
	for {
		chunk, err := s.r.ReadSlice('\n')
		if !long {
			if len(buf)+len(chunk) > maxLineSize+2 {
				long = true
				buf = append(buf, chunk[:min(len(chunk), 64)]...)
				buf = buf[:min(len(buf), 64)]
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil:
		case errors.Is(err, io.EOF) && (len(buf) > 0 || long):
			// Final line without a terminator; the next call reports EOF.
		default:
			return "", false, err
		}
		line = strings.TrimSuffix(string(buf), "\n")
		return strings.TrimSuffix(line, "\r"), long, nil
	}
}

// Frame returns the frame produced by the last successful Next.
func (s *Scanner) Frame() Frame {
	return s.current
}

// Err returns the read error that stopped the scan, or nil on clean EOF.
func (s *Scanner) Err() error {
	return s.err
}
