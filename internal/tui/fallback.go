package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/npratt/tether/internal/events"
	"github.com/npratt/tether/internal/stream"
)

// ErrStreamLost is returned by RunPlain when the stream gives up while the
// TUI is configured to exit on a terminal status.
var ErrStreamLost = errors.New("event stream lost")

// isTerminal returns true if both stdout and stdin are TTYs.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

// terminalSize returns the current terminal width and height.
// Returns 0, 0 if the terminal size cannot be determined.
func terminalSize() (width, height int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0, 0
	}
	return width, height
}

// terminalTooSmall returns true if the terminal is below the minimum size.
func terminalTooSmall() bool {
	width, height := terminalSize()
	return width < minWidth || height < minHeight
}

// RunPlain writes one line per event to w for non-interactive environments.
// It returns when ctx is cancelled, the channel closes, or (with
// WithExitOnTerminal) the followed execution ends.
func (t *TUI) RunPlain(ctx context.Context, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-t.eventChan:
			if !ok {
				return nil
			}
			if !printable(event) {
				continue
			}

			text := events.Format(event)
			if text == "" {
				continue
			}
			fmt.Fprintf(w, "%s %s\n", event.Timestamp().Local().Format("15:04:05"), text)

			if !t.exitOnTerminal {
				continue
			}
			if done, err := t.finished(event); done {
				return err
			}
		}
	}
}

// printable drops echoes of wire events. Controllers re-emit stream
// responses as messages, so only locally authored messages are new.
func printable(event events.Event) bool {
	if m, ok := event.(*events.MessageEvent); ok {
		return m.Local
	}
	return true
}

// finished reports whether event ends the followed execution.
func (t *TUI) finished(event events.Event) (bool, error) {
	switch e := event.(type) {
	case *events.SessionStatusEvent:
		if t.source != nil && e.SessionID != t.source.Status().ID {
			return false, nil
		}
		switch e.To {
		case "completed", "stopped":
			return true, nil
		case "failed":
			if e.Error != "" {
				return true, errors.New(e.Error)
			}
			return true, errors.New("execution failed")
		}
	case *events.ConnectionStateEvent:
		if e.To == string(stream.StateFailed) {
			return true, fmt.Errorf("%w: %s", ErrStreamLost, e.LastError)
		}
	}
	return false, nil
}
