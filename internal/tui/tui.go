// Package tui provides a terminal dashboard for following an execution using
// bubbletea. The dashboard only observes: it reads controller snapshots and
// hands user actions back through callbacks.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/tether/internal/events"
)

// TUI is the terminal dashboard for one execution.
type TUI struct {
	eventChan <-chan events.Event
	source    Source

	onInput func(string) error
	onStop  func() error
	onRetry func() error
	onQuit  func()

	exitOnTerminal bool
}

// Option configures the TUI.
type Option func(*TUI)

// New creates a TUI that redraws whenever an event arrives on eventChan and
// reads what to draw from source.
func New(eventChan <-chan events.Event, source Source, opts ...Option) *TUI {
	t := &TUI{
		eventChan: eventChan,
		source:    source,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithOnInput sets the callback invoked when the user submits input.
func WithOnInput(fn func(string) error) Option {
	return func(t *TUI) {
		t.onInput = fn
	}
}

// WithOnStop sets the callback invoked when the user presses 's'.
func WithOnStop(fn func() error) Option {
	return func(t *TUI) {
		t.onStop = fn
	}
}

// WithOnRetry sets the callback invoked when the user presses 'r'.
func WithOnRetry(fn func() error) Option {
	return func(t *TUI) {
		t.onRetry = fn
	}
}

// WithOnQuit sets the callback invoked when the user quits.
func WithOnQuit(fn func()) Option {
	return func(t *TUI) {
		t.onQuit = fn
	}
}

// WithExitOnTerminal makes the plain follower return once the execution
// reaches a terminal status.
func WithExitOnTerminal() Option {
	return func(t *TUI) {
		t.exitOnTerminal = true
	}
}

// Interactive reports whether the dashboard can take over the terminal.
func Interactive() bool {
	return isTerminal() && !terminalTooSmall()
}

// Run starts the dashboard and blocks until it exits.
func (t *TUI) Run() error {
	m := newModel(t)

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
