package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/tether/internal/events"
)

// refreshInterval re-reads the source between events so countdowns and
// missed redraws catch up.
const refreshInterval = time.Second

// Layout overhead: border (2), header (2), dividers (2), footer (1).
const chromeHeight = 7

// eventMsg wraps an event received from the event channel.
type eventMsg events.Event

// channelClosedMsg indicates the event channel has been closed.
type channelClosedMsg struct{}

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// actionResultMsg reports the outcome of a user action callback.
type actionResultMsg struct {
	action string
	err    error
}

// model is the bubbletea model for the dashboard.
type model struct {
	eventChan <-chan events.Event
	source    Source
	status    Status

	viewport  viewport.Model
	spinner   spinner.Model
	input     textinput.Model
	inputting bool
	notice    string
	follow    bool

	width  int
	height int

	onInput func(string) error
	onStop  func() error
	onRetry func() error
	onQuit  func()
}

func newModel(t *TUI) model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = styles.ConnBusy

	in := textinput.New()
	in.Placeholder = "message to the agent"
	in.Prompt = "> "
	in.CharLimit = 4000

	m := model{
		eventChan: t.eventChan,
		source:    t.source,
		viewport:  viewport.New(0, 0),
		spinner:   sp,
		input:     in,
		follow:    true,
		onInput:   t.onInput,
		onStop:    t.onStop,
		onRetry:   t.onRetry,
		onQuit:    t.onQuit,
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.eventChan),
		doTick(),
		m.spinner.Tick,
	)
}

// refresh re-reads the source and rebuilds the viewport content.
func (m *model) refresh() {
	if m.source == nil {
		return
	}
	m.status = m.source.Status()
	m.viewport.SetContent(renderLines(m.status.Lines, m.viewport.Width))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// resize applies a new terminal size to the viewport.
func (m *model) resize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = max(width-4, 1)
	m.viewport.Height = max(height-chromeHeight, 1)
	m.input.Width = max(width-8, 10)
	m.refresh()
}

// waitForEvent returns a command that waits for the next event from the channel.
func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		if ch == nil {
			return channelClosedMsg{}
		}
		event, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return eventMsg(event)
	}
}

// doTick returns a command that sends a tick message after refreshInterval.
func doTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runAction runs a callback off the update loop.
func runAction(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{action: action, err: fn()}
	}
}
