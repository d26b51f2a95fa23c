package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/tether/internal/stream"
)

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.inputting {
			return m.handleInputKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case eventMsg:
		m.refresh()
		return m, waitForEvent(m.eventChan)

	case channelClosedMsg:
		return m, tea.Quit

	case tickMsg:
		m.refresh()
		return m, doTick()

	case actionResultMsg:
		if msg.err != nil {
			m.notice = msg.action + " failed: " + msg.err.Error()
		} else {
			m.notice = ""
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes keyboard input outside input mode.
func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.onQuit != nil {
			m.onQuit()
		}
		return m, tea.Quit

	case "i":
		if m.onInput == nil || m.status.Kind != "session" {
			return m, nil
		}
		m.inputting = true
		cmd := m.input.Focus()
		return m, cmd

	case "s":
		if m.onStop == nil {
			return m, nil
		}
		m.notice = "stopping..."
		return m, runAction("stop", m.onStop)

	case "r":
		if m.onRetry == nil || m.status.Connection != stream.StateFailed {
			return m, nil
		}
		m.notice = "retrying..."
		return m, runAction("retry", m.onRetry)

	case "up", "k":
		m.viewport.SetYOffset(m.viewport.YOffset - 1)
		m.follow = m.viewport.AtBottom()
		return m, nil

	case "down", "j":
		m.viewport.SetYOffset(m.viewport.YOffset + 1)
		m.follow = m.viewport.AtBottom()
		return m, nil

	case "g":
		m.viewport.GotoTop()
		m.follow = m.viewport.AtBottom()
		return m, nil

	case "G":
		m.viewport.GotoBottom()
		m.follow = true
		return m, nil
	}

	return m, nil
}

// handleInputKey processes keys while the input line has focus.
func (m model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.inputting = false
		m.input.Blur()
		m.input.Reset()
		return m, nil

	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		m.inputting = false
		m.input.Blur()
		m.input.Reset()
		if text == "" {
			return m, nil
		}
		send := m.onInput
		return m, runAction("input", func() error { return send(text) })

	case tea.KeyCtrlC:
		if m.onQuit != nil {
			m.onQuit()
		}
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}
