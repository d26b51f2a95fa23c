package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/tether/internal/stream"
)

const (
	minWidth  = 60
	minHeight = 15
)

// View implements tea.Model.
func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.width < minWidth || m.height < minHeight {
		return m.renderTooSmall()
	}

	inner := m.width - 4
	var b strings.Builder
	b.WriteString(m.renderHeader(inner))
	b.WriteString("\n")
	b.WriteString(m.renderDivider(inner))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderDivider(inner))
	b.WriteString("\n")
	b.WriteString(m.renderFooter(inner))

	return styles.Container.
		Width(m.width - 2).
		Padding(0, 1).
		Render(b.String())
}

// renderHeader draws the title row and the progress row.
func (m model) renderHeader(width int) string {
	st := m.status

	id := st.ID
	if id == "" {
		id = "(none)"
	}
	exec := st.Execution
	if exec == "" {
		exec = "idle"
	}
	left := styles.Title.Render(st.Kind+" "+id) + "  " + execStyle(exec).Render("["+exec+"]")
	right := m.renderConnection()
	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	title := left + strings.Repeat(" ", gap) + right

	var parts []string
	if st.Progress != "" {
		parts = append(parts, styles.Progress.Render(st.Progress))
	}
	if st.CurrentTask != "" {
		parts = append(parts, styles.Task.Render("task: "+st.CurrentTask))
	}
	if st.Error != "" {
		parts = append(parts, styles.Error.Render("error: "+st.Error))
	}
	detail := truncateWidth(strings.Join(parts, "  "), width)

	return title + "\n" + detail
}

// renderConnection draws the connection badge. It never reuses the execution
// status wording so a dropped stream is not mistaken for a failed run.
func (m model) renderConnection() string {
	st := m.status
	switch st.Connection {
	case stream.StateConnected:
		return styles.ConnUp.Render("● live")
	case stream.StateConnecting:
		return m.spinner.View() + styles.ConnBusy.Render(" connecting")
	case stream.StateReconnecting:
		text := fmt.Sprintf(" reconnecting %d/%d", st.Reconnect.Attempt, st.Reconnect.MaxAttempts)
		if st.Reconnect.NextDelay > 0 {
			text += fmt.Sprintf(", retry in %s", st.Reconnect.NextDelay.Round(100*time.Millisecond))
		}
		return m.spinner.View() + styles.ConnBusy.Render(text)
	case stream.StateFailed:
		return styles.ConnDown.Render("✗ stream lost, r: retry")
	default:
		return styles.ConnIdle.Render("○ offline")
	}
}

// renderDivider draws a horizontal line.
func (m model) renderDivider(width int) string {
	return styles.Divider.Render(strings.Repeat("─", max(width, 0)))
}

// renderFooter draws the input line, the last action notice, or key help.
func (m model) renderFooter(width int) string {
	if m.inputting {
		return m.input.View()
	}
	if m.notice != "" {
		return styles.Notice.Render(truncateWidth(m.notice, width))
	}

	keys := []string{"q: quit"}
	if m.onInput != nil && m.status.Kind == "session" {
		keys = append(keys, "i: input")
	}
	if m.onStop != nil {
		keys = append(keys, "s: stop")
	}
	if m.onRetry != nil && m.status.Connection == stream.StateFailed {
		keys = append(keys, "r: retry")
	}
	keys = append(keys, "↑/↓: scroll", "G: follow")
	return styles.Footer.Render(truncateWidth(strings.Join(keys, "  "), width))
}

func (m model) renderTooSmall() string {
	msg := fmt.Sprintf("Terminal too small (%dx%d)\nNeed at least %dx%d", m.width, m.height, minWidth, minHeight)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, msg)
}

// renderLines formats body lines wrapped to width.
func renderLines(lines []Line, width int) string {
	if len(lines) == 0 {
		return styles.Footer.Render("waiting for activity...")
	}
	wrap := max(width, 20)
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		text := l.Text
		switch l.Kind {
		case "user":
			text = "you: " + text
		case "error":
			text = "error: " + text
		}
		out = append(out, lineStyle(l.Kind).Width(wrap).Render(text))
	}
	return strings.Join(out, "\n")
}

// truncateWidth shortens s to at most width display cells.
func truncateWidth(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}
