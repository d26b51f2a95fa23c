package tui

import "github.com/charmbracelet/lipgloss"

// styles contains all lipgloss styles used by the TUI.
var styles = struct {
	// Layout styles
	Container lipgloss.Style
	Divider   lipgloss.Style

	// Header styles
	Title    lipgloss.Style
	Progress lipgloss.Style
	Task     lipgloss.Style

	// Footer style
	Footer lipgloss.Style
	Notice lipgloss.Style

	// Body styles by line kind
	User   lipgloss.Style
	Agent  lipgloss.Style
	System lipgloss.Style
	Error  lipgloss.Style
	Log    lipgloss.Style

	// Execution status badges
	ExecRunning   lipgloss.Style
	ExecCompleted lipgloss.Style
	ExecFailed    lipgloss.Style
	ExecIdle      lipgloss.Style

	// Connection badges, kept visually apart from execution status
	ConnUp    lipgloss.Style
	ConnBusy  lipgloss.Style
	ConnDown  lipgloss.Style
	ConnIdle  lipgloss.Style
}{
	Container: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")),

	Divider: lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")),

	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")),

	Progress: lipgloss.NewStyle().
		Foreground(lipgloss.Color("220")),

	Task: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Footer: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Notice: lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")),

	User: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("177")),

	Agent: lipgloss.NewStyle().
		Foreground(lipgloss.Color("252")),

	System: lipgloss.NewStyle().
		Foreground(lipgloss.Color("114")),

	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),

	Log: lipgloss.NewStyle().
		Foreground(lipgloss.Color("250")),

	ExecRunning: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("82")),

	ExecCompleted: lipgloss.NewStyle().
		Foreground(lipgloss.Color("114")),

	ExecFailed: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("196")),

	ExecIdle: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	ConnUp: lipgloss.NewStyle().
		Foreground(lipgloss.Color("78")),

	ConnBusy: lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")),

	ConnDown: lipgloss.NewStyle().
		Foreground(lipgloss.Color("203")),

	ConnIdle: lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")),
}

// lineStyle returns the body style for a line kind.
func lineStyle(kind string) lipgloss.Style {
	switch kind {
	case "user":
		return styles.User
	case "agent", "agent-status":
		return styles.Agent
	case "error":
		return styles.Error
	case "log":
		return styles.Log
	default:
		return styles.System
	}
}

// execStyle returns the badge style for an execution status.
func execStyle(status string) lipgloss.Style {
	switch status {
	case "running", "pending":
		return styles.ExecRunning
	case "completed":
		return styles.ExecCompleted
	case "failed":
		return styles.ExecFailed
	default:
		return styles.ExecIdle
	}
}
