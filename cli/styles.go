package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// HeaderStyle renders table headers.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	// MutedStyle renders secondary detail (paths, hints, timestamps).
	MutedStyle = lipgloss.NewStyle().Faint(true)

	// SuccessStyle renders positive outcomes.
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	// WarnStyle renders cautionary output.
	WarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	// ErrStyle renders failures.
	ErrStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
)

// StatusStyle returns the style for a session status value.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "running":
		return SuccessStyle
	case "idle":
		return MutedStyle
	case "waiting_permission":
		return WarnStyle
	case "dead", "error":
		return ErrStyle
	}
	return lipgloss.NewStyle()
}

// LevelStyle returns the style for a log level name.
func LevelStyle(level string) lipgloss.Style {
	switch level {
	case "ERROR", "FATAL":
		return ErrStyle
	case "WARN", "WARNING":
		return WarnStyle
	case "DEBUG":
		return MutedStyle
	}
	return lipgloss.NewStyle()
}
