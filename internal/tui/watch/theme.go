// Package watch implements the tsmon watch TUI: a live view of the trusted
// service slots, the pending caller and the event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	// Slot states
	StateIdle     lipgloss.Style
	StateBusy     lipgloss.Style
	StateStarting lipgloss.Style
	StateStopped  lipgloss.Style

	// Call statuses
	StatusOK     lipgloss.Style
	StatusFailed lipgloss.Style

	// UI elements
	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	// Indicators
	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StateIdle:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StateBusy:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StateStarting: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		StateStopped:  lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		StatusOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}
