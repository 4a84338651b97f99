// Package watch implements the `urclgw system watch` TUI: live worker,
// engine and queue status plus recent jobs, fed by the API's event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds every style the TUI uses.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusQueued  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	DotOn  lipgloss.Style
	DotOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusQueued:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		DotOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		DotOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// statusStyle picks the style for a job or worker status word.
func (t Theme) statusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded", "idle", "running":
		return t.StatusOK
	case "active", "executing":
		return t.StatusRunning
	case "failed", "exited":
		return t.StatusFailed
	default:
		return t.StatusQueued
	}
}
