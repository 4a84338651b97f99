package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/urclgw/internal/events"
)

const visibleEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, visibleEvents)
	for _, e := range eventLog[:min(len(eventLog), visibleEvents)] {
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	var typeStyle lipgloss.Style
	switch e.Type {
	case events.JobSucceeded:
		typeStyle = theme.StatusOK
	case events.JobFailed:
		typeStyle = theme.StatusFailed
	case events.JobStarted, events.WorkerActive:
		typeStyle = theme.StatusRunning
	case events.JobQueued:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		typeStyle.Render(fmt.Sprintf("%-14s", e.Type)),
		describeEvent(e),
	)
}

func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["job_id"].(string); ok {
		parts = append(parts, "["+shortID(id)+"]")
	}
	if name, ok := data["name"].(string); ok && name != "" {
		parts = append(parts, name)
	}
	if kind, ok := data["error_kind"].(string); ok {
		parts = append(parts, kind)
	}
	if n, ok := data["lines"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d lines", int(n)))
	}
	if q, ok := data["queued"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d queued", int(q)))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
