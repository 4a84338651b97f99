package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState is the latest /healthz poll.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	WorkerState   string
	QueueDepth    int
	EngineState   string
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, activity Activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	clock := theme.Dim.Render(now.Format("15:04:05"))
	title := " URCLGW WATCH"
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	worker := orUnknown(health.WorkerState)
	engine := orUnknown(health.EngineState)
	statsLine := fmt.Sprintf(" %s  up %s  worker: %s  engine: %s  queue: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		theme.statusStyle(worker).Render(worker),
		theme.statusStyle(engine).Render(engine),
		health.QueueDepth,
	)

	lastEvent := "never"
	if !activity.Last().IsZero() {
		lastEvent = now.Sub(activity.Last()).Round(time.Second).String() + " ago"
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme, now))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
