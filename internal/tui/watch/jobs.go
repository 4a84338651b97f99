package watch

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/urclgw/internal/events"
)

const maxTrackedJobs = 100

// JobState is one job as seen through the event stream.
type JobState struct {
	ID        string
	Name      string
	Origin    string
	Status    string
	ErrorKind string
	Lines     int
	Queued    time.Time
	Started   time.Time
	Ended     time.Time
}

// trackJob applies e to jobs. It reports whether e concerned a job.
func trackJob(jobs map[string]*JobState, e events.Event) bool {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	id, _ := data["job_id"].(string)
	if id == "" {
		return false
	}

	j, ok := jobs[id]
	if !ok {
		j = &JobState{ID: id}
		jobs[id] = j
	}
	if name, ok := data["name"].(string); ok && name != "" {
		j.Name = name
	}
	if origin, ok := data["origin"].(string); ok {
		j.Origin = origin
	}

	switch e.Type {
	case events.JobQueued:
		if j.Status == "" {
			j.Status = "queued"
		}
		j.Queued = e.At
	case events.JobStarted:
		j.Status = "executing"
		j.Started = e.At
	case events.JobSucceeded:
		j.Status = "succeeded"
		j.Ended = e.At
		if n, ok := data["lines"].(float64); ok {
			j.Lines = int(n)
		}
	case events.JobFailed:
		j.Status = "failed"
		j.Ended = e.At
		j.ErrorKind, _ = data["error_kind"].(string)
	}

	prune(jobs)
	return true
}

// prune drops the oldest finished jobs beyond maxTrackedJobs.
func prune(jobs map[string]*JobState) {
	if len(jobs) <= maxTrackedJobs {
		return
	}
	ordered := sortedJobs(jobs)
	for _, j := range ordered[maxTrackedJobs:] {
		delete(jobs, j.ID)
	}
}

// sortedJobs orders newest activity first.
func sortedJobs(jobs map[string]*JobState) []*JobState {
	out := make([]*JobState, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		ta, tb := out[a].lastSeen(), out[b].lastSeen()
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func (j *JobState) lastSeen() time.Time {
	for _, t := range []time.Time{j.Ended, j.Started, j.Queued} {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func (j *JobState) duration(now time.Time) string {
	switch {
	case j.Started.IsZero():
		return "-"
	case j.Ended.IsZero():
		return now.Sub(j.Started).Round(time.Millisecond).String()
	default:
		return j.Ended.Sub(j.Started).Round(time.Millisecond).String()
	}
}

func newJobTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 10},
			{Title: "Name", Width: 24},
			{Title: "Status", Width: 10},
			{Title: "Result", Width: 30},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func jobRows(jobs map[string]*JobState, now time.Time) []table.Row {
	ordered := sortedJobs(jobs)
	rows := make([]table.Row, 0, len(ordered))
	for _, j := range ordered {
		result := ""
		switch j.Status {
		case "succeeded":
			result = itoaLines(j.Lines)
		case "failed":
			result = j.ErrorKind
		}
		rows = append(rows, table.Row{shortID(j.ID), j.Name, j.Status, result, j.duration(now)})
	}
	return rows
}

func itoaLines(n int) string {
	if n == 1 {
		return "1 line"
	}
	return strconv.Itoa(n) + " lines"
}
