package api

import (
	"time"

	"github.com/mattjoyce/urclgw/internal/history"
)

// SubmitRequest is the JSON body for POST /jobs. Exactly one of Source or
// Attachment must be set.
type SubmitRequest struct {
	Name       string             `json:"name,omitempty"`
	Language   string             `json:"language,omitempty"`
	OutputType string             `json:"output_type,omitempty"`
	Tier       string             `json:"tier,omitempty"`
	Origin     string             `json:"origin,omitempty"`
	Source     string             `json:"source,omitempty"`
	Attachment *AttachmentRequest `json:"attachment,omitempty"`
}

// AttachmentRequest references remote source text.
type AttachmentRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size"`
}

// SubmitResponse is returned when a job is accepted but not waited on.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Name   string `json:"name"`
}

// JobResultResponse is returned by POST /jobs?wait=true.
type JobResultResponse struct {
	JobID        string    `json:"job_id"`
	Name         string    `json:"name"`
	Origin       string    `json:"origin,omitempty"`
	Status       string    `json:"status"`
	Lines        []string  `json:"lines"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs []history.Entry `json:"jobs"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	WorkerState   string `json:"worker_state"`
	QueueDepth    int    `json:"queue_depth"`
	EngineState   string `json:"engine_state"`
}
