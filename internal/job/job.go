package job

import (
	"time"

	"github.com/mattjoyce/urclgw/internal/content"
)

// Job is an accepted compute request. It is never mutated after Build.
type Job struct {
	ID         string
	Name       string
	Language   string
	OutputType string
	Tier       string
	Source     content.Source
	// Origin is an opaque handle owned by the front end; it is carried
	// through to the Result untouched.
	Origin    string
	CreatedAt time.Time
}

// Kind classifies a job failure.
type Kind string

const (
	KindSpawn         Kind = "process_spawn_failure"
	KindConnection    Kind = "connection_failure"
	KindConfiguration Kind = "protocol_configuration_error"
	KindFetch         Kind = "content_fetch_failure"
	KindDisconnect    Kind = "unexpected_disconnect"
	KindInternal      Kind = "internal"
)

// Describe returns a short human-readable summary of the kind.
func (k Kind) Describe() string {
	switch k {
	case KindSpawn:
		return "the engine could not be started"
	case KindConnection:
		return "could not connect to the engine"
	case KindConfiguration:
		return "the engine rejected its configuration"
	case KindFetch:
		return "could not fetch the source"
	case KindDisconnect:
		return "the engine disconnected before finishing"
	default:
		return "internal error"
	}
}

// Failure describes why a job did not produce a result.
type Failure struct {
	Kind    Kind
	Message string
	// Lines holds any output the engine sent with the failure.
	Lines []string
}

// Result is delivered exactly once per job.
type Result struct {
	JobID  string
	Name   string
	Origin string
	// Lines is the ordered engine output on success.
	Lines       []string
	Failure     *Failure
	CompletedAt time.Time
}

// OK reports whether the job succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

// Succeeded builds a success result for j.
func Succeeded(j *Job, lines []string) Result {
	if lines == nil {
		lines = []string{}
	}
	return Result{
		JobID:       j.ID,
		Name:        j.Name,
		Origin:      j.Origin,
		Lines:       lines,
		CompletedAt: time.Now().UTC(),
	}
}

// Failed builds a failure result for j.
func Failed(j *Job, kind Kind, message string, lines []string) Result {
	return Result{
		JobID:  j.ID,
		Name:   j.Name,
		Origin: j.Origin,
		Failure: &Failure{
			Kind:    kind,
			Message: message,
			Lines:   lines,
		},
		CompletedAt: time.Now().UTC(),
	}
}
