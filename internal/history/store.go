// Package history keeps a log of finished jobs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/urclgw/internal/job"
)

// ErrNotFound is returned by Get for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Status values stored in job_log.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Entry is one finished job.
type Entry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Origin       string    `json:"origin,omitempty"`
	Language     string    `json:"language"`
	OutputType   string    `json:"output_type"`
	Tier         string    `json:"tier"`
	Status       string    `json:"status"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Output       []string  `json:"output"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Store reads and writes job_log. Use storage.OpenSQLite to get a db with
// the schema in place.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record stores the outcome of j. A failure's engine lines are stored as the
// output.
func (s *Store) Record(ctx context.Context, j *job.Job, res job.Result, startedAt time.Time) error {
	if j == nil || j.ID == "" {
		return fmt.Errorf("job is empty")
	}

	status := StatusSucceeded
	output := res.Lines
	var kind, message sql.NullString
	if !res.OK() {
		status = StatusFailed
		output = res.Failure.Lines
		kind = sql.NullString{String: string(res.Failure.Kind), Valid: true}
		message = sql.NullString{String: res.Failure.Message, Valid: true}
	}
	if output == nil {
		output = []string{}
	}
	outJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	completedAt := res.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO job_log(
  id, name, origin, language, output_type, tier, status, error_kind, error_message, output, created_at, started_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, j.ID, j.Name, j.Origin, j.Language, j.OutputType, j.Tier, status, kind, message, string(outJSON),
		formatTime(j.CreatedAt), formatTime(startedAt), formatTime(completedAt))
	if err != nil {
		return fmt.Errorf("insert job_log: %w", err)
	}
	return nil
}

const selectColumns = `id, name, origin, language, output_type, tier, status, error_kind, error_message, output, created_at, started_at, completed_at`

// Get returns the entry for id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM job_log WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM job_log
ORDER BY completed_at DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job_log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job_log: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job_log: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e                            Entry
		kind, message                sql.NullString
		output                       string
		createdAt, startedAt, doneAt string
	)
	if err := sc.Scan(&e.ID, &e.Name, &e.Origin, &e.Language, &e.OutputType, &e.Tier, &e.Status,
		&kind, &message, &output, &createdAt, &startedAt, &doneAt); err != nil {
		return nil, err
	}
	e.ErrorKind = kind.String
	e.ErrorMessage = message.String
	if err := json.Unmarshal([]byte(output), &e.Output); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	e.CreatedAt = parseTime(createdAt)
	e.StartedAt = parseTime(startedAt)
	e.CompletedAt = parseTime(doneAt)
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
