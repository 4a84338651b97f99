package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/urclgw/internal/content"
)

const (
	DefaultLanguage   = "urcl"
	DefaultOutputType = "emulate"
	DefaultTier       = "any"

	// DefaultMaxSourceBytes is the largest source accepted.
	DefaultMaxSourceBytes = 65535
)

var (
	// ErrInvalidSubmission is returned for malformed requests.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrSourceTooLarge is returned when the source exceeds the size
	// ceiling. Oversized sources are rejected, never truncated.
	ErrSourceTooLarge = errors.New("source too large")
)

// Attachment references remote source content.
type Attachment struct {
	URL      string
	Filename string
	// Size is the declared size in bytes, as reported by the front end.
	Size int64
}

// Submission is a request as received from the front end. Exactly one of
// Source or Attachment must be set.
type Submission struct {
	Name       string
	Language   string
	OutputType string
	Tier       string
	Origin     string
	Source     string
	Attachment *Attachment
}

// Builder validates submissions and turns them into jobs.
type Builder struct {
	MaxSourceBytes    int64
	DefaultLanguage   string
	DefaultOutputType string
	DefaultTier       string
	Fetcher           content.Fetcher
}

// NewBuilder returns a Builder with the standard defaults.
func NewBuilder(fetcher content.Fetcher) *Builder {
	return &Builder{
		MaxSourceBytes:    DefaultMaxSourceBytes,
		DefaultLanguage:   DefaultLanguage,
		DefaultOutputType: DefaultOutputType,
		DefaultTier:       DefaultTier,
		Fetcher:           fetcher,
	}
}

// Build validates sub and returns a new Job. Size limits are enforced here,
// before anything reaches the queue.
func (b *Builder) Build(sub Submission) (*Job, error) {
	hasInline := strings.TrimSpace(sub.Source) != ""
	hasAttachment := sub.Attachment != nil

	switch {
	case hasInline && hasAttachment:
		return nil, fmt.Errorf("%w: source and attachment are mutually exclusive", ErrInvalidSubmission)
	case !hasInline && !hasAttachment:
		return nil, fmt.Errorf("%w: no source provided", ErrInvalidSubmission)
	}

	j := &Job{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(sub.Name),
		Language:   pick(sub.Language, b.DefaultLanguage, DefaultLanguage),
		OutputType: pick(sub.OutputType, b.DefaultOutputType, DefaultOutputType),
		Tier:       pick(sub.Tier, b.DefaultTier, DefaultTier),
		Origin:     sub.Origin,
		CreatedAt:  time.Now().UTC(),
	}

	// Checked in protocol field order so the reported field is stable.
	for _, f := range []struct{ name, value string }{
		{"language", j.Language},
		{"output_type", j.OutputType},
		{"tier", j.Tier},
	} {
		if strings.ContainsAny(f.value, " \t\r\n") {
			return nil, fmt.Errorf("%w: %s must be a single token, got %q", ErrInvalidSubmission, f.name, f.value)
		}
	}

	limit := b.MaxSourceBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}

	if hasInline {
		if int64(len(sub.Source)) > limit {
			return nil, fmt.Errorf("%w: inline source is %d bytes, limit is %d", ErrSourceTooLarge, len(sub.Source), limit)
		}
		j.Source = content.Inline(sub.Source)
		if j.Name == "" {
			j.Name = "inline"
		}
		return j, nil
	}

	att := sub.Attachment
	if strings.TrimSpace(att.URL) == "" {
		return nil, fmt.Errorf("%w: attachment url is empty", ErrInvalidSubmission)
	}
	if att.Size < 0 {
		return nil, fmt.Errorf("%w: attachment size is negative", ErrInvalidSubmission)
	}
	if att.Size > limit {
		return nil, fmt.Errorf("%w: attachment is %d bytes, limit is %d", ErrSourceTooLarge, att.Size, limit)
	}
	j.Source = content.Once(content.Remote{URL: att.URL, Fetcher: b.Fetcher})
	if j.Name == "" {
		j.Name = att.Filename
	}
	if j.Name == "" {
		j.Name = "attachment"
	}
	return j, nil
}

func pick(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
