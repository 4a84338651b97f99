// Package content resolves a job's source text, either inline or fetched
// from a remote attachment.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrFetch wraps every failure to retrieve remote source content.
var ErrFetch = errors.New("content fetch failed")

// Source produces the source text of a job.
type Source interface {
	Text(ctx context.Context) (string, error)
}

// Inline is source text carried with the request.
type Inline string

func (s Inline) Text(context.Context) (string, error) {
	return string(s), nil
}

// Fetcher downloads the full text behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Remote is source text that lives behind a URL and is fetched on demand.
type Remote struct {
	URL     string
	Fetcher Fetcher
}

func (r Remote) Text(ctx context.Context) (string, error) {
	if r.Fetcher == nil {
		return "", fmt.Errorf("%w: no fetcher configured for %s", ErrFetch, r.URL)
	}
	return r.Fetcher.Fetch(ctx, r.URL)
}

// Once wraps src so it is resolved at most once; later calls return the
// first outcome.
func Once(src Source) Source {
	if _, ok := src.(*once); ok {
		return src
	}
	return &once{src: src}
}

type once struct {
	src  Source
	once sync.Once
	text string
	err  error
}

func (o *once) Text(ctx context.Context) (string, error) {
	o.once.Do(func() {
		o.text, o.err = o.src.Text(ctx)
	})
	return o.text, o.err
}

// HTTPFetcher fetches attachments over HTTP GET with a byte ceiling.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher returns a fetcher that gives up after timeout and rejects
// bodies larger than maxBytes.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrFetch, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned %s", ErrFetch, url, resp.Status)
	}

	// Read one byte past the ceiling so an oversized body is detected
	// rather than silently cut.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	if int64(len(body)) > f.maxBytes {
		return "", fmt.Errorf("%w: %s is larger than %d bytes", ErrFetch, url, f.maxBytes)
	}
	return string(body), nil
}
