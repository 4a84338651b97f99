package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInline(t *testing.T) {
	text, err := Inline("NOP").Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NOP", text)
}

type countingSource struct {
	calls int
	text  string
	err   error
}

func (c *countingSource) Text(context.Context) (string, error) {
	c.calls++
	return c.text, c.err
}

func TestOnceResolvesAtMostOnce(t *testing.T) {
	src := &countingSource{text: "HLT"}
	o := Once(src)

	for range 3 {
		text, err := o.Text(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "HLT", text)
	}
	assert.Equal(t, 1, src.calls)

	failing := &countingSource{err: errors.New("nope")}
	of := Once(failing)
	_, err1 := of.Text(context.Background())
	_, err2 := of.Text(context.Background())
	assert.Error(t, err1)
	assert.Equal(t, err1, err2)
	assert.Equal(t, 1, failing.calls)

	assert.Same(t, o, Once(o), "wrapping twice is a no-op")
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prog.urcl":
			_, _ = w.Write([]byte("IMM R1 1\nHLT\n"))
		case "/big.urcl":
			_, _ = w.Write([]byte(strings.Repeat("x", 65)))
		case "/slow.urcl":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(100*time.Millisecond, 64)
	ctx := context.Background()

	text, err := f.Fetch(ctx, srv.URL+"/prog.urcl")
	require.NoError(t, err)
	assert.Equal(t, "IMM R1 1\nHLT\n", text)

	_, err = f.Fetch(ctx, srv.URL+"/missing.urcl")
	assert.ErrorIs(t, err, ErrFetch)

	_, err = f.Fetch(ctx, srv.URL+"/big.urcl")
	assert.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "larger than 64 bytes")

	_, err = f.Fetch(ctx, srv.URL+"/slow.urcl")
	assert.ErrorIs(t, err, ErrFetch)
}

func TestRemote(t *testing.T) {
	_, err := Remote{URL: "http://example.invalid/x"}.Text(context.Background())
	assert.ErrorIs(t, err, ErrFetch)
}
