package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/mattjoyce/urclgw/internal/log"
)

const (
	// DefaultStartupTimeout is how long a freshly spawned engine gets to
	// start listening before the connection counts as failed.
	DefaultStartupTimeout = 5 * time.Second

	dialRetryInterval = 50 * time.Millisecond
)

// EngineRunner makes sure an engine process is listening before each job.
// spawned reports whether a new process was started by this call.
type EngineRunner interface {
	EnsureRunning() (spawned bool, err error)
}

// Client runs jobs against the engine, one private connection per job.
type Client struct {
	engine         EngineRunner
	addr           string
	flags          []string
	startupTimeout time.Duration
	dialer         net.Dialer
	logger         *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithStartupTimeout overrides DefaultStartupTimeout.
func WithStartupTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.startupTimeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the engine listening on the loopback
// interface at port. flags are sent verbatim on every handshake.
func NewClient(engine EngineRunner, port int, flags []string, opts ...ClientOption) *Client {
	c := &Client{
		engine:         engine,
		addr:           net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		flags:          append([]string(nil), flags...),
		startupTimeout: DefaultStartupTimeout,
		logger:         log.WithComponent("protocol"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the engine endpoint.
func (c *Client) Addr() string {
	return c.addr
}

// Submit executes one job and returns the engine's result lines.
//
// A non-empty handshake response ends the job with a *ConfigurationError and
// the request is never written. Cancelling ctx closes the connection, so a
// job stuck on a silent engine fails as an unexpected disconnect.
func (c *Client) Submit(ctx context.Context, req Request) ([]string, error) {
	spawned, err := c.engine.EnsureRunning()
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx, spawned)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Reads have no deadline; cancellation is the only way out of a hung engine.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s := NewStream(conn)

	if err := s.Send(HandshakeFrames(c.flags)...); err != nil {
		return nil, fmt.Errorf("%w: send handshake: %w", ErrUnexpectedDisconnect, err)
	}

	first, err := s.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: read handshake response: %w", ErrUnexpectedDisconnect, err)
	}
	if first != "" {
		rest, err := s.Collect()
		if err != nil {
			return nil, fmt.Errorf("%w: read configuration errors: %w", ErrUnexpectedDisconnect, err)
		}
		c.logger.Warn("engine rejected configuration", "lines", 1+len(rest))
		return nil, &ConfigurationError{Lines: append([]string{first}, rest...)}
	}

	frames := req.Frames()
	c.logger.Debug("sending job",
		"language", req.Language,
		"output_type", req.OutputType,
		"tier", req.Tier,
		"source_lines", len(frames)-4,
	)
	if err := s.Send(frames...); err != nil {
		return nil, fmt.Errorf("%w: send request: %w", ErrUnexpectedDisconnect, err)
	}

	lines, err := s.Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: read result after %d lines: %w", ErrUnexpectedDisconnect, len(lines), err)
	}
	return lines, nil
}

// dial connects to the engine. Right after a spawn the engine may not be
// listening yet, so refused connections are retried until the startup
// timeout runs out.
func (c *Client) dial(ctx context.Context, spawned bool) (net.Conn, error) {
	deadline := time.Now().Add(c.startupTimeout)
	for {
		conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
		if err == nil {
			return conn, nil
		}
		if !spawned || ctx.Err() != nil || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, c.addr, err)
		}

		timer := time.NewTimer(dialRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, c.addr, ctx.Err())
		case <-timer.C:
		}
	}
}
