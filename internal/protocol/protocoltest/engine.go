// Package protocoltest provides an in-process engine that speaks the
// framed wire protocol, for tests.
package protocoltest

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/urclgw/internal/protocol"
)

// Session is what the engine observed on one connection.
type Session struct {
	Flags      []string
	Rejected   bool
	Language   string
	OutputType string
	Tier       string
	LineCount  int
	Lines      []string
	// Trailing counts bytes the client sent after the engine stopped reading.
	Trailing int64
	Err      error
}

// Engine is a loopback listener answering the handshake and job requests.
type Engine struct {
	// Reject, when non-empty, is sent as the handshake response.
	Reject []string
	// Respond produces the result lines for an accepted job. Nil echoes
	// the received source lines.
	Respond func(Session) []string
	// HangUp closes the connection after the request instead of replying.
	HangUp bool

	ln       net.Listener
	sessions chan Session
	wg       sync.WaitGroup
}

// Start listens on a random loopback port. The engine is closed with the test.
func Start(t testing.TB, configure ...func(*Engine)) *Engine {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	e := &Engine{
		ln:       ln,
		sessions: make(chan Session, 64),
	}
	for _, fn := range configure {
		fn(e)
	}

	e.wg.Add(1)
	go e.serve()
	t.Cleanup(e.Close)
	return e
}

// Port returns the listening port.
func (e *Engine) Port() int {
	return e.ln.Addr().(*net.TCPAddr).Port
}

// Close stops accepting connections and waits for open sessions.
func (e *Engine) Close() {
	_ = e.ln.Close()
	e.wg.Wait()
}

// Next returns the next finished session.
func (e *Engine) Next(t testing.TB) Session {
	t.Helper()
	select {
	case s := <-e.sessions:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for engine session")
		return Session{}
	}
}

func (e *Engine) serve() {
	defer e.wg.Done()
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.sessions <- e.handle(conn)
		}()
	}
}

func (e *Engine) handle(conn net.Conn) (sess Session) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	s := protocol.NewStream(conn)
	defer func() {
		if e.HangUp {
			return
		}
		// Whatever arrives now is unexpected; the client should only close.
		n, _ := io.Copy(io.Discard, conn)
		sess.Trailing = int64(s.Buffered()) + n
	}()

	sess.Flags, sess.Err = readCounted(s)
	if sess.Err != nil {
		return sess
	}

	if len(e.Reject) > 0 {
		sess.Rejected = true
		sess.Err = s.Send(append(append([]string(nil), e.Reject...), "")...)
		return sess
	}
	if sess.Err = s.Send(""); sess.Err != nil {
		return sess
	}

	header := make([]string, 3)
	for i := range header {
		if header[i], sess.Err = s.Next(); sess.Err != nil {
			return sess
		}
	}
	sess.Language, sess.OutputType, sess.Tier = header[0], header[1], header[2]

	sess.Lines, sess.Err = readCounted(s)
	sess.LineCount = len(sess.Lines)
	if sess.Err != nil || e.HangUp {
		return sess
	}

	out := sess.Lines
	if e.Respond != nil {
		out = e.Respond(sess)
	}
	sess.Err = s.Send(append(append([]string(nil), out...), "")...)
	return sess
}

// readCounted reads a decimal count frame followed by that many frames.
func readCounted(s *protocol.Stream) ([]string, error) {
	countStr, err := s.Next()
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, errors.New("negative count")
	}
	out := make([]string, 0, count)
	for range count {
		v, err := s.Next()
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
