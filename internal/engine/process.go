package engine

import (
	"bytes"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// maxLogLine caps a single forwarded output line.
const maxLogLine = 4 * 1024

// Process is a started engine process.
type Process interface {
	Pid() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err reports the exit error; only meaningful after Done is closed.
	Err() error
	Signal(sig os.Signal) error
	Kill() error
}

// Spawner starts the engine binary at path with args.
type Spawner func(path string, args ...string) (Process, error)

// ExecSpawner starts the engine with os/exec and forwards its stdout and
// stderr to logger line by line.
func ExecSpawner(logger *slog.Logger, waitDelay time.Duration) Spawner {
	return func(path string, args ...string) (Process, error) {
		cmd := exec.Command(path, args...)
		cmd.Stdout = &lineLogger{logger: logger, stream: "stdout"}
		cmd.Stderr = &lineLogger{logger: logger, stream: "stderr"}
		cmd.WaitDelay = waitDelay

		if err := cmd.Start(); err != nil {
			return nil, err
		}

		p := &execProcess{cmd: cmd, done: make(chan struct{})}
		go func() {
			p.err = cmd.Wait()
			close(p.done)
		}()
		return p, nil
	}
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{}      { return p.done }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Kill() }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// lineLogger is an io.Writer that logs each complete line it receives.
type lineLogger struct {
	logger *slog.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) > maxLogLine {
		l.emit(l.buf)
		l.buf = nil
	}
	return len(p), nil
}

func (l *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) > maxLogLine {
		line = line[:maxLogLine]
	}
	if len(line) == 0 {
		return
	}
	l.logger.Info("engine output", "stream", l.stream, "line", string(line))
}
