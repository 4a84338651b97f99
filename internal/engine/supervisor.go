package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/urclgw/internal/log"
)

// DefaultShutdownGrace is the time between SIGTERM and SIGKILL.
const DefaultShutdownGrace = 5 * time.Second

// ErrSpawn wraps every failure to start the engine process.
var ErrSpawn = errors.New("engine spawn failed")

// ProcessState is the lifecycle state of the tracked engine process.
type ProcessState string

const (
	StateAbsent  ProcessState = "absent"
	StateRunning ProcessState = "running"
	StateExited  ProcessState = "exited"
)

// Supervisor owns the engine process. Path and port are fixed at
// construction.
type Supervisor struct {
	path   string
	port   int
	spawn  Spawner
	grace  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	proc   Process
	spawns int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSpawner replaces the os/exec spawner.
func WithSpawner(fn Spawner) Option {
	return func(s *Supervisor) {
		s.spawn = fn
	}
}

// WithShutdownGrace overrides DefaultShutdownGrace.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// New creates a Supervisor for the engine binary at path listening on port.
// Nothing is started until EnsureRunning.
func New(path string, port int, opts ...Option) *Supervisor {
	s := &Supervisor{
		path:   path,
		port:   port,
		grace:  DefaultShutdownGrace,
		logger: log.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.spawn == nil {
		s.spawn = ExecSpawner(s.logger, s.grace)
	}
	return s
}

// Port returns the port the engine is told to listen on.
func (s *Supervisor) Port() int {
	return s.port
}

// State reports the lifecycle state of the tracked process.
func (s *Supervisor) State() ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Spawns returns how many processes this supervisor has started.
func (s *Supervisor) Spawns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns
}

func (s *Supervisor) stateLocked() ProcessState {
	if s.proc == nil {
		return StateAbsent
	}
	select {
	case <-s.proc.Done():
		return StateExited
	default:
		return StateRunning
	}
}

// EnsureRunning spawns the engine unless a live process is already tracked.
// The engine is started as `<path> <port> ""`.
func (s *Supervisor) EnsureRunning() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stateLocked() {
	case StateRunning:
		return false, nil
	case StateExited:
		s.logger.Warn("engine process exited, restarting", "pid", s.proc.Pid(), "error", s.proc.Err())
		s.proc = nil
	}

	proc, err := s.spawn(s.path, strconv.Itoa(s.port), "")
	if err != nil {
		s.logger.Error("failed to start engine", "path", s.path, "error", err)
		return false, fmt.Errorf("%w: %s: %w", ErrSpawn, s.path, err)
	}
	s.proc = proc
	s.spawns++
	s.logger.Info("engine started", "path", s.path, "port", s.port, "pid", proc.Pid())
	return true, nil
}

// Shutdown stops the tracked process, if any, and forgets it. Safe to call
// more than once. The process is detached under the lock and stopped outside
// it, so State does not block for the grace period.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return
	}

	select {
	case <-proc.Done():
		return
	default:
	}

	s.logger.Info("stopping engine", "pid", proc.Pid())
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to send SIGTERM", "pid", proc.Pid(), "error", err)
	}

	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	select {
	case <-proc.Done():
		s.logger.Info("engine exited after SIGTERM", "pid", proc.Pid())
	case <-grace.C:
		s.logger.Warn("engine did not exit after SIGTERM, sending SIGKILL", "pid", proc.Pid())
		if err := proc.Kill(); err != nil {
			s.logger.Error("failed to send SIGKILL", "pid", proc.Pid(), "error", err)
		}
		<-proc.Done()
	}
}
