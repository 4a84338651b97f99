package engine

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/urclgw/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

type fakeProcess struct {
	pid        int
	done       chan struct{}
	closeOnce  sync.Once
	ignoreTerm bool

	mu      sync.Mutex
	signals []os.Signal
	killed  bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return nil }
func (p *fakeProcess) exit()                 { p.closeOnce.Do(func() { close(p.done) }) }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if !p.ignoreTerm {
		p.exit()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit()
	return nil
}

type recordingSpawner struct {
	calls [][]string
	procs []*fakeProcess
	err   error
	// ignoreTerm is copied onto every spawned process.
	ignoreTerm bool
}

func (r *recordingSpawner) spawn(path string, args ...string) (Process, error) {
	r.calls = append(r.calls, append([]string{path}, args...))
	if r.err != nil {
		return nil, r.err
	}
	p := newFakeProcess(1000 + len(r.procs))
	p.ignoreTerm = r.ignoreTerm
	r.procs = append(r.procs, p)
	return p, nil
}

func TestEnsureRunningSpawnsOnlyWhenNeeded(t *testing.T) {
	rec := &recordingSpawner{}
	s := New("/opt/engine", 7777, WithSpawner(rec.spawn))

	assert.Equal(t, StateAbsent, s.State())

	spawned, err := s.EnsureRunning()
	require.NoError(t, err)
	assert.True(t, spawned)
	assert.Equal(t, StateRunning, s.State())
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"/opt/engine", "7777", ""}, rec.calls[0])

	spawned, err = s.EnsureRunning()
	require.NoError(t, err)
	assert.False(t, spawned, "live process must not be respawned")
	assert.Len(t, rec.calls, 1)

	rec.procs[0].exit()
	assert.Equal(t, StateExited, s.State())

	spawned, err = s.EnsureRunning()
	require.NoError(t, err)
	assert.True(t, spawned)
	assert.Len(t, rec.calls, 2)
	assert.Equal(t, 2, s.Spawns())
	assert.Equal(t, StateRunning, s.State())
}

func TestEnsureRunningSpawnFailure(t *testing.T) {
	boom := errors.New("exec format error")
	rec := &recordingSpawner{err: boom}
	s := New("/opt/engine", 7777, WithSpawner(rec.spawn))

	spawned, err := s.EnsureRunning()
	assert.False(t, spawned)
	assert.ErrorIs(t, err, ErrSpawn)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateAbsent, s.State())

	// No automatic retry: each call is one attempt.
	_, _ = s.EnsureRunning()
	assert.Len(t, rec.calls, 2)
}

func TestShutdown(t *testing.T) {
	t.Run("terminates gracefully", func(t *testing.T) {
		rec := &recordingSpawner{}
		s := New("/opt/engine", 7777, WithSpawner(rec.spawn))
		_, err := s.EnsureRunning()
		require.NoError(t, err)

		s.Shutdown()
		assert.Equal(t, StateAbsent, s.State())
		assert.Len(t, rec.procs[0].signals, 1)
		assert.False(t, rec.procs[0].killed)

		// Idempotent.
		s.Shutdown()
		assert.Len(t, rec.procs[0].signals, 1)
	})

	t.Run("kills after grace period", func(t *testing.T) {
		rec := &recordingSpawner{ignoreTerm: true}
		s := New("/opt/engine", 7777, WithSpawner(rec.spawn), WithShutdownGrace(20*time.Millisecond))
		_, err := s.EnsureRunning()
		require.NoError(t, err)

		s.Shutdown()
		assert.True(t, rec.procs[0].killed)
		assert.Equal(t, StateAbsent, s.State())
	})

	t.Run("state answers during grace period", func(t *testing.T) {
		rec := &recordingSpawner{ignoreTerm: true}
		s := New("/opt/engine", 7777, WithSpawner(rec.spawn), WithShutdownGrace(500*time.Millisecond))
		_, err := s.EnsureRunning()
		require.NoError(t, err)
		proc := rec.procs[0]

		done := make(chan struct{})
		go func() {
			s.Shutdown()
			close(done)
		}()

		require.Eventually(t, func() bool {
			proc.mu.Lock()
			defer proc.mu.Unlock()
			return len(proc.signals) == 1
		}, time.Second, 5*time.Millisecond)

		state := make(chan ProcessState, 1)
		go func() { state <- s.State() }()
		select {
		case st := <-state:
			assert.Equal(t, StateAbsent, st)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("State blocked while Shutdown waited on SIGTERM")
		}

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Shutdown did not return")
		}
		proc.mu.Lock()
		assert.True(t, proc.killed)
		proc.mu.Unlock()
	})

	t.Run("nothing tracked", func(t *testing.T) {
		s := New("/opt/engine", 7777, WithSpawner((&recordingSpawner{}).spawn))
		s.Shutdown()
		assert.Equal(t, StateAbsent, s.State())
	})
}

func TestExecSpawnerRealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine requires a POSIX shell")
	}

	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := "#!/bin/sh\nprintf '%s|%s' \"$1\" \"$2\" > " + argsFile + "\necho listening on $1\nexec sleep 30\n"
	path := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	s := New(path, 4321, WithShutdownGrace(time.Second))
	spawned, err := s.EnsureRunning()
	require.NoError(t, err)
	assert.True(t, spawned)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(argsFile)
		return err == nil && string(data) == "4321|"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, StateRunning, s.State())

	s.Shutdown()
	assert.Equal(t, StateAbsent, s.State())
}

func TestExecSpawnerDetectsExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 3\n"), 0o755))

	s := New(path, 4321)
	_, err := s.EnsureRunning()
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.State() == StateExited }, 5*time.Second, 10*time.Millisecond)

	spawned, err := s.EnsureRunning()
	require.NoError(t, err)
	assert.True(t, spawned)
	assert.Equal(t, 2, s.Spawns())
	s.Shutdown()
}

func TestExecSpawnerMissingBinary(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing-engine"), 4321)
	_, err := s.EnsureRunning()
	assert.ErrorIs(t, err, ErrSpawn)
	assert.Equal(t, StateAbsent, s.State())
}

func TestLineLogger(t *testing.T) {
	l := &lineLogger{logger: log.Get(), stream: "stdout"}

	_, err := l.Write([]byte("partial"))
	require.NoError(t, err)
	assert.Equal(t, "partial", string(l.buf))

	n, err := l.Write([]byte(" line\r\nsecond\n"))
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Empty(t, l.buf, "complete lines are flushed from the buffer")
}
