package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/urclgw/internal/content"
	"github.com/mattjoyce/urclgw/internal/dispatch/mocks"
	"github.com/mattjoyce/urclgw/internal/engine"
	"github.com/mattjoyce/urclgw/internal/events"
	"github.com/mattjoyce/urclgw/internal/job"
	"github.com/mattjoyce/urclgw/internal/log"
	"github.com/mattjoyce/urclgw/internal/protocol"
	"github.com/mattjoyce/urclgw/internal/queue"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func newJob(id, source string) *job.Job {
	return &job.Job{
		ID:         id,
		Name:       id,
		Language:   job.DefaultLanguage,
		OutputType: job.DefaultOutputType,
		Tier:       job.DefaultTier,
		Source:     content.Inline(source),
		CreatedAt:  time.Now().UTC(),
	}
}

// echoSubmitter returns the source as the only output line and tracks how
// many submissions overlap.
type echoSubmitter struct {
	mu       sync.Mutex
	order    []string
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	gate     chan struct{}
}

func (s *echoSubmitter) Submit(ctx context.Context, req protocol.Request) ([]string, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.order = append(s.order, req.Source)
	s.mu.Unlock()
	return []string{req.Source}, nil
}

func (s *echoSubmitter) processed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func start(t *testing.T, ctx context.Context, d *Dispatcher) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	t.Cleanup(func() {
		d.Shutdown()
		select {
		case <-d.Done():
		case <-time.After(5 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return errCh
}

func waitResult(t *testing.T, tk *queue.Ticket) job.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := tk.Wait(ctx)
	require.NoError(t, err, "ticket %s not resolved", tk.JobID())
	return res
}

func TestDispatcherFIFO(t *testing.T) {
	q := queue.New()
	sub := &echoSubmitter{}
	d := New(q, sub)

	var tickets []*queue.Ticket
	for i := range 10 {
		tickets = append(tickets, q.Enqueue(newJob(fmt.Sprintf("j%d", i), fmt.Sprintf("src-%d", i))))
	}

	start(t, context.Background(), d)

	for i, tk := range tickets {
		res := waitResult(t, tk)
		require.True(t, res.OK())
		assert.Equal(t, []string{fmt.Sprintf("src-%d", i)}, res.Lines)
	}

	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("src-%d", i)
	}
	assert.Equal(t, want, sub.processed())
}

func TestDispatcherConcurrentEnqueueSingleFlight(t *testing.T) {
	q := queue.New()
	sub := &echoSubmitter{delay: time.Millisecond}
	d := New(q, sub)
	start(t, context.Background(), d)

	const producers, perProducer = 4, 15
	var wg sync.WaitGroup
	tickets := make([][]*queue.Ticket, producers)
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				id := fmt.Sprintf("p%d-%d", p, i)
				tickets[p] = append(tickets[p], q.Enqueue(newJob(id, id)))
			}
		}()
	}
	wg.Wait()

	for p := range producers {
		for _, tk := range tickets[p] {
			assert.True(t, waitResult(t, tk).OK())
		}
	}

	assert.Equal(t, int32(1), sub.peak.Load(), "more than one job in flight")

	// Each producer's jobs are processed in that producer's order.
	order := sub.processed()
	require.Len(t, order, producers*perProducer)
	last := make(map[int]int)
	for _, src := range order {
		var p, i int
		_, err := fmt.Sscanf(src, "p%d-%d", &p, &i)
		require.NoError(t, err)
		if prev, ok := last[p]; ok {
			assert.Greater(t, i, prev, "producer %d out of order", p)
		}
		last[p] = i
	}
}

func TestDispatcherErrorsDoNotStopLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubmitter(ctrl)

	gomock.InOrder(
		sub.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("ensure running: %w", engine.ErrSpawn)),
		sub.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("dial 127.0.0.1:1: %w", protocol.ErrConnection)),
		sub.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, &protocol.ConfigurationError{Lines: []string{"bad flag -x"}}),
		sub.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("read: %w", protocol.ErrUnexpectedDisconnect)),
		sub.EXPECT().Submit(gomock.Any(), gomock.Any()).Return([]string{"ok"}, nil),
	)

	q := queue.New()
	d := New(q, sub)

	var tickets []*queue.Ticket
	for i := range 5 {
		tickets = append(tickets, q.Enqueue(newJob(fmt.Sprintf("j%d", i), "HLT")))
	}
	start(t, context.Background(), d)

	wantKinds := []job.Kind{job.KindSpawn, job.KindConnection, job.KindConfiguration, job.KindDisconnect}
	for i, kind := range wantKinds {
		res := waitResult(t, tickets[i])
		require.False(t, res.OK())
		assert.Equal(t, kind, res.Failure.Kind)
		assert.Contains(t, res.Failure.Message, kind.Describe())
	}

	cfg := waitResult(t, tickets[2])
	assert.Equal(t, []string{"bad flag -x"}, cfg.Failure.Lines)

	last := waitResult(t, tickets[4])
	require.True(t, last.OK())
	assert.Equal(t, []string{"ok"}, last.Lines)
}

type failingSource struct{}

func (failingSource) Text(context.Context) (string, error) {
	return "", fmt.Errorf("GET https://example.invalid: %w", content.ErrFetch)
}

func TestDispatcherFetchFailureSkipsEngine(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubmitter(ctrl)
	sub.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)

	q := queue.New()
	d := New(q, sub)

	j := newJob("remote", "")
	j.Source = failingSource{}
	tk := q.Enqueue(j)
	start(t, context.Background(), d)

	res := waitResult(t, tk)
	require.False(t, res.OK())
	assert.Equal(t, job.KindFetch, res.Failure.Kind)
}

type panicSource struct{}

func (panicSource) Text(context.Context) (string, error) { panic("boom") }

func TestDispatcherRecoversPanic(t *testing.T) {
	q := queue.New()
	d := New(q, &echoSubmitter{})

	bad := newJob("bad", "")
	bad.Source = panicSource{}
	tkBad := q.Enqueue(bad)
	tkGood := q.Enqueue(newJob("good", "NOP"))
	start(t, context.Background(), d)

	res := waitResult(t, tkBad)
	require.False(t, res.OK())
	assert.Equal(t, job.KindInternal, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "boom")

	assert.True(t, waitResult(t, tkGood).OK())
}

func TestDispatcherPresence(t *testing.T) {
	ctrl := gomock.NewController(t)
	presence := mocks.NewMockPresence(ctrl)

	q := queue.New()
	var d *Dispatcher

	gomock.InOrder(
		presence.EXPECT().Idle(gomock.Any()),
		presence.EXPECT().Busy(gomock.Any(), 2),
		presence.EXPECT().Idle(gomock.Any()).Do(func(context.Context) { d.Shutdown() }),
	)

	d = New(q, &echoSubmitter{}, WithPresence(presence))
	q.Enqueue(newJob("a", "A"))
	q.Enqueue(newJob("b", "B"))

	errCh := start(t, context.Background(), d)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not exit")
	}
	assert.Equal(t, StateTerminating, d.State())
}

func TestDispatcherRecordsAndPublishes(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecorder(ctrl)
	hub := events.NewHub(16)

	q := queue.New()
	j := newJob("j1", "NOP")

	recorded := make(chan job.Result, 1)
	rec.EXPECT().Record(gomock.Any(), j, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ *job.Job, res job.Result, startedAt time.Time) error {
			assert.False(t, startedAt.IsZero())
			recorded <- res
			return errors.New("disk full")
		})

	d := New(q, &echoSubmitter{}, WithRecorder(rec), WithEvents(hub))
	tk := q.Enqueue(j)
	start(t, context.Background(), d)

	res := waitResult(t, tk)
	assert.True(t, res.OK(), "recorder errors do not change the result")

	select {
	case got := <-recorded:
		assert.Equal(t, res, got)
	case <-time.After(5 * time.Second):
		t.Fatal("job not recorded")
	}

	require.Eventually(t, func() bool {
		for _, ev := range hub.Since(0) {
			if ev.Type == events.JobSucceeded {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	var types []string
	for _, ev := range hub.Since(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.JobStarted, events.JobSucceeded}, types)
}

func TestDispatcherShutdownDrainsQueue(t *testing.T) {
	q := queue.New()
	sub := &echoSubmitter{gate: make(chan struct{})}
	d := New(q, sub)

	var tickets []*queue.Ticket
	for i := range 3 {
		tickets = append(tickets, q.Enqueue(newJob(fmt.Sprintf("j%d", i), fmt.Sprintf("s%d", i))))
	}

	errCh := start(t, context.Background(), d)
	require.Eventually(t, func() bool { return d.State() == StateActive }, 5*time.Second, time.Millisecond)

	d.Shutdown()
	d.Shutdown()
	close(sub.gate)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not exit after shutdown")
	}

	for _, tk := range tickets {
		assert.True(t, waitResult(t, tk).OK())
	}
	assert.Equal(t, []string{"s0", "s1", "s2"}, sub.processed())
	assert.Equal(t, StateTerminating, d.State())
}

func TestDispatcherShutdownWhileIdle(t *testing.T) {
	d := New(queue.New(), &echoSubmitter{})
	errCh := start(t, context.Background(), d)

	require.Eventually(t, func() bool { return d.State() == StateIdle }, time.Second, time.Millisecond)
	d.Shutdown()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not exit")
	}
}

func TestDispatcherCancelResolvesQueued(t *testing.T) {
	q := queue.New()
	sub := &echoSubmitter{gate: make(chan struct{})}
	d := New(q, sub)

	first := q.Enqueue(newJob("first", "A"))
	second := q.Enqueue(newJob("second", "B"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := start(t, ctx, d)
	require.Eventually(t, func() bool { return sub.inflight.Load() == 1 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not exit on cancel")
	}

	r1 := waitResult(t, first)
	require.False(t, r1.OK())
	assert.Equal(t, job.KindInternal, r1.Failure.Kind)

	r2 := waitResult(t, second)
	require.False(t, r2.OK())
	assert.Equal(t, job.KindInternal, r2.Failure.Kind)
	assert.Contains(t, r2.Failure.Message, "dispatcher stopped")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  job.Kind
		lines []string
	}{
		{"spawn", fmt.Errorf("x: %w", engine.ErrSpawn), job.KindSpawn, nil},
		{"connection", fmt.Errorf("x: %w", protocol.ErrConnection), job.KindConnection, nil},
		{"configuration", fmt.Errorf("x: %w", &protocol.ConfigurationError{Lines: []string{"a", "b"}}), job.KindConfiguration, []string{"a", "b"}},
		{"fetch", fmt.Errorf("x: %w", content.ErrFetch), job.KindFetch, nil},
		{"disconnect", fmt.Errorf("x: %w", protocol.ErrUnexpectedDisconnect), job.KindDisconnect, nil},
		{"frame too large", fmt.Errorf("x: %w", protocol.ErrFrameTooLarge), job.KindDisconnect, nil},
		{"other", errors.New("mystery"), job.KindInternal, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, lines := Classify(tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.lines, lines)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "terminating", StateTerminating.String())
	assert.Equal(t, "unknown", State(9).String())
}
