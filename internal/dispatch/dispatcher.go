package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/urclgw/internal/content"
	"github.com/mattjoyce/urclgw/internal/engine"
	"github.com/mattjoyce/urclgw/internal/events"
	"github.com/mattjoyce/urclgw/internal/job"
	"github.com/mattjoyce/urclgw/internal/log"
	"github.com/mattjoyce/urclgw/internal/protocol"
	"github.com/mattjoyce/urclgw/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/urclgw/internal/dispatch Submitter,Presence,Recorder

// Submitter runs one request against the engine.
type Submitter interface {
	Submit(ctx context.Context, req protocol.Request) ([]string, error)
}

// Presence receives worker availability changes.
type Presence interface {
	Idle(ctx context.Context)
	Busy(ctx context.Context, queued int)
}

// Recorder persists finished jobs.
type Recorder interface {
	Record(ctx context.Context, j *job.Job, res job.Result, startedAt time.Time) error
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}

// State is the dispatcher's current mode.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Dispatcher dequeues jobs and executes them serially against the engine.
type Dispatcher struct {
	queue    *queue.Queue
	client   Submitter
	presence Presence
	recorder Recorder
	events   Publisher
	logger   *slog.Logger

	state       atomic.Int32
	terminating atomic.Bool
	done        chan struct{}
	doneOnce    sync.Once
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPresence sets the availability hook.
func WithPresence(p Presence) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.presence = p
		}
	}
}

// WithRecorder sets where finished jobs are persisted.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithEvents sets the lifecycle event sink.
func WithEvents(p Publisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.events = p
		}
	}
}

// New creates a Dispatcher draining q into client.
func New(q *queue.Queue, client Submitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		client:   client,
		presence: nopPresence{},
		recorder: nopRecorder{},
		events:   nopPublisher{},
		logger:   log.WithComponent("dispatch"),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State reports the current mode.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Shutdown asks the loop to exit once the queue is empty. It does not block.
func (d *Dispatcher) Shutdown() {
	if d.terminating.CompareAndSwap(false, true) {
		d.logger.Info("shutdown requested", "queued", d.queue.Depth())
	}
	d.queue.Signal()
}

// Run is the dispatch loop. It blocks until Shutdown has been called and the
// queue is drained, or until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatch loop started")
	defer func() {
		d.doneOnce.Do(func() { close(d.done) })
		d.logger.Info("dispatch loop stopped")
	}()

	announced := false
	for {
		if !announced {
			d.state.Store(int32(StateIdle))
			d.presence.Idle(ctx)
			announced = true
		}

		select {
		case <-ctx.Done():
			d.abandon()
			return ctx.Err()
		case <-d.queue.Wake():
		}

		if d.queue.Depth() == 0 {
			if d.terminating.Load() {
				d.state.Store(int32(StateTerminating))
				return nil
			}
			// Stale wake from a signal latched while Active.
			continue
		}

		d.state.Store(int32(StateActive))
		d.presence.Busy(ctx, d.queue.Depth())
		d.drain(ctx)
		announced = false

		if ctx.Err() != nil {
			d.abandon()
			return ctx.Err()
		}

		if d.terminating.Load() {
			// Shutdown's signal may have been consumed by an earlier wake.
			d.queue.Signal()
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, ok := d.queue.TryDequeue()
		if !ok {
			return
		}
		d.process(ctx, item)
	}
}

// abandon resolves tickets left in the queue after cancellation.
func (d *Dispatcher) abandon() {
	d.state.Store(int32(StateTerminating))
	for {
		item, ok := d.queue.TryDequeue()
		if !ok {
			return
		}
		res := job.Failed(item.Job, job.KindInternal, job.KindInternal.Describe()+": dispatcher stopped", nil)
		item.Ticket.Resolve(res)
		d.events.Publish(events.JobFailed, eventData(item.Job, res))
	}
}

// process runs one job and delivers its result. It never panics.
func (d *Dispatcher) process(ctx context.Context, item *queue.Item) {
	j := item.Job
	jobLogger := log.WithJob(j.ID).With("name", j.Name, "origin", j.Origin)
	startedAt := time.Now().UTC()

	jobLogger.Info("executing job")
	d.events.Publish(events.JobStarted, map[string]any{
		"job_id": j.ID,
		"name":   j.Name,
		"origin": j.Origin,
	})

	res := d.execute(ctx, j, jobLogger)

	if !item.Ticket.Resolve(res) {
		jobLogger.Warn("ticket already resolved")
	}

	if err := d.recorder.Record(ctx, j, res, startedAt); err != nil {
		jobLogger.Error("failed to record job", "error", err)
	}

	duration := time.Since(startedAt)
	if res.OK() {
		jobLogger.Info("job succeeded", "lines", len(res.Lines), "duration", duration)
		d.events.Publish(events.JobSucceeded, eventData(j, res))
	} else {
		jobLogger.Warn("job failed", "kind", res.Failure.Kind, "error", res.Failure.Message, "duration", duration)
		d.events.Publish(events.JobFailed, eventData(j, res))
	}
}

func (d *Dispatcher) execute(ctx context.Context, j *job.Job, jobLogger *slog.Logger) (res job.Result) {
	defer func() {
		if r := recover(); r != nil {
			jobLogger.Error("panic during job", "panic", r)
			res = job.Failed(j, job.KindInternal, fmt.Sprintf("%s: panic: %v", job.KindInternal.Describe(), r), nil)
		}
	}()

	if j.Source == nil {
		return job.Failed(j, job.KindInternal, job.KindInternal.Describe()+": job has no source", nil)
	}

	text, err := j.Source.Text(ctx)
	if err != nil {
		return failure(j, err)
	}

	lines, err := d.client.Submit(ctx, protocol.Request{
		Language:   j.Language,
		OutputType: j.OutputType,
		Tier:       j.Tier,
		Source:     text,
	})
	if err != nil {
		return failure(j, err)
	}
	return job.Succeeded(j, lines)
}

// failure classifies err into a failed Result.
func failure(j *job.Job, err error) job.Result {
	kind, lines := Classify(err)
	return job.Failed(j, kind, kind.Describe()+": "+err.Error(), lines)
}

// Classify maps an error from job execution to its Kind, along with any
// engine output attached to it.
func Classify(err error) (job.Kind, []string) {
	var cfgErr *protocol.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return job.KindConfiguration, cfgErr.Lines
	case errors.Is(err, engine.ErrSpawn):
		return job.KindSpawn, nil
	case errors.Is(err, protocol.ErrConnection):
		return job.KindConnection, nil
	case errors.Is(err, content.ErrFetch):
		return job.KindFetch, nil
	case errors.Is(err, protocol.ErrUnexpectedDisconnect), errors.Is(err, protocol.ErrFrameTooLarge):
		return job.KindDisconnect, nil
	default:
		return job.KindInternal, nil
	}
}

func eventData(j *job.Job, res job.Result) map[string]any {
	data := map[string]any{
		"job_id": j.ID,
		"name":   j.Name,
		"origin": j.Origin,
	}
	if res.OK() {
		data["lines"] = len(res.Lines)
	} else {
		data["error_kind"] = string(res.Failure.Kind)
		data["error"] = res.Failure.Message
	}
	return data
}

type nopPresence struct{}

func (nopPresence) Idle(context.Context)      {}
func (nopPresence) Busy(context.Context, int) {}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *job.Job, job.Result, time.Time) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
