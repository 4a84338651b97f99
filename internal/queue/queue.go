package queue

import (
	"sync"

	"github.com/mattjoyce/urclgw/internal/job"
)

// Item is a queued job paired with the ticket its result is delivered on.
type Item struct {
	Job    *job.Job
	Ticket *Ticket
}

// Queue is an unbounded FIFO of pending jobs. Enqueue may be called from any
// goroutine; TryDequeue is meant for the single dispatcher.
//
// The wake channel has capacity one, so a signal sent while the consumer is
// busy is kept until its next wait.
type Queue struct {
	mu    sync.Mutex
	items []*Item
	wake  chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue appends j to the tail, wakes the consumer, and returns the ticket
// that will carry j's result.
func (q *Queue) Enqueue(j *job.Job) *Ticket {
	t := newTicket(j.ID)

	q.mu.Lock()
	q.items = append(q.items, &Item{Job: j, Ticket: t})
	q.mu.Unlock()

	q.Signal()
	return t
}

// TryDequeue removes and returns the head of the queue.
func (q *Queue) TryDequeue() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return it, true
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Signal wakes the consumer without enqueuing. Repeated signals before the
// consumer wakes collapse into one.
func (q *Queue) Signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Wake is the channel the consumer waits on.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
