package queue

import (
	"context"
	"sync"

	"github.com/mattjoyce/urclgw/internal/job"
)

// Ticket is a one-shot future for a job result.
type Ticket struct {
	jobID  string
	once   sync.Once
	done   chan struct{}
	result job.Result
}

func newTicket(jobID string) *Ticket {
	return &Ticket{jobID: jobID, done: make(chan struct{})}
}

// JobID returns the ID of the job this ticket belongs to.
func (t *Ticket) JobID() string {
	return t.jobID
}

// Resolve delivers r. Only the first call has any effect; it reports whether
// this call delivered.
func (t *Ticket) Resolve(r job.Result) bool {
	delivered := false
	t.once.Do(func() {
		t.result = r
		close(t.done)
		delivered = true
	})
	return delivered
}

// Done is closed once the result is available.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Result returns the delivered result. It blocks until Done is closed.
func (t *Ticket) Result() job.Result {
	<-t.done
	return t.result
}

// Wait blocks until the result is delivered or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (job.Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return job.Result{}, ctx.Err()
	}
}
