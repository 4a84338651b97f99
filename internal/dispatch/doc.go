// Package dispatch runs the single worker that drains the job queue into the
// engine.
//
// The dispatcher is a two-state loop on one goroutine:
//
//   - Idle: announce availability once, then block on the queue's wake
//     signal or context cancellation.
//   - Active: announce busy, then dequeue and process jobs one at a time
//     until the queue is empty, and go back to Idle.
//
// Shutdown sets a terminating flag and signals the queue. The loop exits the
// next time it wakes to an empty queue, so jobs accepted before Shutdown are
// still delivered.
//
// Every job gets exactly one Result. Errors from the engine supervisor, the
// protocol client and content fetch are classified into a job.Kind at the
// per-job boundary; nothing escapes into the loop. A panic during one job is
// recovered and reported as an internal failure.
//
// Cancelling the Run context stops the loop immediately. Tickets still in the
// queue are resolved with an internal failure so no waiter is left hanging.
package dispatch
