// Package presence announces worker availability. A chat front end would
// mirror these announcements in its status; here they go to the log and the
// events hub.
package presence

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/urclgw/internal/events"
	"github.com/mattjoyce/urclgw/internal/log"
)

// Publisher is the subset of events.Hub used here.
type Publisher interface {
	Publish(eventType string, data any)
}

// Broadcaster implements the dispatcher's presence hooks.
type Broadcaster struct {
	events Publisher
	logger *slog.Logger
}

// NewBroadcaster returns a Broadcaster publishing to pub.
func NewBroadcaster(pub Publisher) *Broadcaster {
	return &Broadcaster{
		events: pub,
		logger: log.WithComponent("presence"),
	}
}

// Idle announces that the worker is waiting for jobs.
func (b *Broadcaster) Idle(context.Context) {
	b.logger.Debug("worker idle")
	b.events.Publish(events.WorkerIdle, map[string]any{"state": "idle"})
}

// Busy announces that the worker is draining the queue.
func (b *Broadcaster) Busy(_ context.Context, queued int) {
	b.logger.Debug("worker active", "queued", queued)
	b.events.Publish(events.WorkerActive, map[string]any{"state": "active", "queued": queued})
}
