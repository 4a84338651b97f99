// Package events is an in-memory pub/sub for job and worker lifecycle
// events, with a ring buffer so late subscribers can catch up.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the gateway.
const (
	JobQueued    = "job.queued"
	JobStarted   = "job.started"
	JobSucceeded = "job.succeeded"
	JobFailed    = "job.failed"
	WorkerIdle   = "worker.idle"
	WorkerActive = "worker.active"
)

const subscriberBuffer = 128

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub fans events out to subscribers. Slow subscribers miss events rather
// than block publishers.
type Hub struct {
	mu     sync.Mutex
	lastID int64
	ring   []Event
	next   int
	full   bool
	subs   map[chan Event]struct{}
}

// NewHub creates a hub that retains the last capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[chan Event]struct{}),
	}
}

// Publish records an event and delivers it to every subscriber. data is
// marshaled to JSON; nil or unmarshalable data becomes {}.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{
		ID:   h.lastID,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.ring[h.next] = ev
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of new events and a function that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Since returns retained events with ID greater than lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var retained []Event
	if h.full {
		retained = append(append(retained, h.ring[h.next:]...), h.ring[:h.next]...)
	} else {
		retained = h.ring[:h.next]
	}

	out := make([]Event, 0, len(retained))
	for _, ev := range retained {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
