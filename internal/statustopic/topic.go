// Package statustopic implements the Status Topic: an in-process pub/sub
// fan-out carrying every stage transition (QUEUED/START/DONE/FAILED) to
// every subscriber, chiefly the Status Recorder and an optional live-tail
// websocket for operators.
package statustopic

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/memcp-go/internal/models"
)

// subscriberBuffer bounds how many undelivered events a slow subscriber may
// accumulate before events are dropped for it; the Status Recorder itself
// never falls behind because it persists synchronously on delivery, this
// only protects against a wedged observer subscription.
const subscriberBuffer = 256

// Topic is the publish side; Subscribe returns a channel fed by Publish.
type Topic struct {
	mu          sync.RWMutex
	subscribers map[string]chan models.TimelineEvent
	log         *slog.Logger
}

// New creates an empty Topic. log may be nil, in which case slog.Default()
// is used to report dropped events.
func New(log *slog.Logger) *Topic {
	if log == nil {
		log = slog.Default()
	}
	return &Topic{
		subscribers: make(map[string]chan models.TimelineEvent),
		log:         log,
	}
}

// Subscribe registers a new subscription named name (e.g. "status-writer"
// for the Status Recorder, "console" for an observer) and returns its
// delivery channel. Calling Subscribe twice with the same name replaces the
// prior channel and closes it.
func (t *Topic) Subscribe(name string) <-chan models.TimelineEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.subscribers[name]; ok {
		close(old)
	}
	ch := make(chan models.TimelineEvent, subscriberBuffer)
	t.subscribers[name] = ch
	return ch
}

// Unsubscribe removes and closes name's channel, if present.
func (t *Topic) Unsubscribe(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subscribers[name]; ok {
		close(ch)
		delete(t.subscribers, name)
	}
}

// Publish fans event out to every subscriber. A subscriber whose buffer is
// full has the event dropped for it and a warning logged; other
// subscribers are unaffected.
func (t *Topic) Publish(ctx context.Context, event models.TimelineEvent) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for name, ch := range t.subscribers {
		select {
		case ch <- event:
		case <-ctx.Done():
			return
		default:
			t.log.Warn("statustopic: subscriber buffer full, dropping event", "subscriber", name, "job_id", event.JobID, "stage", event.Stage)
		}
	}
}
