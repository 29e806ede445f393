// Package statusrecorder implements the Status Recorder: the sole
// subscriber that turns Status Topic events into durable Status Store
// writes.
package statusrecorder

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/statusstore"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

// subscriptionName is the Status Topic subscription the recorder owns.
const subscriptionName = "status-writer"

// Recorder drains one Status Topic subscription and persists every event
// to a Status Store. It is the only component besides the stage workers
// that writes to the Status Store.
type Recorder struct {
	store statusstore.Store
	topic *statustopic.Topic
	log   *slog.Logger
}

// New wires a Recorder against store and topic. log may be nil.
func New(store statusstore.Store, topic *statustopic.Topic, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, topic: topic, log: log}
}

// Run subscribes to the topic and blocks, persisting events until ctx is
// cancelled. It is meant to run for the lifetime of the worker process.
func (r *Recorder) Run(ctx context.Context) {
	events := r.topic.Subscribe(subscriptionName)
	defer r.topic.Unsubscribe(subscriptionName)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, event)
		}
	}
}

// handle persists one event. A Status Store write failure is logged and
// the event dropped rather than retried here — the publishing stage
// worker only advances after its own QB message completes, so SR loss of
// an individual event does not corrupt pipeline state, it only delays
// status visibility until the next event for that job arrives.
func (r *Recorder) handle(ctx context.Context, event models.TimelineEvent) {
	if event.OwnerID == "" {
		r.log.Error("statusrecorder: dropping event with no owner_id", "job_id", event.JobID, "stage", event.Stage)
		return
	}
	if err := r.store.RecordEvent(ctx, event); err != nil {
		r.log.Error("statusrecorder: failed to persist event", "job_id", event.JobID, "stage", event.Stage, "phase", event.Phase, "error", err)
		return
	}
	r.log.Debug("statusrecorder: persisted event", "job_id", event.JobID, "stage", event.Stage, "phase", event.Phase)
}
