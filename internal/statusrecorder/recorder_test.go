package statusrecorder

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/statusstore"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

func TestRecorder_PersistsPublishedEvents(t *testing.T) {
	store := statusstore.NewMemoryStore()
	topic := statustopic.New(nil)
	rec := New(store, topic, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Run(ctx)

	// Give Run a moment to register its subscription before publishing.
	time.Sleep(20 * time.Millisecond)

	job := models.Job{JobID: "job-1", OwnerID: "owner-1", Title: "Widget Internals", Stage: models.StagePlanIntake}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	topic.Publish(ctx, models.TimelineEvent{
		JobID: "job-1", OwnerID: "owner-1", Stage: models.StagePlan,
		Phase: models.PhaseDone, TS: time.Now(), Message: "plan ready",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetJob(ctx, "owner-1", "job-1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Stage == models.StagePlan {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("recorder did not persist the published event within the deadline")
}

func TestRecorder_DropsEventMissingOwnerID(t *testing.T) {
	store := statusstore.NewMemoryStore()
	topic := statustopic.New(nil)
	rec := New(store, topic, nil)

	rec.handle(context.Background(), models.TimelineEvent{JobID: "job-1", Stage: models.StagePlan, Phase: models.PhaseDone, TS: time.Now()})

	if _, err := store.GetJob(context.Background(), "", "job-1"); err == nil {
		t.Error("expected no job record for an event missing owner_id")
	}
}
