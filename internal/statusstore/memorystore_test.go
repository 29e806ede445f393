package statusstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/models"
)

func newTestJob(owner, id string) models.Job {
	return models.Job{
		JobID:           id,
		OwnerID:         owner,
		Title:           "How the Widget Works",
		Audience:        "new engineers",
		CyclesRequested: 2,
		Stage:           models.StagePlanIntake,
		Message:         "admitted",
		SchemaVersion:   models.CurrentSchemaVersion,
	}
}

func TestMemoryStore_CreateAndGetJob(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := newTestJob("owner-1", "job-1")

	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, job); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate CreateJob err = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, "owner-1", "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Title != job.Title {
		t.Errorf("Title = %q, want %q", got.Title, job.Title)
	}

	if _, err := s.GetJob(ctx, "owner-2", "job-1"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("cross-owner GetJob err = %v, want ErrNotAuthorized", err)
	}
	if _, err := s.GetJob(ctx, "owner-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing GetJob err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_RecordEventIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := newTestJob("owner-1", "job-1")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	event := models.TimelineEvent{
		JobID:   "job-1",
		OwnerID: "owner-1",
		Stage:   models.StagePlan,
		Phase:   models.PhaseDone,
		TS:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Message: "plan complete",
	}

	for i := 0; i < 3; i++ {
		if err := s.RecordEvent(ctx, event); err != nil {
			t.Fatalf("RecordEvent #%d: %v", i, err)
		}
	}

	timeline, err := s.GetTimeline(ctx, "owner-1", "job-1")
	if err != nil {
		t.Fatalf("GetTimeline: %v", err)
	}
	if len(timeline) != 1 {
		t.Fatalf("timeline length = %d, want 1 after replayed identical events", len(timeline))
	}

	got, err := s.GetJob(ctx, "owner-1", "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Stage != models.StagePlan {
		t.Errorf("Stage = %q, want %q", got.Stage, models.StagePlan)
	}

	docs, err := s.ListDocuments(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].JobID != "job-1" {
		t.Errorf("ListDocuments = %+v, want one row for job-1", docs)
	}
}

func TestMemoryStore_RecordEventSetsHasError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := newTestJob("owner-1", "job-1")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	failEvent := models.TimelineEvent{
		JobID:   "job-1",
		OwnerID: "owner-1",
		Stage:   models.StageWrite,
		Phase:   models.PhaseFailed,
		TS:      time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		Message: "llm gateway returned a fatal error",
	}
	if err := s.RecordEvent(ctx, failEvent); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	got, err := s.GetJob(ctx, "owner-1", "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !got.HasError {
		t.Error("HasError = false after a FAILED event")
	}
	if got.LastError != failEvent.Message {
		t.Errorf("LastError = %q, want %q", got.LastError, failEvent.Message)
	}

	doneEvent := failEvent
	doneEvent.Phase = models.PhaseDone
	doneEvent.TS = failEvent.TS.Add(time.Second)
	doneEvent.Message = "retried write succeeded"
	if err := s.RecordEvent(ctx, doneEvent); err != nil {
		t.Fatalf("RecordEvent (retry): %v", err)
	}

	got, err = s.GetJob(ctx, "owner-1", "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.HasError {
		t.Error("HasError = true after a subsequent DONE event")
	}
}

func TestMemoryStore_CompareAndSwapMemory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := newTestJob("owner-1", "job-1")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	firstSnapshot := models.MemorySnapshot{StyleNotes: []string{"use active voice"}}
	if err := s.CompareAndSwapMemory(ctx, "owner-1", "job-1", 0, firstSnapshot); err != nil {
		t.Fatalf("CompareAndSwapMemory (v0->v1): %v", err)
	}

	if err := s.CompareAndSwapMemory(ctx, "owner-1", "job-1", 0, firstSnapshot); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale CAS err = %v, want ErrVersionConflict", err)
	}

	second := models.MemorySnapshot{StyleNotes: []string{"use active voice", "avoid jargon"}}
	if err := s.CompareAndSwapMemory(ctx, "owner-1", "job-1", 1, second); err != nil {
		t.Fatalf("CompareAndSwapMemory (v1->v2): %v", err)
	}

	got, err := s.GetMemory(ctx, "owner-1", "job-1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	if len(got.StyleNotes) != 2 {
		t.Errorf("StyleNotes = %v, want 2 entries", got.StyleNotes)
	}
}

func TestMemoryStore_IncrementDiagramsRendered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := newTestJob("owner-1", "job-1")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementDiagramsRendered(ctx, "owner-1", "job-1")
		if err != nil {
			t.Fatalf("IncrementDiagramsRendered: %v", err)
		}
		if got != want {
			t.Errorf("IncrementDiagramsRendered = %d, want %d", got, want)
		}
	}
}

func TestMemoryStore_GetIncompleteJobs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	running := newTestJob("owner-1", "job-running")
	if err := s.CreateJob(ctx, running); err != nil {
		t.Fatalf("CreateJob running: %v", err)
	}

	done := newTestJob("owner-1", "job-done")
	done.Stage = models.StageFinalize
	if err := s.CreateJob(ctx, done); err != nil {
		t.Fatalf("CreateJob done: %v", err)
	}
	if err := s.RecordEvent(ctx, models.TimelineEvent{
		JobID: "job-done", OwnerID: "owner-1", Stage: models.StageFinalize,
		Phase: models.PhaseDone, TS: time.Now(),
	}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	cancelled := newTestJob("owner-1", "job-cancelled")
	if err := s.CreateJob(ctx, cancelled); err != nil {
		t.Fatalf("CreateJob cancelled: %v", err)
	}
	if err := s.SetCancelled(ctx, "owner-1", "job-cancelled"); err != nil {
		t.Fatalf("SetCancelled: %v", err)
	}

	incomplete, err := s.GetIncompleteJobs(ctx)
	if err != nil {
		t.Fatalf("GetIncompleteJobs: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].JobID != "job-running" {
		t.Errorf("GetIncompleteJobs = %+v, want only job-running", incomplete)
	}
}
