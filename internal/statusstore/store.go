// Package statusstore implements the Status Store: per-job records, an
// append-only timeline, a document index keyed by (owner_id, job_id), and
// the compare-and-swap memory snapshot used to serialize concurrent
// section writers.
package statusstore

import (
	"context"
	"errors"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/queue"
)

// ErrNotFound indicates the requested job or row does not exist.
var ErrNotFound = errors.New("statusstore: not found")

// ErrNotAuthorized indicates a lookup's owner_id did not match the job's.
var ErrNotAuthorized = errors.New("statusstore: not authorized")

// ErrVersionConflict is returned by CompareAndSwapMemory when
// expectedVersion no longer matches the stored version.
var ErrVersionConflict = errors.New("statusstore: memory version conflict")

// ErrAlreadyExists is returned by CreateJob on a duplicate job_id.
var ErrAlreadyExists = errors.New("statusstore: job already exists")

// Store is the Status Store contract. Every method that addresses a job
// takes ownerID and enforces it against the stored record.
type Store interface {
	// CreateJob inserts a new job row at admission time, before any status
	// event exists. Returns ErrAlreadyExists-wrapped error on a duplicate
	// job_id (defense against a retried admit_job).
	CreateJob(ctx context.Context, job models.Job) error

	// RecordEvent appends a timeline event, upserts the job row's mutable
	// fields from the event's own fields, and upserts the document index row. Idempotent
	// against a replayed event sharing the same EventIdentity().
	RecordEvent(ctx context.Context, event models.TimelineEvent) error

	GetJob(ctx context.Context, ownerID, jobID string) (*models.Job, error)
	GetTimeline(ctx context.Context, ownerID, jobID string) ([]models.TimelineEvent, error)
	ListDocuments(ctx context.Context, ownerID string) ([]models.DocumentIndexRow, error)

	// GetIncompleteJobs returns every job whose stage has not reached a
	// terminal state, for worker-restart resumption.
	GetIncompleteJobs(ctx context.Context) ([]models.Job, error)

	// SetCancelled sets the job's cancelled flag. GetIncompleteJobs leaves
	// cancelled jobs out; stage workers do not read the flag, so messages
	// already queued for the job still run.
	SetCancelled(ctx context.Context, ownerID, jobID string) error

	// GetMemory returns the current memory snapshot and its version.
	GetMemory(ctx context.Context, ownerID, jobID string) (models.MemorySnapshot, error)
	// CompareAndSwapMemory stores next if the job's stored memory_version
	// equals expectedVersion, atomically bumping the version. Returns
	// ErrVersionConflict on mismatch so the caller can re-read and retry
	// its merge.
	CompareAndSwapMemory(ctx context.Context, ownerID, jobID string, expectedVersion int, next models.MemorySnapshot) error

	// IncrementDiagramsRendered atomically bumps the job's rendered-diagram
	// counter and returns the new total, used to decide which
	// diagram-render delivery is "last" without a race.
	IncrementDiagramsRendered(ctx context.Context, ownerID, jobID string) (int, error)

	// RecordDeadLetter persists a terminal queue message for operator
	// visibility and resume_failed. Satisfies queue.DeadLetterSink.
	RecordDeadLetter(ctx context.Context, entry queue.DeadLetterEntry) error

	// IsFeatureAllowed reports whether featureKey has been granted to
	// ownerID: a point lookup on the (feature_key, owner_id) grant, absence
	// meaning denied rather than an error.
	IsFeatureAllowed(ctx context.Context, featureKey, ownerID string) (bool, error)

	// ListFeatures returns every feature key granted to ownerID, sorted.
	ListFeatures(ctx context.Context, ownerID string) ([]string, error)

	// GrantFeature records a feature grant for ownerID, idempotently.
	GrantFeature(ctx context.Context, featureKey, ownerID string) error
}

var _ queue.DeadLetterSink = Store(nil)
