package statusstore

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/metrics"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/surrealdb/surrealdb.go"
)

func first[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

// jobRow mirrors models.Job field-for-field for SurrealQL round-tripping;
// a distinct type keeps the wire shape decoupled from the exported struct
// tags callers pattern-match on.
type jobRow struct {
	JobID            string  `json:"job_id"`
	OwnerID          string  `json:"owner_id"`
	Title            string  `json:"title"`
	Audience         string  `json:"audience"`
	CyclesRequested  int     `json:"cycles_requested"`
	CyclesCompleted  int     `json:"cycles_completed"`
	Stage            string  `json:"stage"`
	Message          string  `json:"message"`
	Artifact         *string `json:"artifact,omitempty"`
	HasError         bool    `json:"has_error"`
	LastError        *string `json:"last_error,omitempty"`
	Cancelled        bool    `json:"cancelled"`
	DiagramsTotal    int     `json:"diagrams_total"`
	DiagramsRendered int     `json:"diagrams_rendered"`
	MemoryVersion    int     `json:"memory_version"`
	SchemaVersion    int     `json:"schema_version"`
}

func toJob(r jobRow, created, updated string) models.Job {
	j := models.Job{
		JobID:            r.JobID,
		OwnerID:          r.OwnerID,
		Title:            r.Title,
		Audience:         r.Audience,
		CyclesRequested:  r.CyclesRequested,
		CyclesCompleted:  r.CyclesCompleted,
		Stage:            models.Stage(r.Stage),
		Message:          r.Message,
		HasError:         r.HasError,
		Cancelled:        r.Cancelled,
		DiagramsTotal:    r.DiagramsTotal,
		DiagramsRendered: r.DiagramsRendered,
		MemoryVersion:    r.MemoryVersion,
		SchemaVersion:    r.SchemaVersion,
	}
	if r.Artifact != nil {
		j.Artifact = *r.Artifact
	}
	if r.LastError != nil {
		j.LastError = *r.LastError
	}
	return j
}

func (c *Client) CreateJob(ctx context.Context, job models.Job) error {
	start := time.Now()
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE job CONTENT {
			job_id: $job_id, owner_id: $owner_id, title: $title, audience: $audience,
			cycles_requested: $cycles_requested, cycles_completed: 0,
			stage: $stage, message: $message, has_error: false, cancelled: false,
			diagrams_total: 0, diagrams_rendered: 0, memory_version: 0,
			created_ts: time::now(), updated_ts: time::now(), schema_version: $schema_version
		}
	`, map[string]any{
		"job_id":           job.JobID,
		"owner_id":         job.OwnerID,
		"title":            job.Title,
		"audience":         job.Audience,
		"cycles_requested": job.CyclesRequested,
		"stage":            string(job.Stage),
		"message":          job.Message,
		"schema_version":   job.SchemaVersion,
	})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return wrapQueryError(fmt.Errorf("statusstore: create job: %w", err))
	}
	return nil
}

func (c *Client) RecordEvent(ctx context.Context, event models.TimelineEvent) error {
	var artifact, message *string
	if event.Artifact != "" {
		artifact = &event.Artifact
	}
	if event.Message != "" {
		message = &event.Message
	}

	start := time.Now()
	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $inserted = (
			INSERT IGNORE INTO timeline_event {
				job_id: $job_id, owner_id: $owner_id, stage: $stage, phase: $phase,
				ts: $ts, cycle: $cycle, artifact: $artifact, message: $message,
				details: $details
			}
		);
		IF array::len($inserted) > 0 {
			UPDATE job SET
				stage = $stage,
				updated_ts = $ts,
				cycles_completed = IF $cycle > 0 THEN $cycle ELSE cycles_completed END,
				message = IF $message != NONE THEN $message ELSE message END,
				artifact = IF $artifact != NONE THEN $artifact ELSE artifact END,
				has_error = IF $phase = 'FAILED' THEN true ELSE IF $phase = 'DONE' THEN false ELSE has_error END END,
				last_error = IF $phase = 'FAILED' THEN $message ELSE last_error END
			WHERE job_id = $job_id;

			UPSERT document_index CONTENT {
				owner_id: $owner_id, job_id: $job_id,
				title: (SELECT VALUE title FROM job WHERE job_id = $job_id)[0],
				audience: (SELECT VALUE audience FROM job WHERE job_id = $job_id)[0],
				stage: $stage,
				message: (SELECT VALUE message FROM job WHERE job_id = $job_id)[0],
				updated_ts: $ts,
				artifact: (SELECT VALUE artifact FROM job WHERE job_id = $job_id)[0],
				cycles_requested: (SELECT VALUE cycles_requested FROM job WHERE job_id = $job_id)[0],
				cycles_completed: (SELECT VALUE cycles_completed FROM job WHERE job_id = $job_id)[0],
				has_error: (SELECT VALUE has_error FROM job WHERE job_id = $job_id)[0],
				last_error: (SELECT VALUE last_error FROM job WHERE job_id = $job_id)[0],
				schema_version: (SELECT VALUE schema_version FROM job WHERE job_id = $job_id)[0]
			};
		};
		COMMIT TRANSACTION;
	`, map[string]any{
		"job_id":   event.JobID,
		"owner_id": event.OwnerID,
		"stage":    string(event.Stage),
		"phase":    string(event.Phase),
		"ts":       event.TS,
		"cycle":    event.Cycle,
		"artifact": artifact,
		"message":  message,
		"details":  event.Details,
	})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return wrapQueryError(fmt.Errorf("statusstore: record event: %w", err))
	}
	return nil
}

func (c *Client) GetJob(ctx context.Context, ownerID, jobID string) (*models.Job, error) {
	start := time.Now()
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT * FROM job WHERE job_id = $job_id
	`, map[string]any{"job_id": jobID})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return nil, fmt.Errorf("statusstore: get job: %w", err)
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if rows[0].OwnerID != ownerID {
		return nil, fmt.Errorf("%w: job %s", ErrNotAuthorized, jobID)
	}
	job := toJob(rows[0], "", "")
	return &job, nil
}

func (c *Client) GetTimeline(ctx context.Context, ownerID, jobID string) ([]models.TimelineEvent, error) {
	if _, err := c.GetJob(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	start := time.Now()
	results, err := surrealdb.Query[[]models.TimelineEvent](ctx, c.db, `
		SELECT job_id, owner_id, stage, phase, ts, cycle, artifact, message, details
		FROM timeline_event WHERE job_id = $job_id ORDER BY ts ASC
	`, map[string]any{"job_id": jobID})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return nil, fmt.Errorf("statusstore: get timeline: %w", err)
	}
	return first(results), nil
}

// ListDocuments searches document_index by owner rather than fetching a
// single row by key, so it's timed as OpDBSearch rather than OpDBQuery.
func (c *Client) ListDocuments(ctx context.Context, ownerID string) ([]models.DocumentIndexRow, error) {
	start := time.Now()
	results, err := surrealdb.Query[[]models.DocumentIndexRow](ctx, c.db, `
		SELECT * FROM document_index WHERE owner_id = $owner_id ORDER BY updated_ts DESC
	`, map[string]any{"owner_id": ownerID})
	c.recordQuery(metrics.OpDBSearch, start)
	if err != nil {
		return nil, fmt.Errorf("statusstore: list documents: %w", err)
	}
	return first(results), nil
}

// GetIncompleteJobs scans the whole job table rather than fetching by key,
// so it's timed as OpDBSearch rather than OpDBQuery.
func (c *Client) GetIncompleteJobs(ctx context.Context) ([]models.Job, error) {
	start := time.Now()
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT * FROM job WHERE cancelled = false AND NOT (stage = 'finalize' AND has_error = false)
	`, nil)
	c.recordQuery(metrics.OpDBSearch, start)
	if err != nil {
		return nil, fmt.Errorf("statusstore: get incomplete jobs: %w", err)
	}
	rows := first(results)
	out := make([]models.Job, len(rows))
	for i, r := range rows {
		out[i] = toJob(r, "", "")
	}
	return out, nil
}

func (c *Client) SetCancelled(ctx context.Context, ownerID, jobID string) error {
	if _, err := c.GetJob(ctx, ownerID, jobID); err != nil {
		return err
	}
	start := time.Now()
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE job SET cancelled = true WHERE job_id = $job_id
	`, map[string]any{"job_id": jobID})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return fmt.Errorf("statusstore: set cancelled: %w", err)
	}
	return nil
}

func (c *Client) GetMemory(ctx context.Context, ownerID, jobID string) (models.MemorySnapshot, error) {
	if _, err := c.GetJob(ctx, ownerID, jobID); err != nil {
		return models.MemorySnapshot{}, err
	}
	start := time.Now()
	results, err := surrealdb.Query[[]models.MemorySnapshot](ctx, c.db, `
		SELECT version, style_notes, declared_facts, glossary
		FROM memory_snapshot WHERE job_id = $job_id
	`, map[string]any{"job_id": jobID})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return models.MemorySnapshot{}, fmt.Errorf("statusstore: get memory: %w", err)
	}
	rows := first(results)
	if len(rows) == 0 {
		return models.MemorySnapshot{}, nil
	}
	return rows[0], nil
}

// CompareAndSwapMemory relies on a SurrealQL transaction to read-check-write
// atomically: UPSERT only proceeds past the WHERE guard if the stored
// version still matches expectedVersion, otherwise zero rows are touched
// and the caller is told to retry its merge.
func (c *Client) CompareAndSwapMemory(ctx context.Context, ownerID, jobID string, expectedVersion int, next models.MemorySnapshot) error {
	if _, err := c.GetJob(ctx, ownerID, jobID); err != nil {
		return err
	}
	start := time.Now()
	results, err := surrealdb.Query[[]models.MemorySnapshot](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $existing = (SELECT version FROM memory_snapshot WHERE job_id = $job_id);
		LET $current_version = IF array::len($existing) > 0 THEN $existing[0].version ELSE 0 END;
		LET $updated = IF $current_version = $expected_version THEN (
			UPSERT memory_snapshot CONTENT {
				job_id: $job_id, owner_id: $owner_id, version: $expected_version + 1,
				style_notes: $style_notes, declared_facts: $declared_facts, glossary: $glossary
			}
		) ELSE [] END;
		UPDATE job SET memory_version = $expected_version + 1
			WHERE job_id = $job_id AND $current_version = $expected_version;
		RETURN $updated;
		COMMIT TRANSACTION;
	`, map[string]any{
		"job_id":           jobID,
		"owner_id":         ownerID,
		"expected_version": expectedVersion,
		"style_notes":      next.StyleNotes,
		"declared_facts":   next.DeclaredFacts,
		"glossary":         next.Glossary,
	})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return wrapQueryError(fmt.Errorf("statusstore: compare and swap memory: %w", err))
	}
	if len(first(results)) == 0 {
		return fmt.Errorf("%w: job %s expected %d", ErrVersionConflict, jobID, expectedVersion)
	}
	return nil
}

func (c *Client) IncrementDiagramsRendered(ctx context.Context, ownerID, jobID string) (int, error) {
	if _, err := c.GetJob(ctx, ownerID, jobID); err != nil {
		return 0, err
	}
	start := time.Now()
	results, err := surrealdb.Query[[]struct {
		DiagramsRendered int `json:"diagrams_rendered"`
	}](ctx, c.db, `
		UPDATE job SET diagrams_rendered += 1 WHERE job_id = $job_id RETURN AFTER
	`, map[string]any{"job_id": jobID})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return 0, fmt.Errorf("statusstore: increment diagrams rendered: %w", err)
	}
	rows := first(results)
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return rows[0].DiagramsRendered, nil
}

func (c *Client) RecordDeadLetter(ctx context.Context, entry queue.DeadLetterEntry) error {
	start := time.Now()
	_, err := surrealdb.Query[any](ctx, c.db, `
		INSERT IGNORE INTO dead_letter {
			queue: $queue, body: $body, reason: $reason,
			delivery_count: $delivery_count, dead_lettered_at: $dead_lettered_at
		}
	`, map[string]any{
		"queue":            entry.Queue,
		"body":             string(entry.Message.Body),
		"reason":           entry.Reason,
		"delivery_count":   entry.DeliveryCount,
		"dead_lettered_at": entry.DeadLetteredAt,
	})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return fmt.Errorf("statusstore: record dead letter: %w", err)
	}
	return nil
}
