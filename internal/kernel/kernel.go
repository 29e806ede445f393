// Package kernel implements the eight operations exposed to the HTTP
// layer: everything an owner-scoped caller needs to admit, answer,
// inspect, fetch artifacts for, and resume a document job. The kernel never
// talks to an LLM or a diagram renderer itself — it only reads/writes the
// Status Store and Object Store and hands work to the pipeline's queues:
// plan-intake or rfp-analyze on admission, intake-resume on submitted
// answers, and the failed stage's own queue on resume_failed.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/pipeline"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statusstore"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

// ErrNotAuthorized mirrors statusstore.ErrNotAuthorized/objectstore.ErrNotAuthorized
// for callers that only import kernel.
var ErrNotAuthorized = statusstore.ErrNotAuthorized

// Kernel bundles the collaborators every operation needs. It holds no
// mutable state of its own; all state lives in Status/Object Store.
type Kernel struct {
	Store  statusstore.Store
	OS     objectstore.Store
	Broker queue.Broker
	Topic  *statustopic.Topic
	Queues config.QueueNames
	Log    *slog.Logger

	// now is overridable in tests for deterministic CreatedTS/UpdatedTS.
	now func() time.Time
}

// New builds a Kernel from its collaborators.
func New(store statusstore.Store, os objectstore.Store, broker queue.Broker, topic *statustopic.Topic, queues config.QueueNames) *Kernel {
	return &Kernel{Store: store, OS: os, Broker: broker, Topic: topic, Queues: queues, Log: slog.Default(), now: time.Now}
}

// StatusView is the projection get_status returns to the HTTP layer.
type StatusView struct {
	Stage     models.Stage `json:"stage"`
	Cycle     int          `json:"cycle"`
	Message   string       `json:"message"`
	Artifact  string       `json:"artifact,omitempty"`
	HasError  bool         `json:"has_error"`
	LastError string       `json:"last_error,omitempty"`
}

// AdmitJob creates a new job row and enqueues plan-intake. cycles is not
// range-checked here: the plan-intake handler rejects a value outside [1,5]
// as a validation failure;
// the kernel only rejects an empty title/audience up front so a caller gets
// a fast, synchronous error instead of a dead-lettered message.
func (k *Kernel) AdmitJob(ctx context.Context, ownerID, title, audience string, cycles int) (jobID string, err error) {
	if ownerID == "" {
		return "", fmt.Errorf("%w: empty owner_id", ErrNotAuthorized)
	}
	if title == "" || audience == "" {
		return "", fmt.Errorf("kernel: admit_job requires title and audience")
	}

	jobID = uuid.New().String()
	now := k.now()
	job := models.Job{
		JobID:           jobID,
		OwnerID:         ownerID,
		Title:           title,
		Audience:        audience,
		CyclesRequested: cycles,
		Stage:           models.StagePlanIntake,
		Message:         "ADMITTED",
		CreatedTS:       now,
		UpdatedTS:       now,
		SchemaVersion:   models.CurrentSchemaVersion,
	}
	if err := k.Store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("kernel: admit_job: %w", err)
	}

	msg := models.StageMessage{
		JobID:   jobID,
		OwnerID: ownerID,
		Stage:   models.StagePlanIntake,
		Attempt: 1,
		TraceID: uuid.New().String(),
		Inputs: map[string]string{
			"title":    title,
			"audience": audience,
			"cycles":   fmt.Sprintf("%d", cycles),
		},
	}
	if err := pipeline.EnqueueAndAnnounce(ctx, k.Broker, k.Topic, k.Queues.PlanIntake, models.StagePlanIntake, msg); err != nil {
		return "", fmt.Errorf("kernel: admit_job: %w", err)
	}
	config.StageLogger(k.Log, jobID, ownerID, string(models.StagePlanIntake), 0).Info("kernel: job admitted", "cycles_requested", cycles)
	return jobID, nil
}

// AdmitJobFromRFP creates a new job row from an uploaded RFP document's raw
// text and enqueues rfp-analyze in place of plan-intake's interview: the
// analyst infers title/audience and a clarifying questionnaire from the
// document itself, then the job suspends for submit_answers exactly like an
// interview-seeded job. Title/audience are provisional here (the analyst
// overwrites them once analysis completes) so status views have something
// to show before that finishes.
func (k *Kernel) AdmitJobFromRFP(ctx context.Context, ownerID, rfpText string, cycles int) (jobID string, err error) {
	if ownerID == "" {
		return "", fmt.Errorf("%w: empty owner_id", ErrNotAuthorized)
	}
	if rfpText == "" {
		return "", fmt.Errorf("kernel: admit_job_from_rfp requires rfp_text")
	}

	jobID = uuid.New().String()
	now := k.now()
	job := models.Job{
		JobID:           jobID,
		OwnerID:         ownerID,
		Title:           "RFP analysis pending",
		Audience:        "RFP analysis pending",
		CyclesRequested: cycles,
		Stage:           models.StageRFPAnalyze,
		Message:         "ADMITTED",
		CreatedTS:       now,
		UpdatedTS:       now,
		SchemaVersion:   models.CurrentSchemaVersion,
	}
	if err := k.Store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("kernel: admit_job_from_rfp: %w", err)
	}

	msg := models.StageMessage{
		JobID:   jobID,
		OwnerID: ownerID,
		Stage:   models.StageRFPAnalyze,
		Attempt: 1,
		TraceID: uuid.New().String(),
		Inputs:  map[string]string{"rfp_text": rfpText},
	}
	if err := pipeline.EnqueueAndAnnounce(ctx, k.Broker, k.Topic, k.Queues.RFPAnalyze, models.StageRFPAnalyze, msg); err != nil {
		return "", fmt.Errorf("kernel: admit_job_from_rfp: %w", err)
	}
	config.StageLogger(k.Log, jobID, ownerID, string(models.StageRFPAnalyze), 0).Info("kernel: job admitted from rfp", "cycles_requested", cycles)
	return jobID, nil
}

// SubmitAnswers persists the interview answers and enqueues intake-resume.
// It is idempotent on retry: re-submitting the same answers overwrites
// intake/answers.json with an identical value and re-enqueues, which the
// intake-resume handler's own idempotent context-build tolerates.
func (k *Kernel) SubmitAnswers(ctx context.Context, ownerID, jobID string, answers map[string]string) error {
	job, err := k.Store.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return fmt.Errorf("kernel: submit_answers: %w", err)
	}

	title, audience := job.Title, job.Audience
	var rfp models.RFPAnalysis
	rfpKey := objectstore.Path(ownerID, jobID, "intake", "rfp_analysis.json")
	if ok, _ := k.OS.Exists(ctx, rfpKey); ok {
		if err := objectstore.GetJSON(ctx, k.OS, rfpKey, &rfp); err != nil {
			return fmt.Errorf("kernel: submit_answers: read rfp analysis: %w", err)
		}
		title, audience = rfp.Title, rfp.Audience
	}

	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("kernel: submit_answers: marshal answers: %w", err)
	}
	msg := models.StageMessage{
		JobID:   job.JobID,
		OwnerID: ownerID,
		Stage:   models.StageIntakeResume,
		Attempt: 1,
		TraceID: uuid.New().String(),
		Inputs: map[string]string{
			"title":    title,
			"audience": audience,
			"cycles":   fmt.Sprintf("%d", job.CyclesRequested),
		},
		Extra: map[string]json.RawMessage{"answers": answersJSON},
	}
	if err := pipeline.EnqueueAndAnnounce(ctx, k.Broker, k.Topic, k.Queues.IntakeResume, models.StageIntakeResume, msg); err != nil {
		return fmt.Errorf("kernel: submit_answers: %w", err)
	}
	config.StageLogger(k.Log, jobID, ownerID, string(models.StageIntakeResume), 0).Info("kernel: answers submitted")
	return nil
}

// GetStatus returns the current stage/cycle/message/error projection.
func (k *Kernel) GetStatus(ctx context.Context, ownerID, jobID string) (StatusView, error) {
	job, err := k.Store.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return StatusView{}, fmt.Errorf("kernel: get_status: %w", err)
	}
	return StatusView{
		Stage:     job.Stage,
		Cycle:     job.CyclesCompleted,
		Message:   job.Message,
		Artifact:  job.Artifact,
		HasError:  job.HasError,
		LastError: job.LastError,
	}, nil
}

// GetTimeline returns every recorded timeline event for a job, oldest first.
func (k *Kernel) GetTimeline(ctx context.Context, ownerID, jobID string) ([]models.TimelineEvent, error) {
	events, err := k.Store.GetTimeline(ctx, ownerID, jobID)
	if err != nil {
		return nil, fmt.Errorf("kernel: get_timeline: %w", err)
	}
	return events, nil
}

// ListDocuments returns every job owned by ownerID, most recently updated first.
func (k *Kernel) ListDocuments(ctx context.Context, ownerID string) ([]models.DocumentIndexRow, error) {
	rows, err := k.Store.ListDocuments(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("kernel: list_documents: %w", err)
	}
	return rows, nil
}

// Artifact is the raw bytes plus content-type fetch_artifact/fetch_diagram_archive return.
type Artifact struct {
	Body        []byte
	ContentType string
}

// FetchArtifact reads one object-store blob by its path relative to the
// job's namespace, e.g. "final.md" or "drafts/intro.md". The lookup is
// scoped through objectstore.Path so a relativePath containing ".." cannot
// escape the job's jobs/{owner_id}/{job_id}/ prefix.
func (k *Kernel) FetchArtifact(ctx context.Context, ownerID, jobID, relativePath string) (Artifact, error) {
	if _, err := k.Store.GetJob(ctx, ownerID, jobID); err != nil {
		return Artifact{}, fmt.Errorf("kernel: fetch_artifact: %w", err)
	}
	key := objectstore.Path(ownerID, jobID, relativePath)
	if err := objectstore.CheckOwnership(key, ownerID); err != nil {
		return Artifact{}, fmt.Errorf("kernel: fetch_artifact: %w", err)
	}
	prefix := objectstore.Path(ownerID, jobID) + "/"
	if len(key) < len(prefix) || key[:len(prefix)] != prefix {
		return Artifact{}, fmt.Errorf("kernel: fetch_artifact: %w: path %q leaves the job's namespace", ErrNotAuthorized, relativePath)
	}
	rc, err := k.OS.Get(ctx, key)
	if err != nil {
		return Artifact{}, fmt.Errorf("kernel: fetch_artifact: %w", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return Artifact{}, fmt.Errorf("kernel: fetch_artifact: read %q: %w", key, err)
	}
	return Artifact{Body: body, ContentType: contentTypeFor(relativePath)}, nil
}

// FetchDiagramArchive is a thin convenience wrapper over FetchArtifact for
// the one archive path finalize produces.
func (k *Kernel) FetchDiagramArchive(ctx context.Context, ownerID, jobID string) (Artifact, error) {
	return k.FetchArtifact(ctx, ownerID, jobID, "diagrams.zip")
}

// ResumeFailed re-enqueues the input of the most recent FAILED timeline
// event: it re-emits the last failed stage's input, relying on the
// worker's idempotent outputs to guarantee no corruption on re-run.
// job.HasError is left untouched here; the status recorder clears it once the
// resumed delivery's DONE event lands.
func (k *Kernel) ResumeFailed(ctx context.Context, ownerID, jobID string) error {
	job, err := k.Store.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return fmt.Errorf("kernel: resume_failed: %w", err)
	}
	if !job.HasError {
		return fmt.Errorf("kernel: resume_failed: job %s has no failed stage to resume", jobID)
	}

	events, err := k.Store.GetTimeline(ctx, ownerID, jobID)
	if err != nil {
		return fmt.Errorf("kernel: resume_failed: %w", err)
	}
	var lastFailed *models.TimelineEvent
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Phase == models.PhaseFailed {
			lastFailed = &events[i]
			break
		}
	}
	if lastFailed == nil {
		return fmt.Errorf("kernel: resume_failed: no FAILED event found for job %s", jobID)
	}
	if lastFailed.Details.ParsedMessage == nil {
		return fmt.Errorf("kernel: resume_failed: FAILED event for job %s carries no resumable message", jobID)
	}

	queueName, ok := queueForStage(k.Queues, lastFailed.Stage)
	if !ok {
		return fmt.Errorf("kernel: resume_failed: no queue configured for stage %q", lastFailed.Stage)
	}

	msg := *lastFailed.Details.ParsedMessage
	msg.Attempt++
	reconcileResumeCycle(&msg, job)
	log := config.StageLogger(k.Log, jobID, ownerID, string(lastFailed.Stage), msg.Cycle)
	if err := pipeline.EnqueueAndAnnounce(ctx, k.Broker, k.Topic, queueName, lastFailed.Stage, msg); err != nil {
		log.Error("kernel: resume_failed: re-enqueue failed", "error", err)
		return err
	}
	log.Info("kernel: resumed failed stage", "attempt", msg.Attempt)
	return nil
}

// reconcileResumeCycle corrects msg.Cycle against the job's authoritative
// CyclesCompleted before a resumed message is replayed. The FAILED event's
// ParsedMessage is a snapshot taken at the moment the stage failed; if a
// later cycle has since completed for this job (e.g. an operator resumes an
// old failure after the job progressed further through a parallel delivery),
// replaying the stale cycle would redo already-finished review work.
func reconcileResumeCycle(msg *models.StageMessage, job *models.Job) {
	if msg.Cycle < job.CyclesCompleted {
		msg.Cycle = job.CyclesCompleted
	}
}

// IsFeatureAllowed reports whether ownerID has been granted featureKey,
// e.g. an early-access reviewer flavor or diagram renderer gated behind a
// rollout flag.
func (k *Kernel) IsFeatureAllowed(ctx context.Context, featureKey, ownerID string) (bool, error) {
	allowed, err := k.Store.IsFeatureAllowed(ctx, featureKey, ownerID)
	if err != nil {
		return false, fmt.Errorf("kernel: is_feature_allowed: %w", err)
	}
	return allowed, nil
}

// ListFeatures returns every feature key granted to ownerID.
func (k *Kernel) ListFeatures(ctx context.Context, ownerID string) ([]string, error) {
	features, err := k.Store.ListFeatures(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("kernel: list_features: %w", err)
	}
	return features, nil
}

// GrantFeature grants featureKey to ownerID. Operator-only: there is no
// caller-facing path to grant oneself a feature.
func (k *Kernel) GrantFeature(ctx context.Context, featureKey, ownerID string) error {
	if err := k.Store.GrantFeature(ctx, featureKey, ownerID); err != nil {
		return fmt.Errorf("kernel: grant_feature: %w", err)
	}
	config.StageLogger(k.Log, "", ownerID, "", 0).Info("kernel: feature granted", "feature_key", featureKey)
	return nil
}

func queueForStage(q config.QueueNames, stage models.Stage) (string, bool) {
	switch stage {
	case models.StageRFPAnalyze:
		return q.RFPAnalyze, true
	case models.StagePlanIntake:
		return q.PlanIntake, true
	case models.StageIntakeResume:
		return q.IntakeResume, true
	case models.StagePlan:
		return q.Plan, true
	case models.StageWrite:
		return q.Write, true
	case models.StageReview:
		return q.Review, true
	case models.StageVerify:
		return q.Verify, true
	case models.StageRewrite:
		return q.Rewrite, true
	case models.StageDiagramPrep:
		return q.DiagramPrep, true
	case models.StageDiagramRender:
		return q.DiagramRender, true
	case models.StageFinalize:
		return q.Finalize, true
	default:
		return "", false
	}
}

func contentTypeFor(relativePath string) string {
	switch {
	case hasSuffix(relativePath, ".md"):
		return "text/markdown; charset=utf-8"
	case hasSuffix(relativePath, ".json"):
		return "application/json"
	case hasSuffix(relativePath, ".pdf"):
		return "application/pdf"
	case hasSuffix(relativePath, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case hasSuffix(relativePath, ".zip"):
		return "application/zip"
	case hasSuffix(relativePath, ".png"):
		return "image/png"
	case hasSuffix(relativePath, ".svg"):
		return "image/svg+xml"
	case hasSuffix(relativePath, ".puml"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
