package models

import "time"

// Job is the authoritative per-job status record held in the Status Store.
type Job struct {
	JobID            string    `json:"job_id"`
	OwnerID          string    `json:"owner_id"`
	Title            string    `json:"title"`
	Audience         string    `json:"audience"`
	CyclesRequested  int       `json:"cycles_requested"`
	CyclesCompleted  int       `json:"cycles_completed"`
	Stage            Stage     `json:"stage"`
	Message          string    `json:"message"`
	Artifact         string    `json:"artifact,omitempty"`
	HasError         bool      `json:"has_error"`
	LastError        string    `json:"last_error,omitempty"`
	Cancelled        bool      `json:"cancelled"`
	DiagramsTotal    int       `json:"diagrams_total"`
	DiagramsRendered int       `json:"diagrams_rendered"`
	MemoryVersion    int       `json:"memory_version"`
	CreatedTS        time.Time `json:"created_ts"`
	UpdatedTS        time.Time `json:"updated_ts"`
	SchemaVersion    int       `json:"schema_version"`
}

// CurrentSchemaVersion is stamped on every newly created Job record.
const CurrentSchemaVersion = 1

// Phase is the lifecycle marker of a stage transition, carried on every
// timeline event and published on the Status Topic.
type Phase string

const (
	PhaseQueued Phase = "QUEUED"
	PhaseStart  Phase = "START"
	PhaseDone   Phase = "DONE"
	PhaseFailed Phase = "FAILED"
)

// TimelineDetails carries the structured metadata attached to a timeline
// event.
type TimelineDetails struct {
	DurationS     float64       `json:"duration_s,omitempty"`
	Tokens        int           `json:"tokens,omitempty"`
	Model         string        `json:"model,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	ParsedMessage *StageMessage `json:"parsed_message,omitempty"`
}

// TimelineEvent is one immutable, append-only record of a stage transition.
type TimelineEvent struct {
	JobID    string          `json:"job_id"`
	OwnerID  string          `json:"owner_id"`
	Stage    Stage           `json:"stage"`
	Phase    Phase           `json:"phase"`
	TS       time.Time       `json:"ts"`
	Cycle    int             `json:"cycle,omitempty"`
	Artifact string          `json:"artifact,omitempty"`
	Message  string          `json:"message,omitempty"`
	Details  TimelineDetails `json:"details,omitempty"`
}

// EventIdentity is the idempotence key the Status Recorder uses to dedupe
// replayed ST events: (job_id, stage, phase, ts).
func (e TimelineEvent) EventIdentity() string {
	return e.JobID + "|" + string(e.Stage) + "|" + string(e.Phase) + "|" + e.TS.Format(time.RFC3339Nano)
}

// DocumentIndexRow is the per-owner listing row, keyed by (owner_id, job_id).
type DocumentIndexRow struct {
	OwnerID         string    `json:"owner_id"`
	JobID           string    `json:"job_id"`
	Title           string    `json:"title"`
	Audience        string    `json:"audience"`
	Stage           Stage     `json:"stage"`
	Message         string    `json:"message"`
	UpdatedTS       time.Time `json:"updated_ts"`
	Artifact        string    `json:"artifact,omitempty"`
	CyclesRequested int       `json:"cycles_requested"`
	CyclesCompleted int       `json:"cycles_completed"`
	HasError        bool      `json:"has_error"`
	LastError       string    `json:"last_error,omitempty"`
	SchemaVersion   int       `json:"schema_version"`
}
