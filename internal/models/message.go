// Package models defines the wire and persistence types shared by the
// orchestration kernel: stage messages, job records, timeline events, the
// document index, and the per-stage artifact shapes (plan, reviews,
// diagrams).
package models

import "encoding/json"

// Stage identifies one queue/worker pair in the pipeline.
type Stage string

const (
	StageRFPAnalyze    Stage = "rfp-analyze"
	StagePlanIntake    Stage = "plan-intake"
	StageIntakeResume  Stage = "intake-resume"
	StagePlan          Stage = "plan"
	StageWrite         Stage = "write"
	StageReview        Stage = "review"
	StageVerify        Stage = "verify"
	StageRewrite       Stage = "rewrite"
	StageDiagramPrep   Stage = "diagram-prep"
	StageDiagramRender Stage = "diagram-render"
	StageFinalize      Stage = "finalize"
)

// ReviewFlavor names one reviewer variant. Only General is mandatory.
type ReviewFlavor string

const (
	ReviewGeneral  ReviewFlavor = "general"
	ReviewStyle    ReviewFlavor = "style"
	ReviewCohesion ReviewFlavor = "cohesion"
	ReviewSummary  ReviewFlavor = "summary"
)

// InputRole names a blob pointer carried in a StageMessage's Inputs map.
type InputRole string

const (
	InputSection  InputRole = "section_id"
	InputDiagram  InputRole = "diagram_name"
	InputArtifact InputRole = "artifact"
)

// StageMessage is the envelope every queue carries. Fields beyond the
// well-known ones are preserved verbatim in Extra so that a worker which
// doesn't understand a newer field still forwards it downstream unharmed.
type StageMessage struct {
	JobID   string            `json:"job_id"`
	OwnerID string            `json:"owner_id"`
	Stage   Stage             `json:"stage"`
	Cycle   int               `json:"cycle,omitempty"`
	Inputs  map[string]string `json:"inputs,omitempty"`
	Attempt int               `json:"attempt"`
	TraceID string            `json:"trace_id"`

	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON flattens Extra alongside the known fields so unknown fields
// round-trip instead of being dropped on re-enqueue.
func (m StageMessage) MarshalJSON() ([]byte, error) {
	type known StageMessage
	base, err := json.Marshal(known(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures every field not named on StageMessage into Extra.
func (m *StageMessage) UnmarshalJSON(data []byte) error {
	type known StageMessage
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*m = StageMessage(k)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known_ := map[string]struct{}{
		"job_id": {}, "owner_id": {}, "stage": {}, "cycle": {},
		"inputs": {}, "attempt": {}, "trace_id": {},
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if _, ok := known_[k]; !ok {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		m.Extra = extra
	}
	return nil
}
