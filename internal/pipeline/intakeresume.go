package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

// NewIntakeResumeHandler builds the intake-resume stage handler. Answers
// are carried in msg.Extra["answers"] as a JSON object,
// since StageMessage.Inputs is a flat string map and answers are
// caller-supplied free text keyed by question id.
func NewIntakeResumeHandler(store objectstore.Store, broker queue.Broker, topic *statustopic.Topic, planQueue string) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		answers := map[string]string{}
		if raw, ok := msg.Extra["answers"]; ok {
			if err := json.Unmarshal(raw, &answers); err != nil {
				return StageResult{}, Validationf("intake-resume: malformed answers: %w", err)
			}
		}

		answersKey := objectstore.Path(msg.OwnerID, msg.JobID, "intake", "answers.json")
		if err := objectstore.PutJSON(ctx, store, answersKey, answers); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("intake-resume: write answers: %w", err))
		}

		title := msg.Inputs["title"]
		audience := msg.Inputs["audience"]
		cycles, _ := strconv.Atoi(msg.Inputs["cycles"])

		// intake/context.json must never contain timestamps so re-running
		// intake-resume with identical answers reproduces it byte-for-byte.
		intakeCtx := models.IntakeContext{
			Title:    title,
			Audience: audience,
			Cycles:   cycles,
			Answers:  answers,
		}
		contextKey := objectstore.Path(msg.OwnerID, msg.JobID, "intake", "context.json")
		if err := objectstore.PutJSON(ctx, store, contextKey, intakeCtx); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("intake-resume: write context: %w", err))
		}

		planMsg := models.StageMessage{
			JobID:   msg.JobID,
			OwnerID: msg.OwnerID,
			Stage:   models.StagePlan,
			TraceID: msg.TraceID,
			Attempt: 1,
		}
		if err := EnqueueAndAnnounce(ctx, broker, topic, planQueue, models.StagePlan, planMsg); err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}

		return StageResult{Artifact: contextKey, Message: "INTAKE_RESUMED"}, nil
	}
}
