package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
)

const interviewerSystemPrompt = `You are the intake interviewer for a long-form technical document.
Given a title and audience, propose 3-8 short clarifying questions that a
planner needs answered before outlining the document. Respond with a JSON
array of objects: {"id": "...", "q": "...", "sample": "..."}. The sample
field is an example answer and may be omitted.`

// NewPlanIntakeHandler builds the plan-intake stage handler.
// It calls the interviewer prompt, persists the questionnaire, and emits
// INTAKE_READY without enqueueing a next stage: the pipeline suspends until
// submit_answers delivers an intake-resume message.
func NewPlanIntakeHandler(store objectstore.Store, gateway llmgateway.Gateway) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		title := msg.Inputs["title"]
		audience := msg.Inputs["audience"]
		if title == "" || audience == "" {
			return StageResult{}, Validationf("plan-intake: message missing title/audience")
		}
		cycles, err := strconv.Atoi(msg.Inputs["cycles"])
		if err != nil || cycles < 1 || cycles > 5 {
			return StageResult{}, Validationf("plan-intake: invalid cycles %q", msg.Inputs["cycles"])
		}

		resp, err := gateway.Generate(ctx, llmgateway.Request{
			Role:         llmgateway.RolePlanner,
			SystemPrompt: interviewerSystemPrompt,
			UserPrompt:   fmt.Sprintf("Title: %s\nAudience: %s\nRequested review cycles: %d", title, audience, cycles),
		})
		if err != nil {
			return StageResult{}, Transientf("plan-intake: interviewer call: %w", err)
		}

		var questions []models.IntakeQuestion
		if err := json.Unmarshal([]byte(resp.Text), &questions); err != nil {
			return StageResult{}, NewStageError(KindLogic, fmt.Errorf("plan-intake: interviewer returned unparseable questionnaire: %w", err))
		}

		key := objectstore.Path(msg.OwnerID, msg.JobID, "intake", "questions.json")
		if err := objectstore.PutJSON(ctx, store, key, questions); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("plan-intake: write questions: %w", err))
		}

		return StageResult{
			Artifact: key,
			Tokens:   resp.PromptTokens + resp.CompletionTokens,
			Model:    resp.Model,
			Message:  "INTAKE_READY",
		}, nil
	}
}
