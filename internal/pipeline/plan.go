package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

const plannerSystemPrompt = `You are the planning agent for a long-form technical document (target
60+ pages). Given the intake context, produce a JSON plan object:
{"sections": [{"id","title","depends_on":[],"diagram_specs":[{"name","source_language"}],"target_words"}],
"glossary": [...], "style_guide": "...", "constraints": [...]}.
Section ids must be unique; depends_on may only name ids appearing earlier
in the sections array. Include at least one section.`

// NewPlanHandler builds the plan stage handler. A planner
// response that fails Plan.Validate triggers exactly one in-place repair
// retry with the validation error appended to the prompt; a second failure
// dead-letters the job with kind=logic.
func NewPlanHandler(store objectstore.Store, gateway llmgateway.Gateway, broker queue.Broker, topic *statustopic.Topic, writeQueue string) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		var intakeCtx models.IntakeContext
		contextKey := objectstore.Path(msg.OwnerID, msg.JobID, "intake", "context.json")
		if err := objectstore.GetJSON(ctx, store, contextKey, &intakeCtx); err != nil {
			return StageResult{}, Validationf("plan: read intake context: %w", err)
		}

		prompt := fmt.Sprintf("Title: %s\nAudience: %s\nCycles requested: %d\nAnswers: %v",
			intakeCtx.Title, intakeCtx.Audience, intakeCtx.Cycles, intakeCtx.Answers)

		plan, resp, genErr, validationErr := callPlanner(ctx, gateway, prompt)
		if genErr != nil {
			return StageResult{}, Transientf("plan: planner call: %w", genErr)
		}
		if validationErr != nil {
			// A validation failure gets exactly one in-place repair retry
			// before the job is dead-lettered.
			repairPrompt := prompt + fmt.Sprintf("\n\nYour previous plan was rejected: %v. Produce a corrected plan.", validationErr)
			plan, resp, genErr, validationErr = callPlanner(ctx, gateway, repairPrompt)
			if genErr != nil {
				return StageResult{}, Transientf("plan: repair planner call: %w", genErr)
			}
			if validationErr != nil {
				return StageResult{}, NewStageError(KindLogic, fmt.Errorf("plan: repair attempt still invalid: %w", validationErr))
			}
		}

		planKey := objectstore.Path(msg.OwnerID, msg.JobID, "plan.json")
		if err := objectstore.PutJSON(ctx, store, planKey, plan); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("plan: write plan.json: %w", err))
		}

		for _, section := range plan.Sections {
			writeMsg := models.StageMessage{
				JobID:   msg.JobID,
				OwnerID: msg.OwnerID,
				Stage:   models.StageWrite,
				TraceID: msg.TraceID,
				Attempt: 1,
				Inputs:  map[string]string{string(models.InputSection): section.ID},
			}
			if err := EnqueueAndAnnounce(ctx, broker, topic, writeQueue, models.StageWrite, writeMsg); err != nil {
				return StageResult{}, NewStageError(KindDurable, err)
			}
		}

		return StageResult{
			Artifact: planKey,
			Tokens:   resp.PromptTokens + resp.CompletionTokens,
			Model:    resp.Model,
			Message:  "PLAN_DONE",
		}, nil
	}
}

// callPlanner separates transport failures (genErr, always transient) from
// output-shape failures (validationErr, repair-retryable).
func callPlanner(ctx context.Context, gateway llmgateway.Gateway, userPrompt string) (plan models.Plan, resp llmgateway.Response, genErr, validationErr error) {
	resp, genErr = gateway.Generate(ctx, llmgateway.Request{
		Role:         llmgateway.RolePlanner,
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   userPrompt,
	})
	if genErr != nil {
		return models.Plan{}, resp, genErr, nil
	}
	if err := json.Unmarshal([]byte(resp.Text), &plan); err != nil {
		return models.Plan{}, resp, nil, fmt.Errorf("unparseable plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return models.Plan{}, resp, nil, err
	}
	return plan, resp, nil, nil
}
