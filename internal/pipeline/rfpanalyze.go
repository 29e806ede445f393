package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
)

const rfpAnalystSystemPrompt = `You are an expert proposal analyst. Analyze the RFP content, infer a
document title and audience, extract precise requirements, and propose
clarifying questions only when needed to close gaps. Respond with a JSON
object: {"title": "...", "audience": "...", "summary": "...",
"requirements": [{"id": "RFP-REQ-001", "text": "...", "priority": "...",
"section_ref": "..."}], "questions": [{"id": "...", "q": "...", "sample": "..."}]}.
Requirement ids must follow the "RFP-REQ-###" pattern with 1-based
numbering. Propose at most 20 questions.`

// NewRFPAnalyzeHandler builds the rfp-analyze stage handler: the entry
// point for jobs admitted from an uploaded RFP document rather than a bare
// title/audience pair. It infers title/audience/requirements from the raw
// document text and produces the same intake questionnaire shape
// plan-intake does, so submit_answers and intake-resume treat both entry
// points identically. Like plan-intake, it suspends the job (no next-stage
// enqueue) until submit_answers delivers an intake-resume message.
func NewRFPAnalyzeHandler(store objectstore.Store, gateway llmgateway.Gateway) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		rfpText := msg.Inputs["rfp_text"]
		if rfpText == "" {
			return StageResult{}, Validationf("rfp-analyze: message missing rfp_text")
		}

		resp, err := gateway.Generate(ctx, llmgateway.Request{
			Role:         llmgateway.RoleRFP,
			SystemPrompt: rfpAnalystSystemPrompt,
			UserPrompt:   rfpText,
		})
		if err != nil {
			return StageResult{}, Transientf("rfp-analyze: analyst call: %w", err)
		}

		var analysis models.RFPAnalysis
		if err := json.Unmarshal([]byte(resp.Text), &analysis); err != nil {
			return StageResult{}, NewStageError(KindLogic, fmt.Errorf("rfp-analyze: analyst returned unparseable analysis: %w", err))
		}
		if analysis.Title == "" || analysis.Audience == "" {
			return StageResult{}, NewStageError(KindLogic, fmt.Errorf("rfp-analyze: analysis missing title/audience"))
		}

		analysisKey := objectstore.Path(msg.OwnerID, msg.JobID, "intake", "rfp_analysis.json")
		if err := objectstore.PutJSON(ctx, store, analysisKey, analysis); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("rfp-analyze: write analysis: %w", err))
		}

		questionsKey := objectstore.Path(msg.OwnerID, msg.JobID, "intake", "questions.json")
		if err := objectstore.PutJSON(ctx, store, questionsKey, analysis.Questions); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("rfp-analyze: write questions: %w", err))
		}

		return StageResult{
			Artifact: analysisKey,
			Tokens:   resp.PromptTokens + resp.CompletionTokens,
			Model:    resp.Model,
			Message:  "RFP_ANALYZED",
		}, nil
	}
}
