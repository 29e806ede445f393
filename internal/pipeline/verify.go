package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

const verifierSystemPrompt = `You are the verifier. Cross-check the drafted sections against each other
for factual contradictions the individual reviewers may have missed.
Respond with JSON {"contradictions":[{"section_ids":[...],"description":""}],"needs_rewrite":bool}.`

// NewVerifyHandler builds the verify stage handler. It reads back this
// cycle's review notes to fold in their needs_rewrite verdicts, then applies
// the cycle bound: once cycle+1 exceeds cycles_requested, rewrite is
// bypassed and diagram-prep runs regardless.
func NewVerifyHandler(store objectstore.Store, gateway llmgateway.Gateway, flags config.ReviewFlags, broker queue.Broker, topic *statustopic.Topic, rewriteQueue, diagramPrepQueue string) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		var plan models.Plan
		if err := objectstore.GetJSON(ctx, store, objectstore.Path(msg.OwnerID, msg.JobID, "plan.json"), &plan); err != nil {
			return StageResult{}, Validationf("verify: read plan: %w", err)
		}
		drafts, err := loadAllDrafts(ctx, store, msg.OwnerID, msg.JobID, plan)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}

		reviewNeedsRewrite, err := loadReviewVerdict(ctx, store, msg.OwnerID, msg.JobID, msg.Cycle, flags)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}

		var body strings.Builder
		for _, s := range plan.Sections {
			fmt.Fprintf(&body, "\n--- %s ---\n%s\n", s.ID, drafts[s.ID])
		}
		resp, err := gateway.Generate(ctx, llmgateway.Request{
			Role:         llmgateway.RoleReviewer,
			SystemPrompt: verifierSystemPrompt,
			UserPrompt:   body.String(),
		})
		if err != nil {
			return StageResult{}, Transientf("verify: verifier call: %w", err)
		}
		var report models.VerifyReport
		if err := json.Unmarshal([]byte(resp.Text), &report); err != nil {
			return StageResult{}, NewStageError(KindLogic, fmt.Errorf("verify: unparseable verify report: %w", err))
		}

		reportKey := objectstore.Path(msg.OwnerID, msg.JobID, "reviews", fmt.Sprintf("cycle-%d", msg.Cycle), "verify.json")
		if err := objectstore.PutJSON(ctx, store, reportKey, report); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("verify: persist report: %w", err))
		}

		cyclesRequested, err := readCyclesRequested(ctx, store, msg.OwnerID, msg.JobID)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}

		needsRewrite := report.NeedsRewrite || reviewNeedsRewrite
		cycleBudgetExhausted := msg.Cycle+1 > cyclesRequested

		next := models.StageMessage{
			JobID:   msg.JobID,
			OwnerID: msg.OwnerID,
			TraceID: msg.TraceID,
			Attempt: 1,
		}
		if needsRewrite && !cycleBudgetExhausted {
			next.Stage = models.StageRewrite
			next.Cycle = msg.Cycle
			if err := EnqueueAndAnnounce(ctx, broker, topic, rewriteQueue, models.StageRewrite, next); err != nil {
				return StageResult{}, NewStageError(KindDurable, err)
			}
		} else {
			next.Stage = models.StageDiagramPrep
			if err := EnqueueAndAnnounce(ctx, broker, topic, diagramPrepQueue, models.StageDiagramPrep, next); err != nil {
				return StageResult{}, NewStageError(KindDurable, err)
			}
		}

		return StageResult{Artifact: reportKey, Message: "VERIFY_DONE"}, nil
	}
}

func loadReviewVerdict(ctx context.Context, store objectstore.Store, ownerID, jobID string, cycle int, flags config.ReviewFlags) (bool, error) {
	flavors := []models.ReviewFlavor{models.ReviewGeneral}
	if flags.Style {
		flavors = append(flavors, models.ReviewStyle)
	}
	if flags.Cohesion {
		flavors = append(flavors, models.ReviewCohesion)
	}
	if flags.Summary {
		flavors = append(flavors, models.ReviewSummary)
	}
	var notes []models.ReviewNote
	for _, flavor := range flavors {
		var note models.ReviewNote
		key := objectstore.Path(ownerID, jobID, "reviews", fmt.Sprintf("cycle-%d", cycle), string(flavor)+".json")
		if err := objectstore.GetJSON(ctx, store, key, &note); err != nil {
			return false, fmt.Errorf("verify: read %s review note: %w", flavor, err)
		}
		notes = append(notes, note)
	}
	return NeedsRewrite(notes), nil
}

func readCyclesRequested(ctx context.Context, store objectstore.Store, ownerID, jobID string) (int, error) {
	var intakeCtx models.IntakeContext
	if err := objectstore.GetJSON(ctx, store, objectstore.Path(ownerID, jobID, "intake", "context.json"), &intakeCtx); err != nil {
		return 0, fmt.Errorf("verify: read intake context for cycle bound: %w", err)
	}
	return intakeCtx.Cycles, nil
}
