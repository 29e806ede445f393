package pipeline

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

const rewriterSystemPrompt = `You are the rewriter. Revise the given section to resolve the listed
issues while preserving everything not flagged. Return only the revised
section's Markdown body.`

// NewRewriteHandler builds the rewrite stage handler. Every
// section named by an issue in any of this cycle's review notes is
// rewritten (verify.json is not read here); the result is written to both
// rewrites/cycle-{n}/{id}.md and overwrites drafts/{id}.md, so the next
// cycle's dependency-ready and prerequisite-summary logic keeps working off
// a single canonical draft path.
func NewRewriteHandler(store objectstore.Store, gateway llmgateway.Gateway, broker queue.Broker, topic *statustopic.Topic, reviewQueue string) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		flaggedSections, err := flaggedSectionIssues(ctx, store, msg.OwnerID, msg.JobID, msg.Cycle)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}
		if len(flaggedSections) == 0 {
			return StageResult{}, Logicf("rewrite: cycle %d has no flagged sections to rewrite", msg.Cycle)
		}

		totalTokens := 0
		model := ""
		for sectionID, issues := range flaggedSections {
			originalKey := objectstore.Path(msg.OwnerID, msg.JobID, "drafts", sectionID+".md")
			original, err := objectstore.GetText(ctx, store, originalKey)
			if err != nil {
				return StageResult{}, NewStageError(KindDurable, fmt.Errorf("rewrite: read original draft %q: %w", sectionID, err))
			}

			resp, err := gateway.Generate(ctx, llmgateway.Request{
				Role:         llmgateway.RoleWriter,
				SystemPrompt: rewriterSystemPrompt,
				UserPrompt:   fmt.Sprintf("Original section:\n%s\n\nIssues to resolve:\n%v", original, issues),
			})
			if err != nil {
				return StageResult{}, Transientf("rewrite: writer call for %q: %w", sectionID, err)
			}
			totalTokens += resp.PromptTokens + resp.CompletionTokens
			model = resp.Model

			rewriteKey := objectstore.Path(msg.OwnerID, msg.JobID, "rewrites", fmt.Sprintf("cycle-%d", msg.Cycle), sectionID+".md")
			if err := objectstore.PutText(ctx, store, rewriteKey, resp.Text, ""); err != nil {
				return StageResult{}, NewStageError(KindDurable, fmt.Errorf("rewrite: persist rewrite %q: %w", sectionID, err))
			}
			if err := objectstore.PutText(ctx, store, originalKey, resp.Text, ""); err != nil {
				return StageResult{}, NewStageError(KindDurable, fmt.Errorf("rewrite: overwrite draft %q: %w", sectionID, err))
			}
		}

		nextReview := models.StageMessage{
			JobID:   msg.JobID,
			OwnerID: msg.OwnerID,
			Stage:   models.StageReview,
			Cycle:   msg.Cycle + 1,
			TraceID: msg.TraceID,
			Attempt: 1,
		}
		if err := EnqueueAndAnnounce(ctx, broker, topic, reviewQueue, models.StageReview, nextReview); err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}

		return StageResult{Tokens: totalTokens, Model: model, Message: "REWRITE_DONE"}, nil
	}
}

// flaggedSectionIssues collects every issue raised against a section by any
// review note for cycle, keyed by section id.
func flaggedSectionIssues(ctx context.Context, store objectstore.Store, ownerID, jobID string, cycle int) (map[string][]models.Issue, error) {
	prefix := objectstore.Path(ownerID, jobID, "reviews", fmt.Sprintf("cycle-%d", cycle))
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("rewrite: list review notes: %w", err)
	}

	bySection := make(map[string][]models.Issue)
	for _, key := range keys {
		if key == prefix+"/verify.json" {
			continue
		}
		var note models.ReviewNote
		if err := objectstore.GetJSON(ctx, store, key, &note); err != nil {
			return nil, fmt.Errorf("rewrite: read review note %q: %w", key, err)
		}
		for _, issue := range note.Issues {
			bySection[issue.SectionID] = append(bySection[issue.SectionID], issue)
		}
	}
	return bySection, nil
}
