package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statusstore"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

const writerSystemPrompt = `You are the writer agent. Draft the requested section in Markdown, using
the provided prerequisite summaries and shared memory (style notes, declared
facts, glossary) for continuity. Return only the section's Markdown body.`

const maxMemoryCASAttempts = 5

// NewWriteHandler builds the write stage handler. Each
// message addresses one section; if its dependencies aren't ready yet the
// handler abandons the delivery with dependencyRetryDelay so Worker.Run
// backs off rather than busy-looping the queue until the sibling section
// finishes, or dead-lettering it.
func NewWriteHandler(store objectstore.Store, status statusstore.Store, gateway llmgateway.Gateway, broker queue.Broker, topic *statustopic.Topic, reviewQueue string, dependencyRetryDelay time.Duration) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		sectionID := msg.Inputs[string(models.InputSection)]
		if sectionID == "" {
			return StageResult{}, Validationf("write: message missing section id")
		}

		var plan models.Plan
		planKey := objectstore.Path(msg.OwnerID, msg.JobID, "plan.json")
		if err := objectstore.GetJSON(ctx, store, planKey, &plan); err != nil {
			return StageResult{}, Validationf("write: read plan: %w", err)
		}
		idx := plan.SectionIndex(sectionID)
		if idx < 0 {
			return StageResult{}, Validationf("write: unknown section %q", sectionID)
		}
		section := plan.Sections[idx]

		ready, err := SectionReady(ctx, store, msg.OwnerID, msg.JobID, plan, section)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("write: dependency check: %w", err))
		}
		if !ready {
			return StageResult{}, TransientWithDelay(dependencyRetryDelay, "write: section %q not dependency-ready yet", sectionID)
		}

		summaries, err := prerequisiteSummaries(ctx, store, msg.OwnerID, msg.JobID, section)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}

		memory, err := status.GetMemory(ctx, msg.OwnerID, msg.JobID)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("write: read memory: %w", err))
		}

		resp, err := gateway.Generate(ctx, llmgateway.Request{
			Role:         llmgateway.RoleWriter,
			SystemPrompt: writerSystemPrompt,
			UserPrompt: fmt.Sprintf("Section: %s (%s)\nTarget words: %d\nPrerequisite summaries:\n%s\nStyle notes: %v\nDeclared facts: %v\nGlossary: %v",
				section.ID, section.Title, section.TargetWords, summaries, memory.StyleNotes, memory.DeclaredFacts, memory.Glossary),
		})
		if err != nil {
			return StageResult{}, Transientf("write: writer call for %q: %w", sectionID, err)
		}

		draftKey := objectstore.Path(msg.OwnerID, msg.JobID, "drafts", sectionID+".md")
		if err := objectstore.PutText(ctx, store, draftKey, resp.Text, ""); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("write: persist draft: %w", err))
		}

		if err := mergeMemoryIncrement(ctx, status, msg.OwnerID, msg.JobID, section, resp.Text); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("write: merge memory: %w", err))
		}

		if isLastSection(plan, msg.OwnerID, msg.JobID, ctx, store) {
			reviewMsg := models.StageMessage{
				JobID:   msg.JobID,
				OwnerID: msg.OwnerID,
				Stage:   models.StageReview,
				Cycle:   1,
				TraceID: msg.TraceID,
				Attempt: 1,
			}
			if err := EnqueueAndAnnounce(ctx, broker, topic, reviewQueue, models.StageReview, reviewMsg); err != nil {
				return StageResult{}, NewStageError(KindDurable, err)
			}
		}

		return StageResult{
			Artifact: draftKey,
			Tokens:   resp.PromptTokens + resp.CompletionTokens,
			Model:    resp.Model,
			Message:  "WRITE_DONE",
		}, nil
	}
}

func prerequisiteSummaries(ctx context.Context, store objectstore.Store, ownerID, jobID string, section models.Section) (string, error) {
	summary := ""
	for _, dep := range section.DependsOn {
		text, err := objectstore.GetText(ctx, store, objectstore.Path(ownerID, jobID, "drafts", dep+".md"))
		if err != nil {
			return "", fmt.Errorf("read prerequisite %q: %w", dep, err)
		}
		summary += fmt.Sprintf("\n--- %s ---\n%s\n", dep, text)
	}
	return summary, nil
}

// mergeMemoryIncrement folds one section's contribution into the job's
// shared memory snapshot via optimistic concurrency: read, merge, write
// with the version guard, retrying the whole read-merge-write on conflict.
// Strict CAS is used here rather than eventual consistency at finalize
// because concurrent section writers race on the same memory snapshot.
func mergeMemoryIncrement(ctx context.Context, status statusstore.Store, ownerID, jobID string, section models.Section, draftText string) error {
	for attempt := 0; attempt < maxMemoryCASAttempts; attempt++ {
		current, err := status.GetMemory(ctx, ownerID, jobID)
		if err != nil {
			return err
		}
		next := current
		if next.DeclaredFacts == nil {
			next.DeclaredFacts = map[string]string{}
		}
		next.DeclaredFacts[section.ID] = fmt.Sprintf("section %q written (%d chars)", section.Title, len(draftText))

		err = status.CompareAndSwapMemory(ctx, ownerID, jobID, current.Version, next)
		if err == nil {
			return nil
		}
		if errors.Is(err, statusstore.ErrVersionConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("write: memory CAS did not converge after %d attempts", maxMemoryCASAttempts)
}

// isLastSection reports whether every section in plan now has a persisted
// draft, the trigger condition for enqueueing review.
func isLastSection(plan models.Plan, ownerID, jobID string, ctx context.Context, store objectstore.Store) bool {
	for _, s := range plan.Sections {
		ok, err := store.Exists(ctx, objectstore.Path(ownerID, jobID, "drafts", s.ID+".md"))
		if err != nil || !ok {
			return false
		}
	}
	return true
}
