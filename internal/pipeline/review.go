package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

// reviewFanoutLimit bounds concurrent flavor calls within one review
// handler invocation, using a buffered-channel semaphore rather than
// golang.org/x/sync/errgroup.
const reviewFanoutLimit = 4

var flavorSystemPrompts = map[models.ReviewFlavor]string{
	models.ReviewGeneral:  "You are the general reviewer. Find correctness, completeness and clarity issues in the drafts. Respond with JSON {\"issues\":[{\"section_id\",\"severity\",\"description\",\"suggested_patch\"}],\"needs_rewrite\":bool}.",
	models.ReviewStyle:    "You are the style reviewer. Find tone and voice inconsistencies against the plan's style guide. Respond with the same JSON issue shape as the general reviewer.",
	models.ReviewCohesion: "You are the cohesion reviewer. Find cross-section contradictions or drift from the shared glossary. Respond with the same JSON issue shape.",
	models.ReviewSummary:  "You are the summary reviewer. Check whether the executive summary accurately reflects the drafted sections. Respond with the same JSON issue shape.",
}

// NewReviewHandler builds the review stage handler. embedder
// may be nil; when present, the cohesion flavor's prompt is enriched with a
// glossary-drift similarity hint computed from it.
func NewReviewHandler(store objectstore.Store, gateway llmgateway.Gateway, embedder llmgateway.Embedder, flags config.ReviewFlags, broker queue.Broker, topic *statustopic.Topic, verifyQueue string) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		var plan models.Plan
		if err := objectstore.GetJSON(ctx, store, objectstore.Path(msg.OwnerID, msg.JobID, "plan.json"), &plan); err != nil {
			return StageResult{}, Validationf("review: read plan: %w", err)
		}

		drafts, err := loadAllDrafts(ctx, store, msg.OwnerID, msg.JobID, plan)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}

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

		notes, totalTokens, model, err := runFlavors(ctx, gateway, embedder, plan, drafts, flavors)
		if err != nil {
			return StageResult{}, Transientf("review: %w", err)
		}

		for _, note := range notes {
			key := objectstore.Path(msg.OwnerID, msg.JobID, "reviews", fmt.Sprintf("cycle-%d", msg.Cycle), string(note.Flavor)+".json")
			if err := objectstore.PutJSON(ctx, store, key, note); err != nil {
				return StageResult{}, NewStageError(KindDurable, fmt.Errorf("review: persist %s note: %w", note.Flavor, err))
			}
		}

		verifyMsg := models.StageMessage{
			JobID:   msg.JobID,
			OwnerID: msg.OwnerID,
			Stage:   models.StageVerify,
			Cycle:   msg.Cycle,
			TraceID: msg.TraceID,
			Attempt: 1,
		}
		if err := EnqueueAndAnnounce(ctx, broker, topic, verifyQueue, models.StageVerify, verifyMsg); err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}

		return StageResult{
			Tokens:  totalTokens,
			Model:   model,
			Message: "REVIEW_DONE",
		}, nil
	}
}

func loadAllDrafts(ctx context.Context, store objectstore.Store, ownerID, jobID string, plan models.Plan) (map[string]string, error) {
	drafts := make(map[string]string, len(plan.Sections))
	for _, s := range plan.Sections {
		text, err := objectstore.GetText(ctx, store, objectstore.Path(ownerID, jobID, "drafts", s.ID+".md"))
		if err != nil {
			return nil, fmt.Errorf("review: read draft %q: %w", s.ID, err)
		}
		drafts[s.ID] = text
	}
	return drafts, nil
}

func runFlavors(ctx context.Context, gateway llmgateway.Gateway, embedder llmgateway.Embedder, plan models.Plan, drafts map[string]string, flavors []models.ReviewFlavor) ([]models.ReviewNote, int, string, error) {
	type outcome struct {
		note models.ReviewNote
		err  error
	}
	results := make([]outcome, len(flavors))
	sem := make(chan struct{}, reviewFanoutLimit)
	var wg sync.WaitGroup

	for i, flavor := range flavors {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, flavor models.ReviewFlavor) {
			defer wg.Done()
			defer func() { <-sem }()
			note, err := runOneFlavor(ctx, gateway, embedder, plan, drafts, flavor)
			results[i] = outcome{note: note, err: err}
		}(i, flavor)
	}
	wg.Wait()

	notes := make([]models.ReviewNote, 0, len(flavors))
	totalTokens := 0
	model := ""
	for _, r := range results {
		if r.err != nil {
			return nil, 0, "", r.err
		}
		notes = append(notes, r.note)
		totalTokens += r.note.TokensUsed
	}
	return notes, totalTokens, model, nil
}

func runOneFlavor(ctx context.Context, gateway llmgateway.Gateway, embedder llmgateway.Embedder, plan models.Plan, drafts map[string]string, flavor models.ReviewFlavor) (models.ReviewNote, error) {
	var body strings.Builder
	for _, s := range plan.Sections {
		fmt.Fprintf(&body, "\n--- %s: %s ---\n%s\n", s.ID, s.Title, drafts[s.ID])
	}

	prompt := fmt.Sprintf("Style guide: %s\nGlossary: %v\nDrafts:%s", plan.StyleGuide, plan.Glossary, body.String())
	if flavor == models.ReviewCohesion && embedder != nil {
		if hint, err := cohesionDriftHint(ctx, embedder, plan, drafts); err == nil && hint != "" {
			prompt += "\nGlossary-drift similarity hint: " + hint
		}
	}

	resp, err := gateway.Generate(ctx, llmgateway.Request{
		Role:         llmgateway.RoleReviewer,
		SystemPrompt: flavorSystemPrompts[flavor],
		UserPrompt:   prompt,
	})
	if err != nil {
		return models.ReviewNote{}, fmt.Errorf("%s reviewer call: %w", flavor, err)
	}

	var parsed struct {
		Issues       []models.Issue `json:"issues"`
		NeedsRewrite bool           `json:"needs_rewrite"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return models.ReviewNote{}, fmt.Errorf("%s reviewer returned unparseable note: %w", flavor, err)
	}

	return models.ReviewNote{
		Flavor:       flavor,
		Issues:       parsed.Issues,
		NeedsRewrite: parsed.NeedsRewrite,
		TokensUsed:   resp.PromptTokens + resp.CompletionTokens,
	}, nil
}

// cohesionDriftHint embeds the style guide and each draft, returning a
// human-readable note about which sections have drifted furthest from the
// style guide's embedding — a cheap signal the cohesion reviewer's prompt
// can act on without the LLM itself computing similarity.
func cohesionDriftHint(ctx context.Context, embedder llmgateway.Embedder, plan models.Plan, drafts map[string]string) (string, error) {
	if plan.StyleGuide == "" {
		return "", nil
	}
	texts := make([]string, 0, len(drafts)+1)
	texts = append(texts, plan.StyleGuide)
	ids := make([]string, 0, len(drafts))
	for _, s := range plan.Sections {
		ids = append(ids, s.ID)
		texts = append(texts, drafts[s.ID])
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		return "", err
	}
	styleVec := vectors[0]
	var b strings.Builder
	for i, id := range ids {
		sim := llmgateway.CosineSimilarity(styleVec, vectors[i+1])
		fmt.Fprintf(&b, "%s=%.2f ", id, sim)
	}
	return b.String(), nil
}
