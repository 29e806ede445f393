package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

// diagramFence is one fenced code block found in a draft that names a
// diagram source language the renderer understands.
type diagramFence struct {
	sectionID string
	language  string
	source    string
}

var diagramLanguages = map[string]bool{
	"plantuml": true,
	"puml":     true,
	"mermaid":  true,
}

// NewDiagramPrepHandler builds the diagram-prep stage handler. It always
// runs (it must inspect drafts to know whether there is anything to
// render); when it finds zero diagrams it skips diagram-render entirely and
// enqueues finalize directly.
func NewDiagramPrepHandler(store objectstore.Store, broker queue.Broker, topic *statustopic.Topic, diagramRenderQueue, finalizeQueue string) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		var plan models.Plan
		if err := objectstore.GetJSON(ctx, store, objectstore.Path(msg.OwnerID, msg.JobID, "plan.json"), &plan); err != nil {
			return StageResult{}, Validationf("diagram-prep: read plan: %w", err)
		}

		var fences []diagramFence
		for _, s := range plan.Sections {
			text, err := objectstore.GetText(ctx, store, objectstore.Path(msg.OwnerID, msg.JobID, "drafts", s.ID+".md"))
			if err != nil {
				return StageResult{}, NewStageError(KindDurable, fmt.Errorf("diagram-prep: read draft %q: %w", s.ID, err))
			}
			fences = append(fences, scanFencedDiagrams(s.ID, text)...)
		}

		manifest := models.DiagramManifest{}
		for i, f := range fences {
			name := fmt.Sprintf("%s-%d", f.sectionID, i+1)
			manifest.Assets = append(manifest.Assets, models.DiagramAsset{
				Name:   name,
				Source: objectstore.Path(msg.OwnerID, msg.JobID, "diagrams", name+".puml"),
			})
			if f.source != "" {
				if err := objectstore.PutText(ctx, store, objectstore.Path(msg.OwnerID, msg.JobID, "diagrams", name+".puml"), f.source, "text/plain"); err != nil {
					return StageResult{}, NewStageError(KindDurable, fmt.Errorf("diagram-prep: persist source %q: %w", name, err))
				}
			}
		}

		manifestKey := objectstore.Path(msg.OwnerID, msg.JobID, "diagrams", "index.json")
		if err := objectstore.PutJSON(ctx, store, manifestKey, manifest); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("diagram-prep: persist manifest: %w", err))
		}

		next := models.StageMessage{JobID: msg.JobID, OwnerID: msg.OwnerID, TraceID: msg.TraceID, Attempt: 1}
		if manifest.Total() == 0 {
			next.Stage = models.StageFinalize
			if err := EnqueueAndAnnounce(ctx, broker, topic, finalizeQueue, models.StageFinalize, next); err != nil {
				return StageResult{}, NewStageError(KindDurable, err)
			}
		} else {
			for i, f := range fences {
				name := fmt.Sprintf("%s-%d", f.sectionID, i+1)
				renderMsg := next
				renderMsg.Stage = models.StageDiagramRender
				renderMsg.Inputs = map[string]string{
					string(models.InputDiagram): name,
					"source_language":           f.language,
					"source_text":               f.source,
				}
				if err := EnqueueAndAnnounce(ctx, broker, topic, diagramRenderQueue, models.StageDiagramRender, renderMsg); err != nil {
					return StageResult{}, NewStageError(KindDurable, err)
				}
			}
		}

		return StageResult{Artifact: manifestKey, Message: "DIAGRAM_PREP_DONE"}, nil
	}
}

// scanFencedDiagrams finds fenced code blocks in text whose language tag
// names a renderable diagram language, e.g. ```plantuml ... ```.
func scanFencedDiagrams(sectionID, text string) []diagramFence {
	var fences []diagramFence
	scanner := bufio.NewScanner(strings.NewReader(text))
	var inFence bool
	var lang string
	var body strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case !inFence && strings.HasPrefix(trimmed, "```"):
			candidate := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))
			if diagramLanguages[candidate] {
				inFence = true
				lang = candidate
				body.Reset()
			}
		case inFence && trimmed == "```":
			fences = append(fences, diagramFence{sectionID: sectionID, language: lang, source: body.String()})
			inFence = false
		case inFence:
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	return fences
}
