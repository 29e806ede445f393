package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/raphaelgruber/memcp-go/internal/diagram"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statusstore"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

// NewDiagramRenderHandler builds the diagram-render stage handler. To
// avoid a race deciding which delivery is "last", the handler
// uses the Status Store's atomic rendered-diagram counter rather than
// re-listing the manifest and comparing counts.
func NewDiagramRenderHandler(store objectstore.Store, status statusstore.Store, renderer diagram.Renderer, broker queue.Broker, topic *statustopic.Topic, finalizeQueue string) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		name := msg.Inputs[string(models.InputDiagram)]
		sourceLanguage := msg.Inputs["source_language"]
		sourceText := msg.Inputs["source_text"]
		if name == "" || sourceText == "" {
			return StageResult{}, Validationf("diagram-render: message missing diagram name/source")
		}

		png, err := renderer.Render(ctx, sourceLanguage, sourceText, diagram.FormatPNG)
		if err != nil {
			return StageResult{}, Transientf("diagram-render: render %q: %w", name, err)
		}
		pngKey := objectstore.Path(msg.OwnerID, msg.JobID, "diagrams", name+".png")
		if err := store.Put(ctx, pngKey, bytes.NewReader(png), int64(len(png)), "image/png"); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("diagram-render: persist %q: %w", name, err))
		}

		if err := updateManifestRendered(ctx, store, msg.OwnerID, msg.JobID, name, pngKey); err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}

		rendered, err := status.IncrementDiagramsRendered(ctx, msg.OwnerID, msg.JobID)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("diagram-render: increment counter: %w", err))
		}

		var manifest models.DiagramManifest
		if err := objectstore.GetJSON(ctx, store, objectstore.Path(msg.OwnerID, msg.JobID, "diagrams", "index.json"), &manifest); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("diagram-render: read manifest: %w", err))
		}

		result := StageResult{Artifact: pngKey, Message: "DIAGRAM_RENDER_DONE"}
		if rendered == manifest.Total() {
			finalizeMsg := models.StageMessage{JobID: msg.JobID, OwnerID: msg.OwnerID, Stage: models.StageFinalize, TraceID: msg.TraceID, Attempt: 1}
			if err := EnqueueAndAnnounce(ctx, broker, topic, finalizeQueue, models.StageFinalize, finalizeMsg); err != nil {
				return StageResult{}, NewStageError(KindDurable, err)
			}
			result.Message = "DIAGRAMS_DONE"
		}
		return result, nil
	}
}

// updateManifestRendered is a read-modify-write against the manifest blob.
// Concurrent renders for the same job can race here and lose one asset's
// Rendered flag; the "last diagram" decision itself does not depend on this
// (it uses the atomic SS counter), so a lost flag only delays that asset's
// inclusion in diagrams.zip until an operator reruns diagram-render for it.
func updateManifestRendered(ctx context.Context, store objectstore.Store, ownerID, jobID, name, pngKey string) error {
	manifestKey := objectstore.Path(ownerID, jobID, "diagrams", "index.json")
	var manifest models.DiagramManifest
	if err := objectstore.GetJSON(ctx, store, manifestKey, &manifest); err != nil {
		return fmt.Errorf("diagram-render: read manifest: %w", err)
	}
	for i, asset := range manifest.Assets {
		if asset.Name == name {
			manifest.Assets[i].PNG = name + ".png"
			manifest.Assets[i].Rendered = true
		}
	}
	return objectstore.PutJSON(ctx, store, manifestKey, manifest)
}
