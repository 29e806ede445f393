package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/memcp-go/internal/convert"
	"github.com/raphaelgruber/memcp-go/internal/diagram"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
)

// NewFinalizeHandler builds the finalize stage handler. It
// is terminal: no further enqueue. A conversion failure against the
// (external) converter degrades gracefully — final.md is always produced,
// PDF/DOCX are best-effort — so a converter outage never blocks a job that
// otherwise completed successfully.
func NewFinalizeHandler(store objectstore.Store, converter convert.Converter, log stageLogger) Handler {
	return func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		var plan models.Plan
		if err := objectstore.GetJSON(ctx, store, objectstore.Path(msg.OwnerID, msg.JobID, "plan.json"), &plan); err != nil {
			return StageResult{}, Validationf("finalize: read plan: %w", err)
		}
		drafts, err := loadAllDrafts(ctx, store, msg.OwnerID, msg.JobID, plan)
		if err != nil {
			return StageResult{}, NewStageError(KindDurable, err)
		}
		var manifest models.DiagramManifest
		_ = objectstore.GetJSON(ctx, store, objectstore.Path(msg.OwnerID, msg.JobID, "diagrams", "index.json"), &manifest)

		final := assembleFinalMarkdown(plan, drafts, manifest)
		finalKey := objectstore.Path(msg.OwnerID, msg.JobID, "final.md")
		if err := objectstore.PutText(ctx, store, finalKey, final, "text/markdown; charset=utf-8"); err != nil {
			return StageResult{}, NewStageError(KindDurable, fmt.Errorf("finalize: persist final.md: %w", err))
		}

		if converter != nil {
			if pdf, err := converter.Convert(ctx, final, convert.FormatPDF); err != nil {
				log.Warn("finalize: pdf conversion failed, final.md still produced", "error", err)
			} else if err := store.Put(ctx, objectstore.Path(msg.OwnerID, msg.JobID, "final.pdf"), bytes.NewReader(pdf), int64(len(pdf)), "application/pdf"); err != nil {
				log.Warn("finalize: persist final.pdf failed", "error", err)
			}
			if docx, err := converter.Convert(ctx, final, convert.FormatDOCX); err != nil {
				log.Warn("finalize: docx conversion failed, final.md still produced", "error", err)
			} else if err := store.Put(ctx, objectstore.Path(msg.OwnerID, msg.JobID, "final.docx"), bytes.NewReader(docx), int64(len(docx)), "application/vnd.openxmlformats-officedocument.wordprocessingml.document"); err != nil {
				log.Warn("finalize: persist final.docx failed", "error", err)
			}
		}

		if manifest.Total() > 0 {
			var zipBuf bytes.Buffer
			if err := diagram.BundleZip(ctx, store, msg.OwnerID, msg.JobID, manifest, &zipBuf); err != nil {
				log.Warn("finalize: diagram bundling failed", "error", err)
			} else if err := store.Put(ctx, objectstore.Path(msg.OwnerID, msg.JobID, "diagrams.zip"), bytes.NewReader(zipBuf.Bytes()), int64(zipBuf.Len()), "application/zip"); err != nil {
				log.Warn("finalize: persist diagrams.zip failed", "error", err)
			}
		}

		return StageResult{Artifact: finalKey, Message: "FINALIZE_DONE"}, nil
	}
}

// stageLogger is the minimal logging seam finalize needs; *slog.Logger
// satisfies it.
type stageLogger interface {
	Warn(msg string, args ...any)
}

func assembleFinalMarkdown(plan models.Plan, drafts map[string]string, manifest models.DiagramManifest) string {
	var b strings.Builder
	if plan.ExecutiveSummary != "" {
		b.WriteString(plan.ExecutiveSummary)
		b.WriteString("\n\n")
	}
	for _, s := range plan.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Title, embedDiagrams(drafts[s.ID], s.ID, manifest))
	}
	return b.String()
}

// embedDiagrams replaces fenced diagram code blocks with Markdown image
// references to the rendered assets named in manifest, matching them by
// section id ordinal (the same {section_id}-{n} naming diagram-prep uses).
func embedDiagrams(sectionText, sectionID string, manifest models.DiagramManifest) string {
	ordinal := 0
	lines := strings.Split(sectionText, "\n")
	var out []string
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inFence && strings.HasPrefix(trimmed, "```") && diagramLanguages[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))] {
			inFence = true
			ordinal++
			continue
		}
		if inFence {
			if trimmed == "```" {
				inFence = false
				name := fmt.Sprintf("%s-%d", sectionID, ordinal)
				if asset := findAsset(manifest, name); asset != nil && asset.Rendered {
					out = append(out, fmt.Sprintf("![%s](diagrams/%s)", asset.Name, asset.PNG))
				}
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func findAsset(manifest models.DiagramManifest, name string) *models.DiagramAsset {
	for i := range manifest.Assets {
		if manifest.Assets[i].Name == name {
			return &manifest.Assets[i]
		}
	}
	return nil
}
