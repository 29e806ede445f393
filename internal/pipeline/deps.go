package pipeline

import (
	"context"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
)

// NeedsRewrite is the severity threshold policy: any
// issue at high or critical severity forces a rewrite, in addition to a
// flavor's own needs_rewrite verdict. Kept as a named, swappable function so
// call sites never inline the threshold.
func NeedsRewrite(notes []models.ReviewNote) bool {
	for _, note := range notes {
		if note.NeedsRewrite {
			return true
		}
		for _, issue := range note.Issues {
			if issue.Severity == models.SeverityHigh || issue.Severity == models.SeverityCritical {
				return true
			}
		}
	}
	return false
}

// SectionReady reports whether every one of section's DependsOn predecessors
// has a persisted draft in OS, which a write message must satisfy before
// it may proceed.
func SectionReady(ctx context.Context, store objectstore.Store, ownerID, jobID string, plan models.Plan, section models.Section) (bool, error) {
	for _, dep := range section.DependsOn {
		key := objectstore.Path(ownerID, jobID, "drafts", dep+".md")
		ok, err := store.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
