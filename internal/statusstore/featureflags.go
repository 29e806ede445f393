package statusstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/metrics"
	"github.com/surrealdb/surrealdb.go"
)

// IsFeatureAllowed does a point lookup on the (feature_key, owner_id) grant.
// A missing row means denied, not an error, mirroring the original
// implementation's ResourceNotFoundError-means-false semantics.
func (c *Client) IsFeatureAllowed(ctx context.Context, featureKey, ownerID string) (bool, error) {
	if featureKey == "" || ownerID == "" {
		return false, nil
	}
	start := time.Now()
	results, err := surrealdb.Query[[]struct {
		FeatureKey string `json:"feature_key"`
	}](ctx, c.db, `
		SELECT feature_key FROM feature_flag
		WHERE feature_key = $feature_key AND owner_id = $owner_id
	`, map[string]any{"feature_key": featureKey, "owner_id": ownerID})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return false, fmt.Errorf("statusstore: is feature allowed: %w", err)
	}
	return len(first(results)) > 0, nil
}

// ListFeatures returns every distinct feature key granted to ownerID,
// sorted for a stable response. It searches feature_flag by owner rather
// than fetching a single row by key, so it's timed as OpDBSearch.
func (c *Client) ListFeatures(ctx context.Context, ownerID string) ([]string, error) {
	if ownerID == "" {
		return nil, nil
	}
	start := time.Now()
	results, err := surrealdb.Query[[]struct {
		FeatureKey string `json:"feature_key"`
	}](ctx, c.db, `
		SELECT feature_key FROM feature_flag WHERE owner_id = $owner_id
	`, map[string]any{"owner_id": ownerID})
	c.recordQuery(metrics.OpDBSearch, start)
	if err != nil {
		return nil, fmt.Errorf("statusstore: list features: %w", err)
	}
	rows := first(results)
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.FeatureKey
	}
	sort.Strings(out)
	return out, nil
}

// GrantFeature records a grant, idempotently: re-granting an already-granted
// feature is a no-op rather than a duplicate-key error.
func (c *Client) GrantFeature(ctx context.Context, featureKey, ownerID string) error {
	if featureKey == "" || ownerID == "" {
		return fmt.Errorf("statusstore: grant feature requires feature_key and owner_id")
	}
	start := time.Now()
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT feature_flag CONTENT {
			feature_key: $feature_key, owner_id: $owner_id, granted_ts: time::now()
		}
	`, map[string]any{"feature_key": featureKey, "owner_id": ownerID})
	c.recordQuery(metrics.OpDBQuery, start)
	if err != nil {
		return fmt.Errorf("statusstore: grant feature: %w", err)
	}
	return nil
}
