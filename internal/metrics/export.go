package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/memcp-go/internal/objectstore"
)

// WriteSnapshot marshals a point-in-time Snapshot and writes it under
// jobs/{owner}/{job}/metrics/{name}.json, alongside a job's other artifacts.
func (c *Collector) WriteSnapshot(ctx context.Context, store objectstore.Store, ownerID, jobID, name string) error {
	snap := c.Snapshot()
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("metrics: marshal snapshot: %w", err)
	}
	key := objectstore.Path(ownerID, jobID, "metrics", name+".json")
	return store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json")
}
