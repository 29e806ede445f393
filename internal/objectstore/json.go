package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// PutJSON marshals v and writes it at key with content-type application/json.
// Every stage worker persists its structured artifacts (plan.json,
// reviews/cycle-N/*.json, diagrams/index.json, ...) through this helper so
// the encoding is uniform across the pipeline.
func PutJSON(ctx context.Context, store Store, key string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("objectstore: marshal %q: %w", key, err)
	}
	return store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json")
}

// GetJSON reads key and unmarshals it into v.
func GetJSON(ctx context.Context, store Store, key string, v any) error {
	r, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("objectstore: read %q: %w", key, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("objectstore: unmarshal %q: %w", key, err)
	}
	return nil
}

// PutText writes body at key with the given contentType, defaulting to
// text/markdown when it is empty; used for section drafts and the final
// Markdown artifact.
func PutText(ctx context.Context, store Store, key, body, contentType string) error {
	if contentType == "" {
		contentType = "text/markdown; charset=utf-8"
	}
	return store.Put(ctx, key, bytes.NewReader([]byte(body)), int64(len(body)), contentType)
}

// GetText reads key's full contents as a string.
func GetText(ctx context.Context, store Store, key string) (string, error) {
	r, err := store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("objectstore: read %q: %w", key, err)
	}
	return string(body), nil
}
