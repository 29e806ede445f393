// Package objectstore implements the Object Store abstraction: an
// append-friendly blob namespace rooted at jobs/{owner_id}/{job_id}/…,
// holding every artifact a job produces from intake through final.md.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by Get/Stat when the key has no object.
var ErrNotFound = errors.New("objectstore: object not found")

// ErrNotAuthorized is returned when a caller addresses a key outside its
// own owner_id scope.
var ErrNotAuthorized = errors.New("objectstore: not authorized for this key")

// Store is the Object Store contract. Keys are '/'-separated and always
// scoped jobs/{owner_id}/{job_id}/... by callers via Path.
type Store interface {
	// Put writes the full contents of body at key, overwriting any existing
	// object. contentType may be "" to let the backend infer one.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// Get returns a reader for key's contents. The caller must Close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether key has an object, without transferring it.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key with the given prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Path builds a key scoped to one job's namespace, jobs/{owner_id}/{job_id}
// followed by the given path segments, e.g.
// Path("u1", "j1", "drafts", "intro.md") == "jobs/u1/j1/drafts/intro.md".
func Path(ownerID, jobID string, segments ...string) string {
	parts := append([]string{"jobs", ownerID, jobID}, segments...)
	return path.Join(parts...)
}

// OwnerOf extracts the owner_id a key was scoped under, for the
// cross-owner authorization check every SS/OS lookup must perform.
func OwnerOf(key string) (ownerID string, ok bool) {
	segs := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(segs) < 3 || segs[0] != "jobs" {
		return "", false
	}
	return segs[1], true
}

// CheckOwnership returns ErrNotAuthorized if key is not scoped under
// ownerID.
func CheckOwnership(key, ownerID string) error {
	got, ok := OwnerOf(key)
	if !ok || got != ownerID {
		return fmt.Errorf("%w: key %q", ErrNotAuthorized, key)
	}
	return nil
}
