package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"testing"
)

func TestFSStore_PutGetDelete(t *testing.T) {
	dir, err := os.MkdirTemp("", "objectstore-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	key := Path("owner-1", "job-1", "plan.json")

	body := []byte(`{"sections":[]}`)
	if err := store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("Exists = false after Put")
	}

	r, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("Get body = %q, want %q", got, body)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, err = store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists after delete: %v", err)
	}
	if exists {
		t.Error("Exists = true after Delete")
	}

	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
}

func TestFSStore_List(t *testing.T) {
	dir, err := os.MkdirTemp("", "objectstore-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	keys := []string{
		Path("owner-1", "job-1", "drafts", "intro.md"),
		Path("owner-1", "job-1", "drafts", "body.md"),
		Path("owner-1", "job-2", "drafts", "intro.md"),
	}
	for _, k := range keys {
		if err := store.Put(ctx, k, bytes.NewReader([]byte("x")), 1, ""); err != nil {
			t.Fatalf("Put %q: %v", k, err)
		}
	}

	got, err := store.List(ctx, Path("owner-1", "job-1", "drafts"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(got)
	want := []string{
		Path("owner-1", "job-1", "drafts", "body.md"),
		Path("owner-1", "job-1", "drafts", "intro.md"),
	}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCheckOwnership(t *testing.T) {
	key := Path("owner-1", "job-1", "plan.json")

	if err := CheckOwnership(key, "owner-1"); err != nil {
		t.Errorf("CheckOwnership(owner) = %v, want nil", err)
	}
	if err := CheckOwnership(key, "owner-2"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("CheckOwnership(other owner) = %v, want ErrNotAuthorized", err)
	}
}
