package diagram

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
)

var errFake = errors.New("fake renderer failure")

func TestBundleZipIncludesRenderedAssetsOnly(t *testing.T) {
	store, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	put := func(rel, contents string) {
		key := objectstore.Path("owner1", "job1", "diagrams", rel)
		if err := store.Put(ctx, key, strings.NewReader(contents), int64(len(contents)), "image/png"); err != nil {
			t.Fatalf("put %s: %v", rel, err)
		}
	}
	put("arch.png", "png-bytes")
	put("arch.svg", "svg-bytes")

	manifest := models.DiagramManifest{Assets: []models.DiagramAsset{
		{Name: "arch", PNG: "arch.png", SVG: "arch.svg", Rendered: true},
		{Name: "unrendered", PNG: "missing.png", Rendered: false},
	}}

	var buf bytes.Buffer
	if err := BundleZip(ctx, store, "owner1", "job1", manifest, &buf); err != nil {
		t.Fatalf("BundleZip: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["arch.png"] || !names["arch.svg"] {
		t.Errorf("expected rendered assets in archive, got %v", names)
	}
	if names["missing.png"] {
		t.Errorf("unrendered asset should not be bundled")
	}
}

func TestFakeRendererScriptedFailure(t *testing.T) {
	r := NewFakeRenderer([]byte("image-bytes"))
	r.FailNext(errFake)

	if _, err := r.Render(context.Background(), "plantuml", "@startuml\n@enduml", FormatPNG); err != errFake {
		t.Errorf("expected scripted error, got %v", err)
	}

	out, err := r.Render(context.Background(), "plantuml", "@startuml\n@enduml", FormatPNG)
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if string(out) != "image-bytes" {
		t.Errorf("payload = %q, want %q", out, "image-bytes")
	}
	if r.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2", r.CallCount())
	}
}
