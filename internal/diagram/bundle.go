package diagram

import (
	"archive/zip"
	"context"
	"fmt"
	"io"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
)

// BundleZip reads every rendered asset named in manifest out of store under
// jobs/{ownerID}/{jobID}/diagrams/ and writes a diagrams.zip archive to w,
// the downloadable diagram archive the finalize stage produces alongside
// final.md.
func BundleZip(ctx context.Context, store objectstore.Store, ownerID, jobID string, manifest models.DiagramManifest, w io.Writer) error {
	zw := zip.NewWriter(w)

	for _, asset := range manifest.Assets {
		if !asset.Rendered {
			continue
		}
		if asset.PNG != "" {
			if err := copyAssetInto(ctx, zw, store, ownerID, jobID, asset.PNG); err != nil {
				return err
			}
		}
		if asset.SVG != "" {
			if err := copyAssetInto(ctx, zw, store, ownerID, jobID, asset.SVG); err != nil {
				return err
			}
		}
	}
	return zw.Close()
}

func copyAssetInto(ctx context.Context, zw *zip.Writer, store objectstore.Store, ownerID, jobID, relPath string) error {
	key := objectstore.Path(ownerID, jobID, "diagrams", relPath)
	rc, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("diagram: read %s for bundle: %w", key, err)
	}
	defer rc.Close()

	entry, err := zw.Create(relPath)
	if err != nil {
		return fmt.Errorf("diagram: create zip entry %s: %w", relPath, err)
	}
	if _, err := io.Copy(entry, rc); err != nil {
		return fmt.Errorf("diagram: write zip entry %s: %w", relPath, err)
	}
	return nil
}
