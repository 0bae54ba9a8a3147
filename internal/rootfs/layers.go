package rootfs

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Cache resolves content-addressed layer digests to extracted, read-only
// directories shared across sandboxes. The image puller (out of scope) is
// responsible for writing the compressed blobs this cache extracts from;
// this package only ever reads them.
type Cache struct {
	BlobsDir string // <digest>.tar.zst files, written by the puller
	LayersDir string // extraction target, one subdirectory per digest
}

// NewCache returns a Cache rooted at dataDir/images.
func NewCache(dataDir string) *Cache {
	return &Cache{
		BlobsDir:  filepath.Join(dataDir, "images", "blobs"),
		LayersDir: filepath.Join(dataDir, "images", "layers"),
	}
}

// Resolve returns the extracted directory for digest, extracting it from
// the compressed blob on first use. Later calls with the same digest are a
// no-op stat check: layers are immutable once written.
func (c *Cache) Resolve(digest string) (string, error) {
	layerDir := filepath.Join(c.LayersDir, digest)
	if _, err := os.Stat(filepath.Join(layerDir, ".extracted")); err == nil {
		return layerDir, nil
	}

	blobPath := filepath.Join(c.BlobsDir, digest+".tar.zst")
	if _, err := os.Stat(blobPath); err != nil {
		return "", fmt.Errorf("%w: layer blob %s", errImageUnavailable, blobPath)
	}

	if err := extractLayer(blobPath, layerDir); err != nil {
		os.RemoveAll(layerDir)
		return "", err
	}
	return layerDir, nil
}

func extractLayer(blobPath, destDir string) error {
	f, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("open layer blob %s: %w", blobPath, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("zstd reader for %s: %w", blobPath, err)
	}
	defer dec.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("mkdir layer dir %s: %w", destDir, err)
	}

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry in %s: %w", blobPath, err)
		}

		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
			// PAX extended headers let an unprivileged puller record the
			// owner/mode a file must present to the VM, applied as a stat
			// override since the host user building the cache may not be
			// able to chown to that owner directly.
			if uidStr, ok := hdr.PAXRecords["MSB.override.uid"]; ok {
				gidStr := hdr.PAXRecords["MSB.override.gid"]
				modeStr := hdr.PAXRecords["MSB.override.mode"]
				var uid, gid int
				var mode os.FileMode
				fmt.Sscanf(uidStr, "%d", &uid)
				fmt.Sscanf(gidStr, "%d", &gid)
				fmt.Sscanf(modeStr, "%o", &mode)
				_ = SetStatOverride(target, uid, gid, mode)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}

	return os.WriteFile(filepath.Join(destDir, ".extracted"), []byte("1"), 0o644)
}
