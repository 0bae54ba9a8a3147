package rootfs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ImageIndex maps image references to their ordered layer digests. The
// puller (out of scope) owns writing this file as it resolves and fetches
// images; the rootfs builder only ever reads it.
type ImageIndex struct {
	path string
}

// NewImageIndex returns an index backed by dataDir/images/index.json.
func NewImageIndex(dataDir string) *ImageIndex {
	return &ImageIndex{path: filepath.Join(dataDir, "images", "index.json")}
}

// Digests returns the ordered, lowest-first layer digests for ref.
func (x *ImageIndex) Digests(ref string) ([]string, error) {
	data, err := os.ReadFile(x.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: image index not found, no image has been pulled", errImageUnavailable)
		}
		return nil, fmt.Errorf("read image index: %w", err)
	}

	var index map[string][]string
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse image index: %w", err)
	}

	digests, ok := index[ref]
	if !ok {
		return nil, fmt.Errorf("%w: image %q not found in index", errImageUnavailable, ref)
	}
	return digests, nil
}
