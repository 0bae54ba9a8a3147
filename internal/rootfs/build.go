package rootfs

import (
	"fmt"
	"os"
	"path/filepath"
)

// Builder materializes overlay rootfs instances for sandboxes.
type Builder struct {
	cache *Cache
}

// NewBuilder returns a Builder backed by the layer cache under dataDir.
func NewBuilder(dataDir string) *Builder {
	return &Builder{cache: NewCache(dataDir)}
}

// Build resolves layerDigests (lowest-first) to extracted layer
// directories, primes a fresh upper directory under sandboxDir with any
// per-file stat overrides those layers carry, and mounts the merged
// rootfs at sandboxDir/merged. sandboxDir must not already exist.
func (b *Builder) Build(sandboxDir string, layerDigests []string) (*Instance, error) {
	upperDir := filepath.Join(sandboxDir, "upper")
	workDir := filepath.Join(sandboxDir, "work")
	mountPoint := filepath.Join(sandboxDir, "merged")

	for _, d := range []string{upperDir, workDir, mountPoint} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", d, err)
		}
	}

	var lowerPaths []string
	for _, digest := range layerDigests {
		if digest == "" {
			continue // empty layers are legal and contribute nothing
		}
		dir, err := b.cache.Resolve(digest)
		if err != nil {
			return nil, err
		}
		lowerPaths = append(lowerPaths, dir)
	}

	if err := primeUpperWithOverrides(lowerPaths, upperDir); err != nil {
		return nil, err
	}

	inst := &Instance{
		LowerPaths: lowerPaths,
		UpperDir:   upperDir,
		WorkDir:    workDir,
		MountPoint: mountPoint,
	}
	if err := inst.Mount(); err != nil {
		inst.Destroy()
		return nil, err
	}
	return inst, nil
}
