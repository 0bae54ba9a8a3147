// Package rootfs implements the rootfs builder (component C2): it
// materializes a merged, writable filesystem from an ordered list of
// content-addressed OCI layers plus a fresh per-sandbox upper directory.
package rootfs

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Instance is one mounted overlay rootfs for a single sandbox.
type Instance struct {
	LowerPaths []string // lowest-first, per the image format's layer order
	UpperDir   string
	WorkDir    string
	MountPoint string
}

// Mount composes LowerPaths (lowest-first) with UpperDir into MountPoint.
// Empty LowerPaths is legal and contributes nothing beyond the upper.
func (inst *Instance) Mount() error {
	for _, p := range []string{inst.UpperDir, inst.WorkDir, inst.MountPoint} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", errImageUnavailable, p)
		}
	}
	for _, l := range inst.LowerPaths {
		if _, err := os.Stat(l); err != nil {
			return fmt.Errorf("%w: layer %s", errImageUnavailable, l)
		}
	}

	lowerdir := joinColon(inst.LowerPaths)
	opts := fmt.Sprintf("upperdir=%s,workdir=%s", inst.UpperDir, inst.WorkDir)
	if lowerdir != "" {
		opts = "lowerdir=" + lowerdir + "," + opts
	}

	if err := unix.Mount("overlay", inst.MountPoint, "overlay", 0, opts); err != nil {
		return fmt.Errorf("%w: mount overlay at %s: %v", errMountFailed, inst.MountPoint, err)
	}
	return nil
}

// Unmount tears the overlay down, retrying on EBUSY with bounded backoff and
// finally forcing the unmount. Lower layers are never touched.
func (inst *Instance) Unmount() error {
	const maxAttempts = 8
	backoff := 25 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := unix.Unmount(inst.MountPoint, 0)
		if err == nil {
			return nil
		}
		lastErr = err
		if err != unix.EBUSY {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	if err := unix.Unmount(inst.MountPoint, unix.MNT_FORCE); err != nil {
		return fmt.Errorf("%w: force unmount %s after retries (last error %v): %v", errMountFailed, inst.MountPoint, lastErr, err)
	}
	return nil
}

// Destroy unmounts (if mounted) and removes the upper and work directories.
// Lower layers are shared, immutable, and never removed here.
func (inst *Instance) Destroy() error {
	_ = inst.Unmount()
	if err := os.RemoveAll(inst.UpperDir); err != nil {
		return fmt.Errorf("remove upper %s: %w", inst.UpperDir, err)
	}
	if err := os.RemoveAll(inst.WorkDir); err != nil {
		return fmt.Errorf("remove work dir %s: %w", inst.WorkDir, err)
	}
	return nil
}

func joinColon(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}
