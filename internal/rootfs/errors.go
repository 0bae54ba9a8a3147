package rootfs

import "errors"

// Sentinel errors matching spec's C2 error kinds (see §4.2, §7): callers use
// errors.Is against these to classify a failure without string matching.
var (
	errImageUnavailable = errors.New("image-unavailable")
	errMountFailed       = errors.New("mount-failed")
)

// ErrImageUnavailable is returned (wrapped) when a required layer path is
// missing on disk.
func ErrImageUnavailable() error { return errImageUnavailable }

// ErrMountFailed is returned (wrapped) on a kernel-level mount/unmount error.
func ErrMountFailed() error { return errMountFailed }
