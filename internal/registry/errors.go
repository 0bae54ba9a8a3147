package registry

import "errors"

// Sentinel errors matching spec's C4 error kinds (see §4.4, §7): callers
// use errors.Is against these to classify a failure without string
// matching.
var (
	ErrAlreadyRunning     = errors.New("already-running")
	ErrAlreadyStarting    = errors.New("already-starting")
	ErrStoppingInProgress = errors.New("stopping-in-progress")
	ErrNotRunning         = errors.New("not-running")
	ErrNotFound           = errors.New("not-found")
)
