package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/opensandbox/opensandbox/internal/state"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return New(Options{
		DataDir:                t.TempDir(),
		SupervisorBin:          "microsandbox-supervisor",
		StartTimeoutSeconds:    5,
		StopGracePeriodSeconds: 5,
		DefaultMemoryMB:        256,
		DefaultCPUs:            1,
	}, store)
}

func TestStopUnknownSandboxIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Stop(context.Background(), "default", "ghost"); err != nil {
		t.Fatalf("Stop of unknown sandbox should succeed, got %v", err)
	}
}

func TestForwardUnknownSandboxFails(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Forward(context.Background(), "default", "ghost", "repl.run", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMetricsUnknownSandboxFails(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Metrics(context.Background(), "default", "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEmptyRegistry(t *testing.T) {
	r := newTestRegistry(t)
	if got := r.List(""); len(got) != 0 {
		t.Fatalf("expected no sandboxes, got %d", len(got))
	}
}

func TestReconcileEmptyStoreIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := r.List(""); len(got) != 0 {
		t.Fatalf("expected no sandboxes after reconciling an empty store, got %d", len(got))
	}
}

func TestProcessAliveRejectsNonPositivePID(t *testing.T) {
	if processAlive(0) {
		t.Fatalf("pid 0 should never be reported alive")
	}
	if processAlive(-1) {
		t.Fatalf("negative pid should never be reported alive")
	}
}
