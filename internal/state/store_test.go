package state

import (
	"testing"
	"time"

	"github.com/opensandbox/opensandbox/pkg/types"
)

func TestUpsertAndAll(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Second)
	sb := types.Sandbox{
		Namespace:   "default",
		Name:        "web",
		Config:      types.SandboxConfig{Image: "python:3.12", MemoryMB: 256, CPUs: 1},
		Status:      types.SandboxStatusRunning,
		SupervisorPID: 4242,
		MicroVMPID:    4243,
		RootfsPaths:   []string{"/var/lib/msb/rootfs/a", "/var/lib/msb/rootfs/b"},
		CreatedAt:     now,
		ModifiedAt:    now,
	}

	if err := store.Upsert(sb); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 row, got %d", len(all))
	}
	got := all[0]
	if got.Namespace != sb.Namespace || got.Name != sb.Name {
		t.Fatalf("identity mismatch: got %+v", got)
	}
	if got.Status != types.SandboxStatusRunning {
		t.Fatalf("expected status running, got %s", got.Status)
	}
	if got.Config.Image != "python:3.12" || got.Config.MemoryMB != 256 {
		t.Fatalf("config round-trip mismatch: %+v", got.Config)
	}
	if len(got.RootfsPaths) != 2 {
		t.Fatalf("expected 2 rootfs paths, got %v", got.RootfsPaths)
	}
}

func TestUpsertReplacesExistingRow(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Second)
	base := types.Sandbox{Namespace: "default", Name: "web", Status: types.SandboxStatusPending, CreatedAt: now, ModifiedAt: now}
	if err := store.Upsert(base); err != nil {
		t.Fatalf("Upsert 1: %v", err)
	}
	base.Status = types.SandboxStatusRunning
	if err := store.Upsert(base); err != nil {
		t.Fatalf("Upsert 2: %v", err)
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected upsert to replace, got %d rows", len(all))
	}
	if all[0].Status != types.SandboxStatusRunning {
		t.Fatalf("expected updated status, got %s", all[0].Status)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	if err := store.Upsert(types.Sandbox{Namespace: "default", Name: "web", CreatedAt: now, ModifiedAt: now, Status: types.SandboxStatusStopped}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Remove("default", "web"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	all, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no rows after remove, got %d", len(all))
	}
}

func TestRemoveUnknownIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Remove("default", "ghost"); err != nil {
		t.Fatalf("Remove of unknown sandbox should succeed, got %v", err)
	}
}
