package rootfs

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSetAndReadStatOverride(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "layer-file")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()

	if err := SetStatOverride(f.Name(), 1000, 1000, 0o644); err != nil {
		if err == unix.ENOTSUP {
			t.Skip("xattrs unsupported on this filesystem")
		}
		t.Fatalf("SetStatOverride: %v", err)
	}

	override, ok, err := readStatOverride(f.Name())
	if err != nil {
		t.Fatalf("readStatOverride: %v", err)
	}
	if !ok {
		t.Fatal("expected an override to be present")
	}
	if override.UID != 1000 || override.GID != 1000 || override.Mode != 0o644 {
		t.Errorf("got %+v, want uid=1000 gid=1000 mode=0644", override)
	}
}

func TestReadStatOverride_Absent(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "plain-file")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()

	_, ok, err := readStatOverride(f.Name())
	if err != nil {
		t.Fatalf("readStatOverride: %v", err)
	}
	if ok {
		t.Fatal("expected no override on a fresh file")
	}
}
