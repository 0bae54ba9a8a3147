package auth

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateSecretGeneratesOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hmac.secret")

	secret, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret: %v", err)
	}
	if len(secret) != 32 {
		t.Fatalf("expected a 256-bit secret, got %d bytes", len(secret))
	}
}

func TestLoadOrCreateSecretIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hmac.secret")

	first, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret (first): %v", err)
	}
	second, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret (second): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected the same secret across calls, got two different ones")
	}
}
