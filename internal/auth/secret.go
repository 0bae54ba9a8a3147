package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnauthorized is the sentinel the RPC dispatcher (C5) maps to
// "unauthorized" / JSON-RPC code -32001.
var ErrUnauthorized = errors.New("unauthorized")

// LoadOrCreateSecret reads the persisted HMAC secret at path, generating
// and persisting a fresh 256-bit secret on first run. Secret file
// permissions are 0600; the parent directory is created if missing.
func LoadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read secret %s: %w", path, err)
	}

	fresh := make([]byte, 32)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir for secret %s: %w", path, err)
	}
	if err := os.WriteFile(path, fresh, 0o600); err != nil {
		return nil, fmt.Errorf("write secret %s: %w", path, err)
	}
	return fresh, nil
}
