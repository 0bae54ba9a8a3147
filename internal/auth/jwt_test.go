package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	ks := NewKeyStore([]byte("super-secret"))

	token, err := ks.Issue("default", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := ks.Validate(token, "default")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Namespace != "default" {
		t.Errorf("expected namespace \"default\", got %q", claims.Namespace)
	}
}

func TestValidateRejectsNamespaceMismatch(t *testing.T) {
	ks := NewKeyStore([]byte("super-secret"))

	token, err := ks.Issue("team-a", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := ks.Validate(token, "team-b"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a scope mismatch, got %v", err)
	}
}

func TestEmptyNamespaceTokenValidatesAnywhere(t *testing.T) {
	ks := NewKeyStore([]byte("super-secret"))

	token, err := ks.Issue("", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := ks.Validate(token, "any-namespace"); err != nil {
		t.Fatalf("expected an all-namespaces token to validate, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	ks := NewKeyStore([]byte("super-secret"))

	token, err := ks.Issue("default", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := ks.Validate(token, "default"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for an expired token, got %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewKeyStore([]byte("secret-a"))
	verifier := NewKeyStore([]byte("secret-b"))

	token, err := issuer.Issue("default", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := verifier.Validate(token, "default"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a token signed by a different secret, got %v", err)
	}
}
