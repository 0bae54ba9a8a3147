// Package auth implements the auth/key store (component C6): HMAC-backed
// bearer tokens with an issue time, expiry, and optional namespace scope.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the claims carried in every issued bearer token: issued-at,
// expiry, and the namespace the token is scoped to (empty means every
// namespace, per spec §3's "absent ⇒ all namespaces").
type Claims struct {
	jwt.RegisteredClaims
	Namespace string `json:"namespace,omitempty"`
}

// KeyStore issues and validates namespace-scoped bearer tokens against a
// persisted HMAC secret.
type KeyStore struct {
	secret []byte
}

// NewKeyStore returns a KeyStore signing/validating with secret.
func NewKeyStore(secret []byte) *KeyStore {
	return &KeyStore{secret: secret}
}

// Issue creates a bearer token scoped to namespace (empty for all
// namespaces) valid for ttl.
func (k *KeyStore) Issue(namespace string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "microsandbox",
		},
		Namespace: namespace,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(k.secret)
}

// Validate parses tokenStr and checks it against namespace: a token whose
// Namespace is empty is valid for every namespace; otherwise the claimed
// namespace must match exactly. Expired or scope-mismatched tokens fail
// with an error wrapping ErrUnauthorized.
func (k *KeyStore) Validate(tokenStr, namespace string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return k.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}

	if claims.Namespace != "" && claims.Namespace != namespace {
		return nil, fmt.Errorf("%w: token scoped to namespace %q, not %q", ErrUnauthorized, claims.Namespace, namespace)
	}

	return claims, nil
}
