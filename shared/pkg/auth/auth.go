// Package auth guards the inspector's HTTP API with a single shared key.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidKey is returned for a missing or wrong API key
var ErrInvalidKey = errors.New("invalid api key")

// APIKeyAuth validates presented keys against a bcrypt hash. The plaintext
// key is never kept in memory after construction.
type APIKeyAuth struct {
	hash   []byte
	exempt map[string]bool
}

// NewAPIKeyAuth hashes key. Paths in exempt (e.g. "/health") skip the check.
func NewAPIKeyAuth(key string, exempt ...string) (*APIKeyAuth, error) {
	if key == "" {
		return nil, fmt.Errorf("api key is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}
	return NewAPIKeyAuthFromHash(string(hash), exempt...)
}

// NewAPIKeyAuthFromHash uses an existing bcrypt hash, as stored in config
func NewAPIKeyAuthFromHash(hash string, exempt ...string) (*APIKeyAuth, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid api key hash: %w", err)
	}
	a := &APIKeyAuth{hash: []byte(hash), exempt: make(map[string]bool)}
	for _, p := range exempt {
		a.exempt[p] = true
	}
	return a, nil
}

// Validate checks a presented key
func (a *APIKeyAuth) Validate(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// Middleware rejects requests without a valid key with 401
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.Validate(KeyFromRequest(r)); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sdd"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyFromRequest reads "Authorization: Bearer <key>" or "X-API-Key: <key>"
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-API-Key")
}

// GenerateAPIKey returns a random URL-safe key and its bcrypt hash
func GenerateAPIKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key = base64.RawURLEncoding.EncodeToString(keyBytes)
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return key, string(h), nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
