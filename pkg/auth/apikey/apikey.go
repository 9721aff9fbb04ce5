// Package apikey provides an API key authenticator that validates
// keys against a static key store using SHA-256 hashing and
// constant-time comparison.
//
// Keys are read from the Authorization bearer token, the X-API-Key header,
// or, for WebSocket upgrades where browsers cannot set headers, the
// api_key query parameter.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rhuss/polyrun/pkg/auth"
)

// KeyEntry maps a key hash to an identity.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// Authenticator validates API keys against a static key store.
type Authenticator struct {
	keys []KeyEntry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// New creates an API key authenticator from a list of raw keys and identities.
// Keys are hashed immediately; plaintext keys are not stored.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		a.keys = append(a.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: e.Identity,
		})
	}
	return a
}

// Authenticate returns Yes for a known key, No for a presented but
// unknown or empty key, and Abstain when no key is presented.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	key, present := credential(r)
	if !present {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if key == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	keyHash := sha256.Sum256([]byte(key))
	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(keyHash[:], entry.KeyHash[:]) == 1 {
			id := entry.Identity
			return auth.AuthResult{Decision: auth.Yes, Identity: &id}
		}
	}
	return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
}

// credential extracts the presented key. Non-bearer Authorization schemes
// are left to other authenticators.
func credential(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if key, ok := r.Header["X-Api-Key"]; ok && len(key) > 0 {
		return strings.TrimSpace(key[0]), true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") && r.URL.Query().Has("api_key") {
		return r.URL.Query().Get("api_key"), true
	}
	return "", false
}
