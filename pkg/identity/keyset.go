package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxRetainedKeys bounds how many past signing keys an InMemoryKeySet keeps
// around for verification. A principal's bearer token is only ever checked
// against this keyset, never against an ASH context proof, so the bound only
// needs to cover tokens issued within their own lifetime, not ASH's TTLs.
const maxRetainedKeys = 10

// KeySet signs the bearer tokens that authenticate callers of the ASH
// context-issuance endpoint, and verifies those tokens on the way back in.
// It rotates without invalidating tokens signed under a previous key.
type KeySet interface {
	// Sign issues a token for claims under the current signing key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc resolves the verification key named by a token's "kid" header,
	// for use as a jwt.Keyfunc.
	KeyFunc() jwt.Keyfunc
}

// InMemoryKeySet is a process-local KeySet: Ed25519 keys live only in
// memory, so a restart forces every caller to re-authenticate. It exists
// for the demo server and for tests; a deployment fronting ASH with real
// tenants would back this with a persisted, replicated key store instead.
type InMemoryKeySet struct {
	mu          sync.RWMutex
	currentKID  string
	signingKeys map[string]ed25519.PrivateKey
}

// NewInMemoryKeySet builds a keyset and mints its first signing key.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{
		signingKeys: make(map[string]ed25519.PrivateKey),
	}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a fresh Ed25519 key and makes it the signing key for any
// token minted from now on. Keys already handed out as "kid" continue to
// verify until evicted by the retention bound.
func (ks *InMemoryKeySet) Rotate() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("identity: generating signing key: %w", err)
	}

	kid := fmt.Sprintf("ash-principal-key-%d", time.Now().UnixNano())
	ks.signingKeys[kid] = privateKey
	ks.currentKID = kid

	if len(ks.signingKeys) > maxRetainedKeys {
		ks.evictOneLocked(kid)
	}
	return nil
}

// evictOneLocked drops an arbitrary retained key other than keep. Callers
// must hold ks.mu for writing. A production keyset would evict the oldest
// key by issuance time rather than an arbitrary one; this in-memory variant
// only needs to keep the map from growing without bound across long-lived
// demo processes.
func (ks *InMemoryKeySet) evictOneLocked(keep string) {
	for kid := range ks.signingKeys {
		if kid != keep {
			delete(ks.signingKeys, kid)
			return
		}
	}
}

// Sign implements KeySet.
func (ks *InMemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.signingKeys[ks.currentKID]
	kid := ks.currentKID
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("identity: no active signing key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

// KeyFunc implements KeySet.
func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("identity: token missing kid header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.signingKeys[kid]
		if !exists {
			return nil, fmt.Errorf("identity: unknown signing key %q (rotated out?)", kid)
		}

		return key.Public(), nil
	}
}
