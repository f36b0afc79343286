package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sync"
)

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// KeySource supplies the initial set of API keys.
type KeySource interface {
	LoadAPIKeys(ctx context.Context) ([]string, error)
}

// KeyStore is the set of valid API keys.
type KeyStore struct {
	mu     sync.RWMutex
	hashes [][32]byte
}

// NewKeyStore creates a key store holding keys. Keys are hashed
// immediately; plaintext keys are not stored. Empty keys are ignored.
func NewKeyStore(keys ...string) *KeyStore {
	s := &KeyStore{}
	s.Replace(keys)
	return s
}

// Replace swaps the whole key set.
func (s *KeyStore) Replace(keys []string) {
	seen := make(map[[32]byte]bool, len(keys))
	hashes := make([][32]byte, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		h := sha256.Sum256([]byte(k))
		if seen[h] {
			continue
		}
		seen[h] = true
		hashes = append(hashes, h)
	}

	s.mu.Lock()
	s.hashes = hashes
	s.mu.Unlock()
}

// Load replaces the key set with the keys from src. On error the current
// set is left untouched.
func (s *KeyStore) Load(ctx context.Context, src KeySource) error {
	keys, err := src.LoadAPIKeys(ctx)
	if err != nil {
		return err
	}
	s.Replace(keys)
	return nil
}

// Contains reports whether key is a valid API key.
func (s *KeyStore) Contains(key string) bool {
	if key == "" {
		return false
	}
	h := sha256.Sum256([]byte(key))

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := 0
	for _, stored := range s.hashes {
		found |= subtle.ConstantTimeCompare(h[:], stored[:])
	}
	return found == 1
}

// Len returns the number of distinct keys.
func (s *KeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes)
}
