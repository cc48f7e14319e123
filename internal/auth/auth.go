// Package auth handles the optional API key: generation, bcrypt hashing and
// request-time verification.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoKey is returned when constructing a Verifier without a hash.
var ErrNoKey = errors.New("auth: no API key configured")

// GenerateAPIKey returns 32 random bytes, base64url encoded.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HashAPIKey returns the bcrypt hash of key. Keys over 72 bytes are rejected
// by bcrypt.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckAPIKeyHash reports whether key matches hash.
func CheckAPIKeyHash(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// Verifier checks presented keys against a bcrypt hash. A key that verified
// once is remembered by digest so repeat requests skip bcrypt; a polling
// client would otherwise pay the full hash cost ten times a second.
type Verifier struct {
	hash string

	mu       sync.RWMutex
	accepted map[[sha256.Size]byte]struct{}
}

// NewVerifier creates a Verifier for hash.
func NewVerifier(hash string) (*Verifier, error) {
	if hash == "" {
		return nil, ErrNoKey
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("auth: invalid bcrypt hash: %w", err)
	}
	return &Verifier{hash: hash, accepted: make(map[[sha256.Size]byte]struct{})}, nil
}

// NewVerifierForKey hashes a plaintext key and returns its Verifier.
func NewVerifierForKey(key string) (*Verifier, error) {
	if key == "" {
		return nil, ErrNoKey
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		return nil, err
	}
	return NewVerifier(hash)
}

// Verify reports whether key is the configured API key.
func (v *Verifier) Verify(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))

	v.mu.RLock()
	_, ok := v.accepted[digest]
	v.mu.RUnlock()
	if ok {
		return true
	}

	if !CheckAPIKeyHash(key, v.hash) {
		return false
	}
	v.mu.Lock()
	v.accepted[digest] = struct{}{}
	v.mu.Unlock()
	return true
}
