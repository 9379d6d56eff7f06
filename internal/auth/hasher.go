// ABOUTME: Password and token hashing behind a small interface
// ABOUTME: BcryptHasher is constructed explicitly and injected where hashing is needed

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrHashMismatch is returned by Hasher.Compare when the secret does not match.
var ErrHashMismatch = errors.New("hash mismatch")

// Hasher produces and checks one-way hashes of secrets.
type Hasher interface {
	Hash(secret string) (string, error)

	// Compare returns nil on match and ErrHashMismatch when the secret does not match.
	Compare(hash, secret string) error
}

// BcryptHasher implements Hasher with bcrypt.
// A zero Cost uses bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a BcryptHasher with the given cost, clamped to bcrypt's range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash returns the bcrypt hash of secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}
	return string(out), nil
}

// Compare checks secret against a bcrypt hash.
func (h *BcryptHasher) Compare(hash, secret string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrHashMismatch
	}
	if err != nil {
		return fmt.Errorf("comparing hash: %w", err)
	}
	return nil
}
