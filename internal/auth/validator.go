// ABOUTME: Sensor API token validation against the token store
// ABOUTME: Suffix lookup, bcrypt comparison, expiry check, then owner resolution

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unconv/unconv-server/internal/store"
)

// TokenStore is the subset of the store the Validator reads from.
type TokenStore interface {
	GetSensorAuthTokenBySuffix(ctx context.Context, suffix string) (*store.SensorAuthToken, error)
	GetSensorSystem(ctx context.Context, id string) (*store.SensorSystem, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Validator authenticates raw sensor API tokens.
type Validator struct {
	store  TokenStore
	hasher Hasher
	logger *slog.Logger
	now    func() time.Time
}

// NewValidator creates a Validator.
func NewValidator(s TokenStore, hasher Hasher, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		store:  s,
		hasher: hasher,
		logger: logger.With("component", "sensor-token-validator"),
		now:    time.Now,
	}
}

// ValidateTokenAndRetrieveUser authenticates raw and returns the username of the
// user owning the token's sensor system.
//
// Token failures are returned as *SensorTokenError wrapping one of
// ErrInvalidTokenLength, ErrUnknownAuthToken, ErrMalformedAuthToken or
// ErrExpiredAuthToken. Any other error is a store failure.
func (v *Validator) ValidateTokenAndRetrieveUser(ctx context.Context, raw string) (string, error) {
	_, username, err := v.validate(ctx, raw)
	return username, err
}

// ValidateToken is ValidateTokenAndRetrieveUser that also returns the sensor system
// the token belongs to.
func (v *Validator) ValidateToken(ctx context.Context, raw string) (*store.SensorSystem, string, error) {
	return v.validate(ctx, raw)
}

func (v *Validator) validate(ctx context.Context, raw string) (*store.SensorSystem, string, error) {
	key, err := LookupKey(raw)
	if err != nil {
		return nil, "", newSensorTokenError(ErrInvalidTokenLength, raw, v.now())
	}

	record, err := v.store.GetSensorAuthTokenBySuffix(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		v.logger.Error("no sensor token matches suffix", "suffix_fingerprint", fingerprint(key))
		return nil, "", newSensorTokenError(ErrUnknownAuthToken, raw, v.now())
	}
	if err != nil {
		return nil, "", fmt.Errorf("looking up sensor token: %w", err)
	}

	if err := v.hasher.Compare(record.TokenHash, raw+record.Salt); err != nil {
		if errors.Is(err, ErrHashMismatch) {
			v.logger.Error("sensor token does not match stored hash", "token_id", record.ID)
			return nil, "", newSensorTokenError(ErrMalformedAuthToken, raw, v.now())
		}
		return nil, "", err
	}

	now := v.now()
	if now.After(record.ExpiresAt) {
		return nil, "", newSensorTokenError(ErrExpiredAuthToken, raw, now)
	}

	sys, err := v.store.GetSensorSystem(ctx, record.SensorSystemID)
	if err != nil {
		return nil, "", fmt.Errorf("resolving sensor system %s: %w", record.SensorSystemID, err)
	}
	user, err := v.store.GetUser(ctx, sys.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("resolving owner of sensor system %s: %w", sys.ID, err)
	}
	return sys, user.Username, nil
}

// fingerprint identifies secret material in logs without revealing it.
func fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}
