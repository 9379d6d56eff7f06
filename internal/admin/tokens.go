// ABOUTME: Sensor API token issuance, listing, revocation and expiry purge
// ABOUTME: Owner-scoped operations with suffix collision retries and audit logging

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/store"
)

// Default TTL for sensor tokens: 90 days.
const defaultTokenTTL = 90 * 24 * time.Hour

// Maximum TTL for sensor tokens: 365 days.
const maxTokenTTL = 365 * 24 * time.Hour

// maxIssueAttempts bounds retries when a generated suffix collides.
const maxIssueAttempts = 5

// SystemActor is the audit actor for background jobs.
const SystemActor = "system"

var (
	// ErrForbidden is returned when the caller does not own the sensor system.
	ErrForbidden = errors.New("sensor system belongs to another user")

	// ErrInvalidTTL is returned for non-positive or too long token lifetimes.
	ErrInvalidTTL = errors.New("invalid token ttl")

	// ErrSuffixExhausted is returned when every issuance attempt collided.
	ErrSuffixExhausted = errors.New("could not generate a unique sensor token")
)

// CredentialIssuer mints new sensor credentials.
type CredentialIssuer interface {
	NewCredential() (*auth.Credential, error)
}

// TokenStore is the persistence the TokenService needs.
type TokenStore interface {
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	GetSensorSystem(ctx context.Context, id string) (*store.SensorSystem, error)
	CreateSensorAuthToken(ctx context.Context, token *store.SensorAuthToken) error
	GetSensorAuthToken(ctx context.Context, id string) (*store.SensorAuthToken, error)
	ListSensorAuthTokens(ctx context.Context, sensorSystemID string) ([]*store.SensorAuthToken, error)
	DeleteSensorAuthToken(ctx context.Context, id string) error
	DeleteExpiredSensorAuthTokens(ctx context.Context, now time.Time) (int64, error)
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// IssuedToken is returned once at issuance; Token is never retrievable again.
type IssuedToken struct {
	ID             string    `json:"id"`
	SensorSystemID string    `json:"sensor_system_id"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// TokenInfo describes a stored token without any secret material.
type TokenInfo struct {
	ID             string    `json:"id"`
	SensorSystemID string    `json:"sensor_system_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	Expired        bool      `json:"expired"`
}

// TokenService manages sensor API tokens on behalf of their owners.
type TokenService struct {
	store      TokenStore
	issuer     CredentialIssuer
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewTokenService creates a TokenService. A zero defaultTTL uses 90 days.
func NewTokenService(s TokenStore, issuer CredentialIssuer, defaultTTL time.Duration, logger *slog.Logger) *TokenService {
	if defaultTTL <= 0 || defaultTTL > maxTokenTTL {
		defaultTTL = defaultTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		store:      s,
		issuer:     issuer,
		defaultTTL: defaultTTL,
		logger:     logger.With("component", "sensor-tokens"),
		now:        time.Now,
	}
}

// ownedSystem loads a sensor system and checks owner owns it.
func (s *TokenService) ownedSystem(ctx context.Context, owner, sensorSystemID string) (*store.SensorSystem, error) {
	user, err := s.store.GetUserByUsername(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("looking up owner: %w", err)
	}
	sys, err := s.store.GetSensorSystem(ctx, sensorSystemID)
	if err != nil {
		return nil, fmt.Errorf("looking up sensor system: %w", err)
	}
	if sys.UserID != user.ID {
		return nil, ErrForbidden
	}
	return sys, nil
}

// Issue creates a token for a sensor system owned by owner.
// A zero ttl uses the service default; negative or over 365 days is ErrInvalidTTL.
func (s *TokenService) Issue(ctx context.Context, owner, sensorSystemID string, ttl time.Duration) (*IssuedToken, error) {
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%w: must be positive", ErrInvalidTTL)
	}
	if ttl > maxTokenTTL {
		return nil, fmt.Errorf("%w: exceeds maximum of %s", ErrInvalidTTL, maxTokenTTL)
	}

	sys, err := s.ownedSystem(ctx, owner, sensorSystemID)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		cred, err := s.issuer.NewCredential()
		if err != nil {
			return nil, fmt.Errorf("generating credential: %w", err)
		}

		now := s.now().UTC()
		record := &store.SensorAuthToken{
			SensorSystemID: sys.ID,
			TokenHash:      cred.Hash,
			Salt:           cred.Salt,
			TokenSuffix:    cred.Suffix,
			ExpiresAt:      now.Add(ttl),
			CreatedAt:      now,
		}
		err = s.store.CreateSensorAuthToken(ctx, record)
		if errors.Is(err, store.ErrDuplicateTokenSuffix) {
			s.logger.Warn("sensor token suffix collision, regenerating", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storing sensor token: %w", err)
		}

		// Audit log (ignore error - best effort)
		_ = s.store.AppendAuditLog(ctx, &store.AuditEntry{
			Actor:      owner,
			Action:     store.AuditIssueSensorToken,
			TargetType: "sensor_token",
			TargetID:   record.ID,
			Detail: map[string]any{
				"sensor_system_id": sys.ID,
				"ttl_seconds":      int64(ttl.Seconds()),
				"expires_at":       record.ExpiresAt.Format(time.RFC3339),
			},
		})

		s.logger.Info("issued sensor token", "token_id", record.ID, "sensor_system_id", sys.ID, "owner", owner)
		return &IssuedToken{
			ID:             record.ID,
			SensorSystemID: sys.ID,
			Token:          cred.Token,
			ExpiresAt:      record.ExpiresAt,
		}, nil
	}

	return nil, ErrSuffixExhausted
}

// List returns the tokens of a sensor system owned by owner.
func (s *TokenService) List(ctx context.Context, owner, sensorSystemID string) ([]TokenInfo, error) {
	if _, err := s.ownedSystem(ctx, owner, sensorSystemID); err != nil {
		return nil, err
	}
	tokens, err := s.store.ListSensorAuthTokens(ctx, sensorSystemID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	infos := make([]TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		infos = append(infos, TokenInfo{
			ID:             t.ID,
			SensorSystemID: t.SensorSystemID,
			ExpiresAt:      t.ExpiresAt,
			CreatedAt:      t.CreatedAt,
			Expired:        now.After(t.ExpiresAt),
		})
	}
	return infos, nil
}

// Revoke deletes a token whose sensor system is owned by owner.
func (s *TokenService) Revoke(ctx context.Context, owner, tokenID string) error {
	token, err := s.store.GetSensorAuthToken(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("looking up sensor token: %w", err)
	}
	if _, err := s.ownedSystem(ctx, owner, token.SensorSystemID); err != nil {
		return err
	}
	if err := s.store.DeleteSensorAuthToken(ctx, tokenID); err != nil {
		return fmt.Errorf("deleting sensor token: %w", err)
	}

	_ = s.store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      owner,
		Action:     store.AuditRevokeSensorToken,
		TargetType: "sensor_token",
		TargetID:   tokenID,
		Detail:     map[string]any{"sensor_system_id": token.SensorSystemID},
	})

	s.logger.Info("revoked sensor token", "token_id", tokenID, "owner", owner)
	return nil
}

// PurgeExpired removes all expired tokens and returns how many were removed.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSensorAuthTokens(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		_ = s.store.AppendAuditLog(ctx, &store.AuditEntry{
			Actor:      SystemActor,
			Action:     store.AuditPurgeSensorTokens,
			TargetType: "sensor_token",
			TargetID:   "*",
			Detail:     map[string]any{"count": n},
		})
	}
	return n, nil
}
