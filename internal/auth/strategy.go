// ABOUTME: Ordered authentication strategies for incoming HTTP requests
// ABOUTME: Sensor token on reading ingestion first, then bearer JWT, otherwise anonymous

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/unconv/unconv-server/internal/store"
)

// IngestionPath is the endpoint sensor systems post readings to.
const IngestionPath = "/EnvironmentalReading"

// DefaultSensorTokenParam is the query parameter carrying a sensor token.
const DefaultSensorTokenParam = "access_token"

// Strategy authenticates requests it applies to.
type Strategy interface {
	Name() string

	// Applies reports whether the strategy should decide this request.
	Applies(r *http.Request) bool

	// Authenticate resolves the request to an identity or fails.
	Authenticate(r *http.Request) (*AuthContext, error)
}

// SensorTokenValidator validates raw sensor tokens.
type SensorTokenValidator interface {
	ValidateToken(ctx context.Context, raw string) (*store.SensorSystem, string, error)
}

// SensorTokenStrategy authenticates reading ingestion with a sensor API token
// passed as a query parameter. Empty Param and Path use the defaults.
type SensorTokenStrategy struct {
	Param     string
	Path      string
	Validator SensorTokenValidator
}

// Name returns the scheme name.
func (s *SensorTokenStrategy) Name() string { return MethodSensorToken }

func (s *SensorTokenStrategy) param() string {
	if s.Param == "" {
		return DefaultSensorTokenParam
	}
	return s.Param
}

func (s *SensorTokenStrategy) path() string {
	if s.Path == "" {
		return IngestionPath
	}
	return s.Path
}

// Applies matches POST /EnvironmentalReading with the token parameter present,
// even when its value is empty.
func (s *SensorTokenStrategy) Applies(r *http.Request) bool {
	return r.Method == http.MethodPost &&
		r.URL.Path == s.path() &&
		r.URL.Query().Has(s.param())
}

// Authenticate validates the token parameter.
func (s *SensorTokenStrategy) Authenticate(r *http.Request) (*AuthContext, error) {
	raw := r.URL.Query().Get(s.param())
	sys, username, err := s.Validator.ValidateToken(r.Context(), raw)
	if err != nil {
		return nil, err
	}
	return &AuthContext{
		Username:       username,
		Method:         MethodSensorToken,
		Authorities:    []string{},
		SensorSystemID: sys.ID,
	}, nil
}

// UserLookup resolves usernames to users.
type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// BearerStrategy authenticates requests carrying an Authorization header with a JWT.
type BearerStrategy struct {
	Verifier       TokenVerifier
	Users          UserLookup
	SkipHeaderAuth bool
}

// Name returns the scheme name.
func (b *BearerStrategy) Name() string { return MethodBearer }

// Applies matches requests whose Authorization header uses the Bearer scheme
// unless header auth is skipped. Other schemes continue anonymously.
func (b *BearerStrategy) Applies(r *http.Request) bool {
	return !b.SkipHeaderAuth && hasBearerScheme(r.Header.Get("Authorization"))
}

// Authenticate verifies the bearer token and confirms the user still exists.
func (b *BearerStrategy) Authenticate(r *http.Request) (*AuthContext, error) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, errMsg)
	}

	username, err := b.Verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrExpiredToken) || errors.Is(err, ErrMissingClaim) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if b.Users != nil {
		if _, err := b.Users.GetUserByUsername(r.Context(), username); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
			}
			return nil, fmt.Errorf("looking up user: %w", err)
		}
	}

	return &AuthContext{
		Username:    username,
		Method:      MethodBearer,
		Authorities: []string{},
	}, nil
}

const bearerPrefix = "Bearer "

// hasBearerScheme reports whether authHeader starts with the Bearer scheme.
// Schemes are case-insensitive (RFC 7235).
func hasBearerScheme(authHeader string) bool {
	return len(authHeader) >= len(bearerPrefix) && strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !hasBearerScheme(authHeader) {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticator runs strategies in order; the first that applies decides.
type Authenticator struct {
	strategies []Strategy
}

// NewAuthenticator creates an Authenticator trying strategies in the given order.
func NewAuthenticator(strategies ...Strategy) *Authenticator {
	return &Authenticator{strategies: strategies}
}

// Authenticate returns the identity for r, nil for an anonymous request, or
// the deciding strategy's error. The strategy name is returned for metrics.
func (a *Authenticator) Authenticate(r *http.Request) (*AuthContext, string, error) {
	for _, s := range a.strategies {
		if !s.Applies(r) {
			continue
		}
		authCtx, err := s.Authenticate(r)
		return authCtx, s.Name(), err
	}
	return nil, "anonymous", nil
}
