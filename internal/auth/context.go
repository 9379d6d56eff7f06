// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the authenticated username via context

package auth

import (
	"context"
)

// Authentication methods recorded on AuthContext
const (
	MethodSensorToken = "sensor_token"
	MethodBearer      = "bearer"
)

// AuthContext holds the authenticated identity extracted from a request.
// Authorities is always empty: no roles are granted at authentication time.
type AuthContext struct {
	Username    string
	Method      string   // MethodSensorToken or MethodBearer
	Authorities []string // granted authorities, empty

	// SensorSystemID is set when Method is MethodSensorToken.
	SensorSystemID string
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
