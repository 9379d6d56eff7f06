// ABOUTME: Shared test helpers for admin package tests
// ABOUTME: Seeds users and sensor systems in a MockStore and provides a fast hasher

package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/store"
)

// testSecret is a 32-byte secret that meets MinSecretLength requirement.
var testSecret = []byte("admin-token-test-secret-32bytes!")

func fastHasher() *auth.BcryptHasher {
	return &auth.BcryptHasher{Cost: bcrypt.MinCost}
}

func seedOwner(t *testing.T, s *store.MockStore, username string) (*store.User, *store.SensorSystem) {
	t.Helper()
	ctx := context.Background()
	user := &store.User{Username: username, PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, user))
	sys := &store.SensorSystem{UserID: user.ID, Name: username + "-station"}
	require.NoError(t, s.CreateSensorSystem(ctx, sys))
	return user, sys
}
