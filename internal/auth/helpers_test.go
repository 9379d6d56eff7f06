// ABOUTME: Shared fixtures for auth tests
// ABOUTME: Seeds a MockStore with a user, a sensor system and an issued sensor token

package auth

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/unconv/unconv-server/internal/store"
)

const testJWTSecret = "test-secret-key-for-jwt-signing-0123456789"

type fixture struct {
	store     *store.MockStore
	hasher    *BcryptHasher
	validator *Validator
	user      *store.User
	system    *store.SensorSystem
	token     string
	record    *store.SensorAuthToken
	logs      *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	ms := store.NewMockStore()
	user := &store.User{Username: "alice", PasswordHash: "x"}
	require.NoError(t, ms.CreateUser(ctx, user))
	sys := &store.SensorSystem{UserID: user.ID, Name: "Rooftop"}
	require.NoError(t, ms.CreateSensorSystem(ctx, sys))

	hasher := &BcryptHasher{Cost: bcrypt.MinCost}
	cred, err := NewIssuer(hasher).NewCredential()
	require.NoError(t, err)

	record := &store.SensorAuthToken{
		SensorSystemID: sys.ID,
		TokenHash:      cred.Hash,
		Salt:           cred.Salt,
		TokenSuffix:    cred.Suffix,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	require.NoError(t, ms.CreateSensorAuthToken(ctx, record))

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	return &fixture{
		store:     ms,
		hasher:    hasher,
		validator: NewValidator(ms, hasher, logger),
		user:      user,
		system:    sys,
		token:     cred.Token,
		record:    record,
		logs:      logs,
	}
}

// alterBodyChar flips one character of the token body outside the lookup suffix.
func alterBodyChar(token string) string {
	i := len(TokenPrefix) + 2
	b := []byte(token)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}
