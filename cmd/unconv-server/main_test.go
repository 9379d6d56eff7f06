// ABOUTME: Tests for the offline CLI commands and the colorized log handler
// ABOUTME: Uses a generated config with a SQLite database in a temp dir

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/config"
	"github.com/unconv/unconv-server/internal/store"
)

func TestWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "unconv", "server.yaml")

	require.NoError(t, writeDefaultConfig(configPath, filepath.Join(dir, "data"), "localhost:9090", "test"))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, config.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "data", "unconv.db"), cfg.Database.Path)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), auth.MinSecretLength)
	assert.Equal(t, 90*24*time.Hour, cfg.Auth.SensorTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.Ingest.IdempotencyTTL)

	// Each config gets its own secret
	other := filepath.Join(dir, "other.yaml")
	require.NoError(t, writeDefaultConfig(other, filepath.Join(dir, "data"), "localhost:9090", "test"))
	cfg2, err := config.Load(other)
	require.NoError(t, err)
	assert.NotEqual(t, cfg.Auth.JWTSecret, cfg2.Auth.JWTSecret)
}

func TestBootstrapAndIssueToken(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "server.yaml")
	require.NoError(t, writeDefaultConfig(configPath, filepath.Join(dir, "data"), "localhost:0", "test"))
	ctx := t.Context()

	res, err := bootstrapUser(ctx, configPath, "alice", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.True(t, res.ExpiresAt.After(time.Now()))

	cfg, s, err := openStore(configPath)
	require.NoError(t, err)
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer)
	require.NoError(t, err)
	username, err := verifier.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	user, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	sys := &store.SensorSystem{UserID: user.ID, Name: "Rooftop"}
	require.NoError(t, s.CreateSensorSystem(ctx, sys))
	require.NoError(t, s.Close())

	issued, err := issueSensorToken(ctx, configPath, "alice", sys.ID, 48*time.Hour)
	require.NoError(t, err)
	assert.Len(t, issued.Token, auth.TokenLength)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), issued.ExpiresAt, time.Minute)

	// Bootstrapping the same user twice fails
	_, err = bootstrapUser(ctx, configPath, "alice", "correct horse")
	assert.ErrorIs(t, err, store.ErrUsernameExists)

	// Only the owner can issue tokens
	_, err = bootstrapUser(ctx, configPath, "mallory", "correct horse")
	require.NoError(t, err)
	_, err = issueSensorToken(ctx, configPath, "mallory", sys.ID, 0)
	assert.Error(t, err)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "server").WithGroup("req").Info("hello", "status", 200)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF hello")
	assert.Contains(t, out, "component=server")
	assert.Contains(t, out, "req.status=200")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("skipped")
	logger.Warn("kept", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "skipped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"k":"v"`)
}
