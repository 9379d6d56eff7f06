// ABOUTME: Sensor API token persistence for the SQL store
// ABOUTME: Suffix lookup, per-system listing, revocation and expiry cleanup

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateSensorAuthToken stores a new sensor token.
// TokenSuffix is lower-cased before storage so lookups are case-insensitive.
// Returns ErrDuplicateTokenSuffix if the suffix is already taken.
func (s *SQLStore) CreateSensorAuthToken(ctx context.Context, token *SensorAuthToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	token.TokenSuffix = strings.ToLower(token.TokenSuffix)

	_, err := s.exec(ctx, `
		INSERT INTO sensor_auth_tokens (id, sensor_system_id, token_hash, salt, token_suffix, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		token.ID,
		token.SensorSystemID,
		token.TokenHash,
		token.Salt,
		token.TokenSuffix,
		formatTime(token.ExpiresAt),
		formatTime(token.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTokenSuffix
		}
		return fmt.Errorf("inserting sensor token: %w", err)
	}

	s.logger.Debug("created sensor token", "id", token.ID, "sensor_system_id", token.SensorSystemID)
	return nil
}

const sensorTokenColumns = `id, sensor_system_id, token_hash, salt, token_suffix, expires_at, created_at`

// GetSensorAuthTokenBySuffix retrieves a sensor token by its lookup suffix.
func (s *SQLStore) GetSensorAuthTokenBySuffix(ctx context.Context, suffix string) (*SensorAuthToken, error) {
	row := s.queryRow(ctx, `SELECT `+sensorTokenColumns+` FROM sensor_auth_tokens WHERE token_suffix = ?`,
		strings.ToLower(suffix))
	return scanSensorTokenRow(row)
}

// GetSensorAuthToken retrieves a sensor token by ID.
func (s *SQLStore) GetSensorAuthToken(ctx context.Context, id string) (*SensorAuthToken, error) {
	row := s.queryRow(ctx, `SELECT `+sensorTokenColumns+` FROM sensor_auth_tokens WHERE id = ?`, id)
	return scanSensorTokenRow(row)
}

func scanSensorTokenRow(row *sql.Row) (*SensorAuthToken, error) {
	t, err := scanSensorToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying sensor token: %w", err)
	}
	return t, nil
}

// ListSensorAuthTokens returns the tokens of a sensor system, newest first.
func (s *SQLStore) ListSensorAuthTokens(ctx context.Context, sensorSystemID string) ([]*SensorAuthToken, error) {
	rows, err := s.query(ctx, `
		SELECT `+sensorTokenColumns+`
		FROM sensor_auth_tokens
		WHERE sensor_system_id = ?
		ORDER BY created_at DESC
	`, sensorSystemID)
	if err != nil {
		return nil, fmt.Errorf("querying sensor tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tokens := []*SensorAuthToken{}
	for rows.Next() {
		t, err := scanSensorToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sensor token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor tokens: %w", err)
	}
	return tokens, nil
}

// DeleteSensorAuthToken removes a sensor token.
// Returns ErrNotFound if the token doesn't exist.
func (s *SQLStore) DeleteSensorAuthToken(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM sensor_auth_tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting sensor token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredSensorAuthTokens removes tokens whose expiry is before now.
func (s *SQLStore) DeleteExpiredSensorAuthTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.exec(ctx, `DELETE FROM sensor_auth_tokens WHERE expires_at < ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sensor tokens: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected > 0 {
		s.logger.Info("purged expired sensor tokens", "count", affected)
	}
	return affected, nil
}

func scanSensorToken(row rowScanner) (*SensorAuthToken, error) {
	var t SensorAuthToken
	var expiresAt, createdAt string

	if err := row.Scan(&t.ID, &t.SensorSystemID, &t.TokenHash, &t.Salt, &t.TokenSuffix, &expiresAt, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &t, nil
}
