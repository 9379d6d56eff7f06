// ABOUTME: Sensor system persistence for the SQL store
// ABOUTME: Owner-scoped listing plus cascade delete of tokens, readings and thresholds

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSensorSystem stores a new sensor system.
// Generates ID and CreatedAt if not set.
func (s *SQLStore) CreateSensorSystem(ctx context.Context, sys *SensorSystem) error {
	if sys.ID == "" {
		sys.ID = uuid.New().String()
	}
	if sys.CreatedAt.IsZero() {
		sys.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO sensor_systems (id, user_id, name, description, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		sys.ID,
		sys.UserID,
		sys.Name,
		nullString(sys.Description),
		nullFloat(sys.Latitude),
		nullFloat(sys.Longitude),
		formatTime(sys.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor system: %w", err)
	}

	s.logger.Debug("created sensor system", "id", sys.ID, "user_id", sys.UserID)
	return nil
}

const sensorSystemColumns = `id, user_id, name, description, latitude, longitude, created_at`

// GetSensorSystem retrieves a sensor system by ID.
func (s *SQLStore) GetSensorSystem(ctx context.Context, id string) (*SensorSystem, error) {
	row := s.queryRow(ctx, `SELECT `+sensorSystemColumns+` FROM sensor_systems WHERE id = ?`, id)
	sys, err := scanSensorSystem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying sensor system: %w", err)
	}
	return sys, nil
}

// ListSensorSystemsByUser returns the user's systems, oldest first.
func (s *SQLStore) ListSensorSystemsByUser(ctx context.Context, userID string) ([]*SensorSystem, error) {
	rows, err := s.query(ctx, `
		SELECT `+sensorSystemColumns+`
		FROM sensor_systems
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying sensor systems: %w", err)
	}
	defer func() { _ = rows.Close() }()

	systems := []*SensorSystem{}
	for rows.Next() {
		sys, err := scanSensorSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sensor system: %w", err)
		}
		systems = append(systems, sys)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor systems: %w", err)
	}
	return systems, nil
}

// DeleteSensorSystem removes a sensor system and everything hanging off it.
// Children are deleted in the same transaction; SQLite only cascades with foreign_keys on.
func (s *SQLStore) DeleteSensorSystem(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"sensor_auth_tokens", "environmental_readings", "thresholds"} {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE sensor_system_id = ?`), id); err != nil {
			return fmt.Errorf("deleting %s: %w", table, err)
		}
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sensor_systems WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting sensor system: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("deleted sensor system", "id", id)
	return nil
}

func scanSensorSystem(row rowScanner) (*SensorSystem, error) {
	var sys SensorSystem
	var description sql.NullString
	var lat, lon sql.NullFloat64
	var createdAt string

	if err := row.Scan(&sys.ID, &sys.UserID, &sys.Name, &description, &lat, &lon, &createdAt); err != nil {
		return nil, err
	}

	sys.Description = description.String
	sys.Latitude = floatPtr(lat)
	sys.Longitude = floatPtr(lon)

	var err error
	if sys.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &sys, nil
}
