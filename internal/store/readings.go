// ABOUTME: Environmental reading persistence for the SQL store
// ABOUTME: Batch inserts in one transaction and paginated, time-filtered listing

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SaveReadings stores all readings in a single transaction.
// Generates ID and CreatedAt for readings that lack them.
func (s *SQLStore) SaveReadings(ctx context.Context, readings []*EnvironmentalReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO environmental_readings (id, sensor_system_id, temperature, humidity, pressure, ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, r := range readings {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID,
			r.SensorSystemID,
			r.Temperature,
			r.Humidity,
			r.Pressure,
			formatTime(r.Timestamp),
			formatTime(r.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("saved readings", "count", len(readings))
	return nil
}

// ListReadings returns one page of readings matching f, newest first.
func (s *SQLStore) ListReadings(ctx context.Context, f ReadingFilter, p PageRequest) (*ReadingPage, error) {
	p = p.Normalize()

	var where []string
	var args []any
	if f.SensorSystemID != "" {
		where = append(where, "sensor_system_id = ?")
		args = append(args, f.SensorSystemID)
	}
	if f.Since != nil {
		where = append(where, "ts >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "ts <= ?")
		args = append(args, formatTime(*f.Until))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM environmental_readings`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting readings: %w", err)
	}

	rows, err := s.query(ctx, `
		SELECT id, sensor_system_id, temperature, humidity, pressure, ts, created_at
		FROM environmental_readings`+clause+`
		ORDER BY ts DESC, id ASC
		LIMIT ? OFFSET ?
	`, append(args, p.Size, p.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	content := []*EnvironmentalReading{}
	for rows.Next() {
		var r EnvironmentalReading
		var ts, createdAt string
		if err := rows.Scan(&r.ID, &r.SensorSystemID, &r.Temperature, &r.Humidity, &r.Pressure, &ts, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing ts: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		content = append(content, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}

	return &ReadingPage{
		Content:       content,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: total,
		TotalPages:    totalPages(total, p.Size),
	}, nil
}

func totalPages(total int64, size int) int {
	if size <= 0 || total == 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
