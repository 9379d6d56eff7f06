// ABOUTME: Per-metric threshold persistence for the SQL store
// ABOUTME: Upserts min/max bounds and lists them per sensor system

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SetThreshold inserts or replaces the threshold for a sensor system and metric.
func (s *SQLStore) SetThreshold(ctx context.Context, t *Threshold) error {
	if !IsValidMetric(t.Metric) {
		return fmt.Errorf("unknown metric %q", t.Metric)
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}

	// ON CONFLICT ... DO UPDATE is understood by both SQLite and PostgreSQL.
	_, err := s.exec(ctx, `
		INSERT INTO thresholds (sensor_system_id, metric, min_value, max_value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (sensor_system_id, metric) DO UPDATE SET
			min_value = excluded.min_value,
			max_value = excluded.max_value,
			updated_at = excluded.updated_at
	`, t.SensorSystemID, t.Metric, nullFloat(t.Min), nullFloat(t.Max), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting threshold: %w", err)
	}
	return nil
}

// ListThresholds returns all thresholds of a sensor system ordered by metric.
func (s *SQLStore) ListThresholds(ctx context.Context, sensorSystemID string) ([]*Threshold, error) {
	rows, err := s.query(ctx, `
		SELECT sensor_system_id, metric, min_value, max_value, updated_at
		FROM thresholds
		WHERE sensor_system_id = ?
		ORDER BY metric ASC
	`, sensorSystemID)
	if err != nil {
		return nil, fmt.Errorf("querying thresholds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	thresholds := []*Threshold{}
	for rows.Next() {
		var t Threshold
		var minV, maxV sql.NullFloat64
		var updatedAt string
		if err := rows.Scan(&t.SensorSystemID, &t.Metric, &minV, &maxV, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning threshold: %w", err)
		}
		t.Min = floatPtr(minV)
		t.Max = floatPtr(maxV)
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		thresholds = append(thresholds, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thresholds: %w", err)
	}
	return thresholds, nil
}
