// ABOUTME: Audit log entity and store methods for tracking sensor token and account actions
// ABOUTME: Records who did what to which resource, newest entries listed first

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditRegisterUser       AuditAction = "register_user"
	AuditCreateSensorSystem AuditAction = "create_sensor_system"
	AuditDeleteSensorSystem AuditAction = "delete_sensor_system"
	AuditIssueSensorToken   AuditAction = "issue_sensor_token"
	AuditRevokeSensorToken  AuditAction = "revoke_sensor_token"
	AuditPurgeSensorTokens  AuditAction = "purge_sensor_tokens"
	AuditSetThreshold       AuditAction = "set_threshold"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         // UUID v4
	Actor      string         // username, or "system" for background jobs
	Action     AuditAction    // what action was performed
	TargetType string         // "user", "sensor_system", "sensor_token", "threshold"
	TargetID   string         // ID of the affected resource
	Detail     map[string]any // additional context
	CreatedAt  time.Time
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Actor      *string
	Action     *AuditAction
	TargetType *string
	TargetID   *string
	Limit      int // default 100, max 1000
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and CreatedAt if not set.
func (s *SQLStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	detailJSON, err := marshalDetail(e.Detail)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO audit_log (id, actor, action, target_type, target_id, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Actor, string(e.Action), e.TargetType, e.TargetID, detailJSON, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

func marshalDetail(detail map[string]any) (any, error) {
	if detail == nil {
		return nil, nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit detail: %w", err)
	}
	return string(data), nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// ListAuditLog returns audit entries matching the filter, newest first.
func (s *SQLStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var where []string
	var args []any
	if f.Actor != nil {
		where = append(where, "actor = ?")
		args = append(args, *f.Actor)
	}
	if f.Action != nil {
		where = append(where, "action = ?")
		args = append(args, string(*f.Action))
	}
	if f.TargetType != nil {
		where = append(where, "target_type = ?")
		args = append(args, *f.TargetType)
	}
	if f.TargetID != nil {
		where = append(where, "target_id = ?")
		args = append(args, *f.TargetID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, normalizeAuditLimit(f.Limit))

	rows, err := s.query(ctx, `
		SELECT id, actor, action, target_type, target_id, detail_json, created_at
		FROM audit_log`+clause+`
		ORDER BY created_at DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(row rowScanner) (AuditEntry, error) {
	var e AuditEntry
	var action, createdAt string
	var detailJSON *string

	if err := row.Scan(&e.ID, &e.Actor, &action, &e.TargetType, &e.TargetID, &detailJSON, &createdAt); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(action)
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, fmt.Errorf("parsing created_at: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}
