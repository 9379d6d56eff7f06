// ABOUTME: SQL implementation of the Store interfaces for SQLite (modernc.org/sqlite) and PostgreSQL (pgx)
// ABOUTME: Handles connection setup, placeholder rebinding, schema creation and constraint detection

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/unconv/unconv-server/internal/config"
)

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// SQLStore implements Store on database/sql
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the database described by cfg and creates the schema if needed.
// The sqlite driver creates parent directories of cfg.Path; ":memory:" is supported
// and pinned to a single connection so every query sees the same database.
func Open(cfg config.DatabaseConfig) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	driver := cfg.Driver
	if driver == "" {
		driver = config.DriverSQLite
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case config.DriverSQLite:
		db, err = openSQLite(cfg.Path)
	case config.DriverPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err == nil {
			err = db.Ping()
			if err != nil {
				db.Close()
			}
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver, logger: logger}

	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("store initialized", "driver", driver)
	return s, nil
}

// NewWithDB wraps an existing connection without touching the schema.
// Used with go-sqlmock in tests.
func NewWithDB(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: driver,
		logger: slog.Default().With("component", "store"),
	}
}

func openSQLite(path string) (*sql.DB, error) {
	memory := path == ":memory:"

	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if memory {
		db.SetMaxOpenConns(1)
		return db, nil
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	return db, nil
}

// createSchema creates the database tables if they don't exist.
// The DDL is shared by SQLite and PostgreSQL; timestamps are fixed-width RFC3339 text.
func (s *SQLStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_systems (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT,
			latitude    DOUBLE PRECISION,
			longitude   DOUBLE PRECISION,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_systems_user ON sensor_systems(user_id)`,
		`CREATE TABLE IF NOT EXISTS sensor_auth_tokens (
			id               TEXT PRIMARY KEY,
			sensor_system_id TEXT NOT NULL REFERENCES sensor_systems(id) ON DELETE CASCADE,
			token_hash       TEXT NOT NULL,
			salt             TEXT NOT NULL,
			token_suffix     TEXT NOT NULL,
			expires_at       TEXT NOT NULL,
			created_at       TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sensor_auth_tokens_suffix ON sensor_auth_tokens(token_suffix)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_auth_tokens_system ON sensor_auth_tokens(sensor_system_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_auth_tokens_expires ON sensor_auth_tokens(expires_at)`,
		`CREATE TABLE IF NOT EXISTS environmental_readings (
			id               TEXT PRIMARY KEY,
			sensor_system_id TEXT NOT NULL REFERENCES sensor_systems(id) ON DELETE CASCADE,
			temperature      DOUBLE PRECISION NOT NULL,
			humidity         DOUBLE PRECISION NOT NULL,
			pressure         DOUBLE PRECISION NOT NULL,
			ts               TEXT NOT NULL,
			created_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_system_ts ON environmental_readings(sensor_system_id, ts)`,
		`CREATE TABLE IF NOT EXISTS thresholds (
			sensor_system_id TEXT NOT NULL REFERENCES sensor_systems(id) ON DELETE CASCADE,
			metric           TEXT NOT NULL,
			min_value        DOUBLE PRECISION,
			max_value        DOUBLE PRECISION,
			updated_at       TEXT NOT NULL,
			PRIMARY KEY (sensor_system_id, metric)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id          TEXT PRIMARY KEY,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			detail_json TEXT,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_type, target_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// isUniqueViolation reports whether err is a unique constraint failure on either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeLayout is RFC3339 with fixed nanosecond width so stored UTC timestamps
// sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString converts empty strings to NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullFloat converts nil pointers to NULL
func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}
