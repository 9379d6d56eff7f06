// Package store provides persistent storage for unconv-server.
//
// # Architecture
//
// The package is interface-driven with one interface per concern:
//
//   - UserStore: user accounts
//   - SensorSystemStore: sensor systems owned by users
//   - SensorAuthTokenStore: sensor API tokens, looked up by suffix
//   - ReadingStore: environmental readings with pagination
//   - ThresholdStore: per-metric min/max bounds
//   - AuditStore: append-only audit log
//
// Store composes all of them. SQLStore implements Store on database/sql and
// MockStore implements it in memory for tests.
//
// # Drivers
//
// Open picks the driver from config.DatabaseConfig:
//
//   - sqlite (default): modernc.org/sqlite, WAL mode, foreign keys on
//   - postgres: github.com/jackc/pgx/v5/stdlib
//
// Queries are written with ? placeholders and rebound to $n for PostgreSQL.
// The DDL is shared between both drivers.
//
// # Sensor API tokens
//
// The raw token is never stored. A row holds a bcrypt hash of token+salt, the
// salt, and a lower-cased lookup suffix protected by a unique index. Inserting
// a colliding suffix returns ErrDuplicateTokenSuffix so issuers can retry.
//
// # Timestamps
//
// All timestamps are stored as fixed-width RFC3339 UTC text with nanosecond
// precision, which keeps range filters and ordering correct on both drivers.
package store
