// ABOUTME: Store interfaces and data types for unconv-server persistence
// ABOUTME: Defines users, sensor systems, sensor API tokens, readings, thresholds and audit entries

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when registering a username that is already taken
var ErrUsernameExists = errors.New("username already exists")

// ErrDuplicateTokenSuffix is returned when a sensor API token's lookup suffix
// collides with a stored one. Issuers retry with a fresh token.
var ErrDuplicateTokenSuffix = errors.New("sensor token suffix already exists")

// User is an account that owns sensor systems
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// SensorSystem is a physical station pushing environmental readings
type SensorSystem struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Latitude    *float64
	Longitude   *float64
	CreatedAt   time.Time
}

// HasLocation reports whether both coordinates are set.
func (s *SensorSystem) HasLocation() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// SensorAuthToken is the stored form of a sensor API token.
// The raw token is never persisted: TokenHash is bcrypt(token + Salt) and
// TokenSuffix is the lower-cased lookup key taken from the token's tail.
type SensorAuthToken struct {
	ID             string
	SensorSystemID string
	TokenHash      string
	Salt           string
	TokenSuffix    string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// EnvironmentalReading is a single measurement reported by a sensor system
type EnvironmentalReading struct {
	ID             string
	SensorSystemID string
	Temperature    float64
	Humidity       float64
	Pressure       float64
	Timestamp      time.Time
	CreatedAt      time.Time
}

// Metric names accepted for thresholds
const (
	MetricTemperature = "temperature"
	MetricHumidity    = "humidity"
	MetricPressure    = "pressure"
)

// ValidMetrics lists all metrics a threshold can be set on.
var ValidMetrics = []string{MetricTemperature, MetricHumidity, MetricPressure}

// IsValidMetric reports whether name is a known metric.
func IsValidMetric(name string) bool {
	for _, m := range ValidMetrics {
		if m == name {
			return true
		}
	}
	return false
}

// Value returns the reading's value for the given metric.
func (r *EnvironmentalReading) Value(metric string) (float64, bool) {
	switch metric {
	case MetricTemperature:
		return r.Temperature, true
	case MetricHumidity:
		return r.Humidity, true
	case MetricPressure:
		return r.Pressure, true
	default:
		return 0, false
	}
}

// Threshold bounds a metric for one sensor system. Either bound may be nil.
type Threshold struct {
	SensorSystemID string
	Metric         string
	Min            *float64
	Max            *float64
	UpdatedAt      time.Time
}

// Violates reports whether v falls outside the threshold bounds.
func (t *Threshold) Violates(v float64) bool {
	if t.Min != nil && v < *t.Min {
		return true
	}
	if t.Max != nil && v > *t.Max {
		return true
	}
	return false
}

// ReadingFilter narrows ListReadings results
type ReadingFilter struct {
	SensorSystemID string
	Since          *time.Time
	Until          *time.Time
}

// PageRequest selects a zero-based page of results
type PageRequest struct {
	Page int
	Size int
}

// Page size limits
const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Normalize applies the default and cap to the page size and clamps negative pages.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	switch {
	case p.Size <= 0:
		p.Size = DefaultPageSize
	case p.Size > MaxPageSize:
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the row offset of the page.
func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// ReadingPage is one page of readings plus totals
type ReadingPage struct {
	Content       []*EnvironmentalReading
	Page          int
	Size          int
	TotalElements int64
	TotalPages    int
}

// UserStore persists user accounts
type UserStore interface {
	// CreateUser stores a new user. Returns ErrUsernameExists if the username is taken.
	CreateUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by ID. Returns ErrNotFound if absent.
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username. Returns ErrNotFound if absent.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// SensorSystemStore persists sensor systems
type SensorSystemStore interface {
	CreateSensorSystem(ctx context.Context, sys *SensorSystem) error
	GetSensorSystem(ctx context.Context, id string) (*SensorSystem, error)
	ListSensorSystemsByUser(ctx context.Context, userID string) ([]*SensorSystem, error)

	// DeleteSensorSystem removes a system along with its tokens, readings and thresholds.
	DeleteSensorSystem(ctx context.Context, id string) error
}

// SensorAuthTokenStore persists sensor API tokens
type SensorAuthTokenStore interface {
	// CreateSensorAuthToken stores a token. Returns ErrDuplicateTokenSuffix when
	// TokenSuffix is already in use.
	CreateSensorAuthToken(ctx context.Context, token *SensorAuthToken) error

	// GetSensorAuthTokenBySuffix looks a token up by its lower-cased lookup key.
	// Returns ErrNotFound if no token has that suffix.
	GetSensorAuthTokenBySuffix(ctx context.Context, suffix string) (*SensorAuthToken, error)

	GetSensorAuthToken(ctx context.Context, id string) (*SensorAuthToken, error)
	ListSensorAuthTokens(ctx context.Context, sensorSystemID string) ([]*SensorAuthToken, error)
	DeleteSensorAuthToken(ctx context.Context, id string) error

	// DeleteExpiredSensorAuthTokens removes tokens that expired before now and
	// returns how many were removed.
	DeleteExpiredSensorAuthTokens(ctx context.Context, now time.Time) (int64, error)
}

// ReadingStore persists environmental readings
type ReadingStore interface {
	// SaveReadings stores all readings in a single transaction.
	SaveReadings(ctx context.Context, readings []*EnvironmentalReading) error

	// ListReadings returns readings newest first.
	ListReadings(ctx context.Context, f ReadingFilter, p PageRequest) (*ReadingPage, error)
}

// ThresholdStore persists per-metric thresholds
type ThresholdStore interface {
	// SetThreshold inserts or replaces the threshold for (SensorSystemID, Metric).
	SetThreshold(ctx context.Context, t *Threshold) error
	ListThresholds(ctx context.Context, sensorSystemID string) ([]*Threshold, error)
}

// AuditStore persists the audit log
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store combines every persistence concern of the server
type Store interface {
	UserStore
	SensorSystemStore
	SensorAuthTokenStore
	ReadingStore
	ThresholdStore
	AuditStore

	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}
