// ABOUTME: Error taxonomy for authentication failures
// ABOUTME: Sensor token kinds wrapped in SensorTokenError, JWT errors kept separate

package auth

import (
	"errors"
	"time"
)

// Sensor API token failure kinds
var (
	ErrInvalidTokenLength = errors.New("invalid API token length")
	ErrUnknownAuthToken   = errors.New("unknown API token")
	ErrMalformedAuthToken = errors.New("malformed API token")
	ErrExpiredAuthToken   = errors.New("expired API token")
)

// SensorTokenError is a rejected sensor API token along with the presented
// value and the time of rejection.
type SensorTokenError struct {
	Kind      error
	Token     string
	Timestamp time.Time
}

func newSensorTokenError(kind error, token string, now time.Time) *SensorTokenError {
	return &SensorTokenError{Kind: kind, Token: token, Timestamp: now}
}

func (e *SensorTokenError) Error() string {
	return e.Kind.Error()
}

// Unwrap returns the failure kind so errors.Is matches the sentinels.
func (e *SensorTokenError) Unwrap() error {
	return e.Kind
}
