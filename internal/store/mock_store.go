// ABOUTME: Mock Store implementation for testing
// ABOUTME: Keeps every entity in memory behind a single RWMutex

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
// Returned entities are copies so callers cannot mutate stored state.
type MockStore struct {
	mu         sync.RWMutex
	users      map[string]*User                 // keyed by user ID
	systems    map[string]*SensorSystem         // keyed by system ID
	tokens     map[string]*SensorAuthToken      // keyed by token ID
	readings   []*EnvironmentalReading          // insertion order
	thresholds map[string]map[string]*Threshold // system ID -> metric
	audit      []AuditEntry

	// PingErr is returned by Ping when set.
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:      make(map[string]*User),
		systems:    make(map[string]*SensorSystem),
		tokens:     make(map[string]*SensorAuthToken),
		thresholds: make(map[string]map[string]*Threshold),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrUsernameExists
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// CreateSensorSystem stores a new sensor system.
func (m *MockStore) CreateSensorSystem(ctx context.Context, sys *SensorSystem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[sys.UserID]; !ok {
		return fmt.Errorf("inserting sensor system: unknown user %q", sys.UserID)
	}
	if sys.ID == "" {
		sys.ID = uuid.New().String()
	}
	if sys.CreatedAt.IsZero() {
		sys.CreatedAt = time.Now().UTC()
	}
	cp := *sys
	m.systems[cp.ID] = &cp
	return nil
}

// GetSensorSystem retrieves a sensor system by ID.
func (m *MockStore) GetSensorSystem(ctx context.Context, id string) (*SensorSystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sys, ok := m.systems[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sys
	return &cp, nil
}

// ListSensorSystemsByUser returns the user's systems, oldest first.
func (m *MockStore) ListSensorSystemsByUser(ctx context.Context, userID string) ([]*SensorSystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*SensorSystem{}
	for _, sys := range m.systems {
		if sys.UserID == userID {
			cp := *sys
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteSensorSystem removes a system and its tokens, readings and thresholds.
func (m *MockStore) DeleteSensorSystem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.systems[id]; !ok {
		return ErrNotFound
	}
	delete(m.systems, id)
	delete(m.thresholds, id)
	for tid, t := range m.tokens {
		if t.SensorSystemID == id {
			delete(m.tokens, tid)
		}
	}
	kept := m.readings[:0]
	for _, r := range m.readings {
		if r.SensorSystemID != id {
			kept = append(kept, r)
		}
	}
	m.readings = kept
	return nil
}

// CreateSensorAuthToken stores a new sensor token.
func (m *MockStore) CreateSensorAuthToken(ctx context.Context, token *SensorAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token.TokenSuffix = strings.ToLower(token.TokenSuffix)
	for _, t := range m.tokens {
		if t.TokenSuffix == token.TokenSuffix {
			return ErrDuplicateTokenSuffix
		}
	}
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	cp := *token
	m.tokens[cp.ID] = &cp
	return nil
}

// GetSensorAuthTokenBySuffix retrieves a sensor token by lookup suffix.
func (m *MockStore) GetSensorAuthTokenBySuffix(ctx context.Context, suffix string) (*SensorAuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	suffix = strings.ToLower(suffix)
	for _, t := range m.tokens {
		if t.TokenSuffix == suffix {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// GetSensorAuthToken retrieves a sensor token by ID.
func (m *MockStore) GetSensorAuthToken(ctx context.Context, id string) (*SensorAuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListSensorAuthTokens returns the tokens of a sensor system, newest first.
func (m *MockStore) ListSensorAuthTokens(ctx context.Context, sensorSystemID string) ([]*SensorAuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*SensorAuthToken{}
	for _, t := range m.tokens {
		if t.SensorSystemID == sensorSystemID {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteSensorAuthToken removes a sensor token.
func (m *MockStore) DeleteSensorAuthToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[id]; !ok {
		return ErrNotFound
	}
	delete(m.tokens, id)
	return nil
}

// DeleteExpiredSensorAuthTokens removes tokens that expired before now.
func (m *MockStore) DeleteExpiredSensorAuthTokens(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, t := range m.tokens {
		if t.ExpiresAt.Before(now) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

// SaveReadings stores all readings, all or nothing.
func (m *MockStore) SaveReadings(ctx context.Context, readings []*EnvironmentalReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range readings {
		if _, ok := m.systems[r.SensorSystemID]; !ok {
			return fmt.Errorf("inserting reading: unknown sensor system %q", r.SensorSystemID)
		}
	}
	now := time.Now().UTC()
	for _, r := range readings {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		cp := *r
		m.readings = append(m.readings, &cp)
	}
	return nil
}

// ListReadings returns one page of readings matching f, newest first.
func (m *MockStore) ListReadings(ctx context.Context, f ReadingFilter, p PageRequest) (*ReadingPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p = p.Normalize()

	var matched []*EnvironmentalReading
	for _, r := range m.readings {
		if f.SensorSystemID != "" && r.SensorSystemID != f.SensorSystemID {
			continue
		}
		if f.Since != nil && r.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && r.Timestamp.After(*f.Until) {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	content := []*EnvironmentalReading{}
	for i := p.Offset(); i < len(matched) && len(content) < p.Size; i++ {
		cp := *matched[i]
		content = append(content, &cp)
	}

	total := int64(len(matched))
	return &ReadingPage{
		Content:       content,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: total,
		TotalPages:    totalPages(total, p.Size),
	}, nil
}

// SetThreshold inserts or replaces a threshold.
func (m *MockStore) SetThreshold(ctx context.Context, t *Threshold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !IsValidMetric(t.Metric) {
		return fmt.Errorf("unknown metric %q", t.Metric)
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	byMetric, ok := m.thresholds[t.SensorSystemID]
	if !ok {
		byMetric = make(map[string]*Threshold)
		m.thresholds[t.SensorSystemID] = byMetric
	}
	cp := *t
	byMetric[t.Metric] = &cp
	return nil
}

// ListThresholds returns a system's thresholds ordered by metric.
func (m *MockStore) ListThresholds(ctx context.Context, sensorSystemID string) ([]*Threshold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Threshold{}
	for _, t := range m.thresholds[sensorSystemID] {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Metric < result[j].Metric })
	return result, nil
}

// AppendAuditLog appends an entry to the in-memory audit log.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns entries matching f, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeAuditLimit(f.Limit)
	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		e := m.audit[i]
		if f.Actor != nil && e.Actor != *f.Actor {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.TargetType != nil && e.TargetType != *f.TargetType {
			continue
		}
		if f.TargetID != nil && e.TargetID != *f.TargetID {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLStore)(nil)
)
