// ABOUTME: Environmental reading endpoints: ingestion, paginated listing, CSV upload and live stream
// ABOUTME: Stored batches are checked against thresholds and fanned out to the stream, sink and metrics

package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/dedupe"
	"github.com/unconv/unconv-server/internal/sink"
	"github.com/unconv/unconv-server/internal/store"
	"github.com/unconv/unconv-server/internal/stream"
)

// IdempotencyKeyHeader lets a sensor retry a batch without storing it twice.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 255

var (
	errTokenSystemMismatch = errors.New("sensor token is not valid for this sensor system")
	errMissingSystemID     = errors.New("sensor_system_id is required")
)

// ReadingInput is one reading in an ingestion request.
// A missing timestamp means the time the server received it.
type ReadingInput struct {
	Timestamp   *time.Time `json:"timestamp"`
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	Pressure    *float64   `json:"pressure"`
}

// IngestRequest is the JSON request body for POST /EnvironmentalReading.
// SensorSystemID may be omitted when authenticating with a sensor token.
type IngestRequest struct {
	SensorSystemID string         `json:"sensor_system_id"`
	Readings       []ReadingInput `json:"readings"`
}

// ReadingResponse describes a stored reading.
type ReadingResponse struct {
	ID             string    `json:"id"`
	SensorSystemID string    `json:"sensor_system_id"`
	Timestamp      time.Time `json:"timestamp"`
	Temperature    float64   `json:"temperature"`
	Humidity       float64   `json:"humidity"`
	Pressure       float64   `json:"pressure"`
	CreatedAt      time.Time `json:"created_at"`
}

// Violation reports a stored reading outside a configured threshold.
type Violation struct {
	ReadingID string   `json:"reading_id"`
	Metric    string   `json:"metric"`
	Value     float64  `json:"value"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
}

// IngestResponse is returned when a batch is stored.
type IngestResponse struct {
	Saved      int               `json:"saved"`
	Readings   []ReadingResponse `json:"readings,omitempty"`
	Violations []Violation       `json:"violations"`
}

// ReadingPageResponse is one page of readings.
type ReadingPageResponse struct {
	Content       []ReadingResponse `json:"content"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
	TotalElements int64             `json:"total_elements"`
	TotalPages    int               `json:"total_pages"`
}

func toReadingResponse(r *store.EnvironmentalReading) ReadingResponse {
	return ReadingResponse{
		ID:             r.ID,
		SensorSystemID: r.SensorSystemID,
		Timestamp:      r.Timestamp,
		Temperature:    r.Temperature,
		Humidity:       r.Humidity,
		Pressure:       r.Pressure,
		CreatedAt:      r.CreatedAt,
	}
}

// toReadings validates inputs and converts them for sensorSystemID.
func toReadings(inputs []ReadingInput, sensorSystemID string, now time.Time) ([]*store.EnvironmentalReading, error) {
	readings := make([]*store.EnvironmentalReading, 0, len(inputs))
	for i, in := range inputs {
		if in.Temperature == nil || in.Humidity == nil || in.Pressure == nil {
			return nil, fmt.Errorf("readings[%d]: temperature, humidity and pressure are required", i)
		}
		for _, m := range []struct {
			name  string
			value float64
		}{
			{store.MetricTemperature, *in.Temperature},
			{store.MetricHumidity, *in.Humidity},
			{store.MetricPressure, *in.Pressure},
		} {
			if !isFinite(m.value) {
				return nil, fmt.Errorf("readings[%d]: %s must be a finite number", i, m.name)
			}
		}
		ts := now
		if in.Timestamp != nil {
			ts = in.Timestamp.UTC()
		}
		readings = append(readings, &store.EnvironmentalReading{
			SensorSystemID: sensorSystemID,
			Temperature:    *in.Temperature,
			Humidity:       *in.Humidity,
			Pressure:       *in.Pressure,
			Timestamp:      ts,
		})
	}
	return readings, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// resolveIngestSystem picks the sensor system a batch is written to.
// Sensor tokens are bound to one system; bearer callers must own the requested one.
func (s *Server) resolveIngestSystem(r *http.Request, requested string) (*store.SensorSystem, error) {
	ac := auth.MustFromContext(r.Context())
	if ac.Method == auth.MethodSensorToken {
		if requested != "" && requested != ac.SensorSystemID {
			return nil, errTokenSystemMismatch
		}
		return s.store.GetSensorSystem(r.Context(), ac.SensorSystemID)
	}

	if requested == "" {
		return nil, errMissingSystemID
	}
	user, err := s.currentUser(r)
	if err != nil {
		return nil, err
	}
	return s.ownedSystem(r, user, requested)
}

func (s *Server) sendIngestTargetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errTokenSystemMismatch):
		s.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errMissingSystemID):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		s.sendLookupError(w, "sensor system", err)
	}
}

func sourceFor(ac *auth.AuthContext) string {
	if ac.Method == auth.MethodSensorToken {
		return sink.SourceSensorToken
	}
	return sink.SourceBearer
}

func (s *Server) handleIngestReadings(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Readings) == 0 {
		s.sendJSONError(w, http.StatusBadRequest, "readings must not be empty")
		return
	}
	if limit := s.config.Ingest.MaxBatch; limit > 0 && len(req.Readings) > limit {
		s.sendJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch exceeds %d readings", limit))
		return
	}

	idemKey := r.Header.Get(IdempotencyKeyHeader)
	if len(idemKey) > maxIdempotencyKeyLength {
		s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("%s must be at most %d characters", IdempotencyKeyHeader, maxIdempotencyKeyLength))
		return
	}

	sys, err := s.resolveIngestSystem(r, req.SensorSystemID)
	if err != nil {
		s.sendIngestTargetError(w, err)
		return
	}

	readings, err := toReadings(req.Readings, sys.ID, time.Now().UTC())
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if idemKey != "" {
		cacheKey := dedupe.Key(sys.ID, idemKey)
		if s.dedupe.Seen(cacheKey) {
			s.logger.Info("duplicate reading batch acknowledged", "sensor_system_id", sys.ID)
			s.sendJSON(w, http.StatusOK, map[string]bool{"duplicate": true})
			return
		}
		defer func() {
			if err != nil {
				s.dedupe.Forget(cacheKey)
			}
		}()
	}

	ac := auth.MustFromContext(r.Context())
	var violations []Violation
	violations, err = s.storeReadings(r.Context(), ac.Username, sys, readings, sourceFor(ac))
	if err != nil {
		s.sendInternalError(w, "saving readings", err)
		return
	}

	resp := IngestResponse{Saved: len(readings), Violations: violations}
	for _, rd := range readings {
		resp.Readings = append(resp.Readings, toReadingResponse(rd))
	}
	s.sendJSON(w, http.StatusCreated, resp)
}

// storeReadings saves a batch and fans it out. The returned violations are
// never nil.
func (s *Server) storeReadings(ctx context.Context, username string, sys *store.SensorSystem, readings []*store.EnvironmentalReading, source string) ([]Violation, error) {
	if err := s.store.SaveReadings(ctx, readings); err != nil {
		return nil, err
	}

	thresholds, err := s.store.ListThresholds(ctx, sys.ID)
	if err != nil {
		// The batch is stored; only the threshold report is lost.
		s.logger.Warn("loading thresholds", "sensor_system_id", sys.ID, "error", err)
	}
	violations := checkThresholds(readings, thresholds)

	s.metrics.ObserveReadingsIngested(source, len(readings))
	s.fanOut(username, source, readings, violations)

	s.logger.Info("stored readings",
		"sensor_system_id", sys.ID,
		"count", len(readings),
		"violations", len(violations),
		"source", source,
	)
	return violations, nil
}

// checkThresholds returns one Violation per reading and violated metric.
func checkThresholds(readings []*store.EnvironmentalReading, thresholds []*store.Threshold) []Violation {
	violations := []Violation{}
	for _, rd := range readings {
		for _, t := range thresholds {
			v, ok := rd.Value(t.Metric)
			if !ok || !t.Violates(v) {
				continue
			}
			violations = append(violations, Violation{
				ReadingID: rd.ID,
				Metric:    t.Metric,
				Value:     v,
				Min:       t.Min,
				Max:       t.Max,
			})
		}
	}
	return violations
}

// fanOut publishes stored readings to live streams and the analytics sink.
func (s *Server) fanOut(username, source string, readings []*store.EnvironmentalReading, violations []Violation) {
	violated := make(map[string][]string)
	for _, v := range violations {
		violated[v.ReadingID] = append(violated[v.ReadingID], v.Metric)
	}

	ingestedAt := time.Now().UTC()
	events := make([]*stream.Event, 0, len(readings))
	for _, rd := range readings {
		events = append(events, &stream.Event{
			ID:             rd.ID,
			SensorSystemID: rd.SensorSystemID,
			Timestamp:      rd.Timestamp,
			Temperature:    rd.Temperature,
			Humidity:       rd.Humidity,
			Pressure:       rd.Pressure,
			Violations:     violated[rd.ID],
		})
		s.sink.Write(&sink.ReadingEvent{
			ReadingID:      rd.ID,
			SensorSystemID: rd.SensorSystemID,
			Username:       username,
			Source:         source,
			Timestamp:      rd.Timestamp,
			Temperature:    rd.Temperature,
			Humidity:       rd.Humidity,
			Pressure:       rd.Pressure,
			IngestedAt:     ingestedAt,
		})
	}
	if len(readings) > 0 {
		s.broadcaster.Publish(readings[0].SensorSystemID, events...)
	}
}

// parseIntParam parses an optional non-negative integer query parameter.
func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// parseTimeParam parses an optional RFC 3339 query parameter.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	sensorSystemID := r.URL.Query().Get("sensorSystemId")
	if sensorSystemID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "sensorSystemId is required")
		return
	}

	var page listParams
	var err error
	if page.page, err = parseIntParam(r, "page"); err == nil {
		page.size, err = parseIntParam(r, "size")
	}
	if err == nil {
		page.since, err = parseTimeParam(r, "since")
	}
	if err == nil {
		page.until, err = parseTimeParam(r, "until")
	}
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}
	sys, err := s.ownedSystem(r, user, sensorSystemID)
	if err != nil {
		s.sendLookupError(w, "sensor system", err)
		return
	}

	result, err := s.store.ListReadings(r.Context(),
		store.ReadingFilter{SensorSystemID: sys.ID, Since: page.since, Until: page.until},
		store.PageRequest{Page: page.page, Size: page.size},
	)
	if err != nil {
		s.sendInternalError(w, "listing readings", err)
		return
	}

	resp := ReadingPageResponse{
		Content:       make([]ReadingResponse, 0, len(result.Content)),
		Page:          result.Page,
		Size:          result.Size,
		TotalElements: result.TotalElements,
		TotalPages:    result.TotalPages,
	}
	for _, rd := range result.Content {
		resp.Content = append(resp.Content, toReadingResponse(rd))
	}
	s.sendJSON(w, http.StatusOK, resp)
}

type listParams struct {
	page, size   int
	since, until *time.Time
}

func (s *Server) handleStreamReadings(w http.ResponseWriter, r *http.Request) {
	sensorSystemID := r.URL.Query().Get("sensorSystemId")
	if sensorSystemID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "sensorSystemId is required")
		return
	}

	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}
	sys, err := s.ownedSystem(r, user, sensorSystemID)
	if err != nil {
		s.sendLookupError(w, "sensor system", err)
		return
	}

	s.stream.Serve(w, r, sys.ID)
}
