// ABOUTME: Tests for reading ingestion and listing through the full middleware chain
// ABOUTME: Covers sensor token and bearer ingestion, idempotency, thresholds, pagination and fan-out

package server

import (
	"io"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unconv/unconv-server/internal/sink"
	"github.com/unconv/unconv-server/internal/store"
)

// sensorFixture is a registered user with one sensor system and a token for it.
type sensorFixture struct {
	bearer   string
	system   SensorSystemResponse
	rawToken string
}

func newSensorFixture(t *testing.T, ts *testServer, username string) sensorFixture {
	t.Helper()
	bearer := ts.login(t, username)
	sys := ts.createSystem(t, bearer, username+"-station")
	return sensorFixture{bearer: bearer, system: sys, rawToken: ts.issueToken(t, bearer, sys.ID)}
}

func TestIngest_SensorToken(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	ts0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := sampleReading(21.5)
	in.Timestamp = &ts0

	rec := ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+fx.rawToken, "", IngestRequest{
		Readings: []ReadingInput{in},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[IngestResponse](t, rec)
	assert.Equal(t, 1, resp.Saved)
	require.Len(t, resp.Readings, 1)
	assert.Equal(t, fx.system.ID, resp.Readings[0].SensorSystemID)
	assert.Equal(t, 21.5, resp.Readings[0].Temperature)
	assert.True(t, ts0.Equal(resp.Readings[0].Timestamp))
	assert.NotNil(t, resp.Violations)
	assert.Empty(t, resp.Violations)

	// The reading is visible to its owner
	rec = ts.do(t, http.MethodGet, "/EnvironmentalReading?sensorSystemId="+fx.system.ID, fx.bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[ReadingPageResponse](t, rec)
	assert.EqualValues(t, 1, page.TotalElements)
	require.Len(t, page.Content, 1)
	assert.Equal(t, resp.Readings[0].ID, page.Content[0].ID)
}

func TestIngest_MalformedSensorToken(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	// Same length and suffix as a real token, different body
	b := []byte(fx.rawToken)
	if b[10] == 'a' {
		b[10] = 'b'
	} else {
		b[10] = 'a'
	}
	forged := string(b)

	rec := ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+forged, "", IngestRequest{
		Readings: []ReadingInput{sampleReading(20)},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "malformed API token", body["message"])
	assert.Equal(t, forged, body["token"])
	_, err := time.Parse(time.RFC3339Nano, body["timestamp"])
	assert.NoError(t, err)

	assert.Empty(t, ts.sink.Events())
}

func TestIngest_SensorTokenFailures(t *testing.T) {
	ts := newTestServer(t)
	newSensorFixture(t, ts, "alice")

	tests := []struct {
		name  string
		token string
		msg   string
	}{
		{"empty", "", "invalid API token length"},
		{"too short", "UNCONV123", "invalid API token length"},
		{"unknown suffix", "UNCONV" + strings.Repeat("z", 24), "unknown API token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+tt.token, "", IngestRequest{
				Readings: []ReadingInput{sampleReading(20)},
			})
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.msg, decodeBody[map[string]string](t, rec)["message"])
		})
	}
}

func TestIngest_ExpiredSensorToken(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	tokens, err := ts.store.ListSensorAuthTokens(t.Context(), fx.system.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	// Re-store the token already expired
	expired := *tokens[0]
	require.NoError(t, ts.store.DeleteSensorAuthToken(t.Context(), expired.ID))
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, ts.store.CreateSensorAuthToken(t.Context(), &expired))

	rec := ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+fx.rawToken, "", IngestRequest{
		Readings: []ReadingInput{sampleReading(20)},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "expired API token", decodeBody[map[string]string](t, rec)["message"])
}

func TestListReadings_RandomBearer(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/EnvironmentalReading", "RANDOM_STRING", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", rec.Body.String())
}

func TestIngest_Bearer(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	rec := ts.do(t, http.MethodPost, "/EnvironmentalReading", fx.bearer, IngestRequest{
		SensorSystemID: fx.system.ID,
		Readings:       []ReadingInput{sampleReading(19), sampleReading(20)},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[IngestResponse](t, rec).Saved)

	events := ts.sink.Events()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, sink.SourceBearer, e.Source)
		assert.Equal(t, "alice", e.Username)
		assert.Equal(t, fx.system.ID, e.SensorSystemID)
		assert.NotEmpty(t, e.ReadingID)
	}
}

func TestIngest_BearerRequiresSystem(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	rec := ts.do(t, http.MethodPost, "/EnvironmentalReading", fx.bearer, IngestRequest{
		Readings: []ReadingInput{sampleReading(20)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sensor_system_id is required", decodeBody[map[string]string](t, rec)["error"])
}

func TestIngest_Ownership(t *testing.T) {
	ts := newTestServer(t)
	alice := newSensorFixture(t, ts, "alice")
	bob := newSensorFixture(t, ts, "bob")

	// Bearer caller writing to someone else's system
	rec := ts.do(t, http.MethodPost, "/EnvironmentalReading", bob.bearer, IngestRequest{
		SensorSystemID: alice.system.ID,
		Readings:       []ReadingInput{sampleReading(20)},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Sensor token naming a different system than it is bound to
	rec = ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+bob.rawToken, "", IngestRequest{
		SensorSystemID: alice.system.ID,
		Readings:       []ReadingInput{sampleReading(20)},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errTokenSystemMismatch.Error(), decodeBody[map[string]string](t, rec)["error"])

	// Naming its own system is fine
	rec = ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+bob.rawToken, "", IngestRequest{
		SensorSystemID: bob.system.ID,
		Readings:       []ReadingInput{sampleReading(20)},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestIngest_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.MaxBatch = 2
	ts := newTestServerWithConfig(t, cfg)
	fx := newSensorFixture(t, ts, "alice")
	target := "/EnvironmentalReading?access_token=" + fx.rawToken

	rec := ts.do(t, http.MethodPost, target, "", IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, target, "", IngestRequest{
		Readings: []ReadingInput{sampleReading(1), sampleReading(2), sampleReading(3)},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = ts.do(t, http.MethodPost, target, "", IngestRequest{
		Readings: []ReadingInput{{Temperature: ptr(20.0), Humidity: ptr(40.0)}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], "readings[0]")

	rec = ts.do(t, http.MethodPost, target, "", strings.NewReader(`{"readings": [`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	page, err := ts.store.ListReadings(t.Context(), store.ReadingFilter{}, store.PageRequest{})
	require.NoError(t, err)
	assert.Zero(t, page.TotalElements)
}

func TestToReadings_RejectsNonFinite(t *testing.T) {
	now := time.Now().UTC()
	inputs := []ReadingInput{
		sampleReading(20),
		{Temperature: ptr(20.0), Humidity: ptr(math.Inf(1)), Pressure: ptr(1000.0)},
	}
	_, err := toReadings(inputs, "sys", now)
	require.Error(t, err)
	assert.Equal(t, "readings[1]: humidity must be a finite number", err.Error())

	inputs[1].Humidity = ptr(math.NaN())
	_, err = toReadings(inputs, "sys", now)
	require.Error(t, err)

	inputs[1].Humidity = ptr(45.0)
	readings, err := toReadings(inputs, "sys", now)
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}

func TestIngest_DefaultTimestamp(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	before := time.Now().UTC()
	rec := ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+fx.rawToken, "", IngestRequest{
		Readings: []ReadingInput{sampleReading(20)},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	got := decodeBody[IngestResponse](t, rec).Readings[0].Timestamp
	assert.False(t, got.Before(before.Truncate(time.Second)))
	assert.WithinDuration(t, time.Now(), got, time.Minute)
}

func TestIngest_IdempotencyKey(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	send := func(key string) *http.Response {
		req := IngestRequest{Readings: []ReadingInput{sampleReading(20)}}
		r := ts.request(t, http.MethodPost, "/EnvironmentalReading?access_token="+fx.rawToken, req)
		r.Header.Set(IdempotencyKeyHeader, key)
		return ts.serve(r)
	}

	first := send("batch-1")
	assert.Equal(t, http.StatusCreated, first.StatusCode)

	second := send("batch-1")
	assert.Equal(t, http.StatusOK, second.StatusCode)
	body, _ := io.ReadAll(second.Body)
	assert.JSONEq(t, `{"duplicate": true}`, string(body))

	third := send("batch-2")
	assert.Equal(t, http.StatusCreated, third.StatusCode)

	tooLong := send(strings.Repeat("k", 256))
	assert.Equal(t, http.StatusBadRequest, tooLong.StatusCode)

	page, err := ts.store.ListReadings(t.Context(), store.ReadingFilter{SensorSystemID: fx.system.ID}, store.PageRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.TotalElements)
}

func TestIngest_IdempotencyKeyScopedPerSystem(t *testing.T) {
	ts := newTestServer(t)
	alice := newSensorFixture(t, ts, "alice")
	bob := newSensorFixture(t, ts, "bob")

	for _, fx := range []sensorFixture{alice, bob} {
		r := ts.request(t, http.MethodPost, "/EnvironmentalReading?access_token="+fx.rawToken,
			IngestRequest{Readings: []ReadingInput{sampleReading(20)}})
		r.Header.Set(IdempotencyKeyHeader, "same-key")
		assert.Equal(t, http.StatusCreated, ts.serve(r).StatusCode)
	}
}

func TestIngest_ThresholdViolations(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	rec := ts.do(t, http.MethodPut, "/SensorSystem/"+fx.system.ID+"/thresholds", fx.bearer,
		ThresholdRequest{Metric: "temperature", Max: ptr(30.0)})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPut, "/SensorSystem/"+fx.system.ID+"/thresholds", fx.bearer,
		ThresholdRequest{Metric: "humidity", Min: ptr(50.0)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+fx.rawToken, "", IngestRequest{
		Readings: []ReadingInput{sampleReading(25), sampleReading(35)},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeBody[IngestResponse](t, rec)
	// Both readings carry humidity 45, only the second is too hot
	require.Len(t, resp.Violations, 3)

	byMetric := map[string]int{}
	for _, v := range resp.Violations {
		byMetric[v.Metric]++
		if v.Metric == "temperature" {
			assert.Equal(t, resp.Readings[1].ID, v.ReadingID)
			assert.Equal(t, 35.0, v.Value)
			assert.Equal(t, 30.0, *v.Max)
			assert.Nil(t, v.Min)
		}
	}
	assert.Equal(t, map[string]int{"temperature": 1, "humidity": 2}, byMetric)
}

func TestListReadings_Pagination(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var inputs []ReadingInput
	for i := range 5 {
		in := sampleReading(float64(i))
		at := base.Add(time.Duration(i) * time.Hour)
		in.Timestamp = &at
		inputs = append(inputs, in)
	}
	rec := ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+fx.rawToken, "", IngestRequest{Readings: inputs})
	require.Equal(t, http.StatusCreated, rec.Code)

	path := "/EnvironmentalReading?sensorSystemId=" + fx.system.ID
	rec = ts.do(t, http.MethodGet, path+"&page=1&size=2", fx.bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[ReadingPageResponse](t, rec)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.Size)
	assert.EqualValues(t, 5, page.TotalElements)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Content, 2)
	// Newest first
	assert.Equal(t, 2.0, page.Content[0].Temperature)
	assert.Equal(t, 1.0, page.Content[1].Temperature)

	since := base.Add(3 * time.Hour).Format(time.RFC3339)
	rec = ts.do(t, http.MethodGet, path+"&since="+since, fx.bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody[ReadingPageResponse](t, rec).TotalElements)

	until := base.Add(time.Hour).Format(time.RFC3339)
	rec = ts.do(t, http.MethodGet, path+"&until="+until, fx.bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody[ReadingPageResponse](t, rec).TotalElements)
}

func TestListReadings_BadParams(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")
	path := "/EnvironmentalReading?sensorSystemId=" + fx.system.ID

	for _, q := range []string{"&page=-1", "&size=abc", "&since=yesterday", "&until=2024-13-01"} {
		rec := ts.do(t, http.MethodGet, path+q, fx.bearer, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec := ts.do(t, http.MethodGet, "/EnvironmentalReading", fx.bearer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListReadings_SensorTokenNotAccepted(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	// Sensor tokens only authenticate ingestion
	rec := ts.do(t, http.MethodGet, "/EnvironmentalReading?sensorSystemId="+fx.system.ID+"&access_token="+fx.rawToken, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", rec.Body.String())
}

func TestMetrics_CountIngestion(t *testing.T) {
	ts := newTestServer(t)
	fx := newSensorFixture(t, ts, "alice")

	rec := ts.do(t, http.MethodPost, "/EnvironmentalReading?access_token="+fx.rawToken, "", IngestRequest{
		Readings: []ReadingInput{sampleReading(1), sampleReading(2)},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	ts.do(t, http.MethodGet, "/EnvironmentalReading", "RANDOM_STRING", nil)

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `unconv_readings_ingested_total{source="sensor_token"} 2`)
	assert.Contains(t, body, `unconv_auth_attempts_total{outcome="success",scheme="sensor_token"} 1`)
	assert.Contains(t, body, `unconv_auth_attempts_total{outcome="rejected",scheme="bearer"} 1`)
	assert.Contains(t, body, "unconv_http_request_duration_seconds")
}
