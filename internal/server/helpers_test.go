// ABOUTME: Shared fixtures for HTTP API tests
// ABOUTME: Builds a server on the mock store and drives it through the full middleware chain

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/unconv/unconv-server/internal/config"
	"github.com/unconv/unconv-server/internal/sink"
	"github.com/unconv/unconv-server/internal/store"
)

const testPassword = "correct horse battery"

// recordingSink keeps every event written to it.
type recordingSink struct {
	mu     sync.Mutex
	events []*sink.ReadingEvent
	closed bool
}

func (r *recordingSink) Write(e *sink.ReadingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingSink) Events() []*sink.ReadingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*sink.ReadingEvent(nil), r.events...)
}

type testServer struct {
	*Server
	store *store.MockStore
	sink  *recordingSink
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Auth.JWTSecret = strings.Repeat("k", 32)
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Metrics.Enabled = true
	cfg.ApplyDefaults()
	return cfg
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, testConfig())
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	st := store.NewMockStore()
	rec := &recordingSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := newServer(cfg, st, rec, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.broadcaster.Close()
		srv.dedupe.Close()
	})
	return &testServer{Server: srv, store: st, sink: rec}
}

// do sends a request through the full handler chain.
// body is JSON encoded unless it is already an io.Reader.
func (ts *testServer) do(t *testing.T, method, target, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		rd = b
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

// login registers username and returns a bearer JWT for it.
func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/register", "", RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/login", "", LoginRequest{Username: username, Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (ts *testServer) createSystem(t *testing.T, bearer, name string) SensorSystemResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/SensorSystem", bearer, CreateSensorSystemRequest{Name: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sys SensorSystemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sys))
	return sys
}

func (ts *testServer) issueToken(t *testing.T, bearer, sensorSystemID string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/SensorAuthToken", bearer, IssueTokenRequest{SensorSystemID: sensorSystemID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var issued struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Token)
	return issued.Token
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func ptr[T any](v T) *T { return &v }

func sampleReading(temp float64) ReadingInput {
	return ReadingInput{Temperature: ptr(temp), Humidity: ptr(45.0), Pressure: ptr(1013.25)}
}

// request builds a JSON request without sending it.
func (ts *testServer) request(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// serve sends req through the full handler chain.
func (ts *testServer) serve(req *http.Request) *http.Response {
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec.Result()
}
