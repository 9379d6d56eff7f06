// ABOUTME: Route table and middleware chain of the HTTP API
// ABOUTME: Every request passes recovery, request logging and authentication before the mux

package server

import (
	"log/slog"
	"net/http"

	"github.com/unconv/unconv-server/internal/auth"
)

func (s *Server) routes(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	protected := auth.RequireAuth()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protected(h))
	}

	// Health and metrics endpoints - no auth required
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET "+s.config.Metrics.Path, s.metrics.Handler())
	}

	// Accounts
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	handle("GET /users/me", s.handleMe)

	// Sensor systems
	handle("POST /SensorSystem", s.handleCreateSensorSystem)
	handle("GET /SensorSystem", s.handleListSensorSystems)
	handle("GET /SensorSystem/geojson", s.handleSensorSystemsGeoJSON)
	handle("GET /SensorSystem/{id}", s.handleGetSensorSystem)
	handle("DELETE /SensorSystem/{id}", s.handleDeleteSensorSystem)
	handle("GET /SensorSystem/{id}/thresholds", s.handleListThresholds)
	handle("PUT /SensorSystem/{id}/thresholds", s.handleSetThreshold)

	// Sensor API tokens
	handle("POST /SensorAuthToken", s.handleIssueToken)
	handle("GET /SensorAuthToken", s.handleListTokens)
	handle("DELETE /SensorAuthToken/{id}", s.handleRevokeToken)

	// Readings; POST accepts either a sensor token or a bearer JWT
	handle("POST "+auth.IngestionPath, s.handleIngestReadings)
	handle("GET "+auth.IngestionPath, s.handleListReadings)
	handle("POST "+auth.IngestionPath+"/upload", s.handleUploadReadings)
	handle("GET "+auth.IngestionPath+"/stream", s.handleStreamReadings)

	var h http.Handler = mux
	h = auth.Middleware(s.authn, logger, s.metrics)(h)
	h = requestLogging(logger)(h)
	h = auth.Recoverer(logger)(h)
	h = s.metrics.InstrumentHandler(h)
	return h
}
