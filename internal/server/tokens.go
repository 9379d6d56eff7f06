// ABOUTME: Sensor API token endpoints backed by the admin token service
// ABOUTME: The raw token appears only in the issuance response

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/unconv/unconv-server/internal/admin"
	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/store"
)

// IssueTokenRequest is the JSON request body for POST /SensorAuthToken.
// TTL is a Go duration string such as "720h"; empty uses the configured default.
type IssueTokenRequest struct {
	SensorSystemID string `json:"sensor_system_id"`
	TTL            string `json:"ttl,omitempty"`
}

// sendTokenError maps token service errors to responses.
func (s *Server) sendTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admin.ErrInvalidTTL):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, admin.ErrSuffixExhausted):
		s.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.sendLookupError(w, "sensor system", err)
	}
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SensorSystemID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "sensor_system_id is required")
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "ttl must be a duration such as 720h")
			return
		}
		if d <= 0 {
			s.sendJSONError(w, http.StatusBadRequest, "ttl must be positive")
			return
		}
		ttl = d
	}

	ac := auth.MustFromContext(r.Context())
	issued, err := s.tokens.Issue(r.Context(), ac.Username, req.SensorSystemID, ttl)
	if err != nil {
		s.sendTokenError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, issued)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	sensorSystemID := r.URL.Query().Get("sensorSystemId")
	if sensorSystemID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "sensorSystemId is required")
		return
	}

	ac := auth.MustFromContext(r.Context())
	infos, err := s.tokens.List(r.Context(), ac.Username, sensorSystemID)
	if err != nil {
		s.sendTokenError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, infos)
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	if err := s.tokens.Revoke(r.Context(), ac.Username, r.PathValue("id")); err != nil {
		s.sendTokenError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
