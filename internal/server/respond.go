// ABOUTME: JSON request decoding and response helpers shared by the API handlers
// ABOUTME: Errors outside authentication are written as {"error": "..."}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/unconv/unconv-server/internal/admin"
	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/store"
)

// maxJSONBodyBytes bounds JSON request bodies.
const maxJSONBodyBytes = 1 << 20

// sendJSON writes v as a JSON response with the given status.
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// sendInternalError logs err and writes a generic 500.
func (s *Server) sendInternalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// sendLookupError maps ownership and lookup failures to responses.
func (s *Server) sendLookupError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, admin.ErrForbidden):
		s.sendJSONError(w, http.StatusForbidden, err.Error())
	default:
		s.sendInternalError(w, "looking up "+what, err)
	}
}

// decodeJSON decodes a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// currentUser resolves the authenticated user. Only valid behind RequireAuth.
func (s *Server) currentUser(r *http.Request) (*store.User, error) {
	ac := auth.MustFromContext(r.Context())
	return s.store.GetUserByUsername(r.Context(), ac.Username)
}

// ownedSystem loads a sensor system and checks user owns it.
func (s *Server) ownedSystem(r *http.Request, user *store.User, id string) (*store.SensorSystem, error) {
	sys, err := s.store.GetSensorSystem(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if sys.UserID != user.ID {
		return nil, admin.ErrForbidden
	}
	return sys, nil
}
