// ABOUTME: Owner-scoped sensor system endpoints, GeoJSON export and per-metric thresholds
// ABOUTME: Mutations are appended to the audit log

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/unconv/unconv-server/internal/store"
)

// CreateSensorSystemRequest is the JSON request body for POST /SensorSystem.
type CreateSensorSystemRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// SensorSystemResponse describes a sensor system.
type SensorSystemResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ThresholdRequest is the JSON request body for PUT /SensorSystem/{id}/thresholds.
type ThresholdRequest struct {
	Metric string   `json:"metric"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
}

// ThresholdResponse describes one metric threshold.
type ThresholdResponse struct {
	Metric    string    `json:"metric"`
	Min       *float64  `json:"min"`
	Max       *float64  `json:"max"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toSensorSystemResponse(sys *store.SensorSystem) SensorSystemResponse {
	return SensorSystemResponse{
		ID:          sys.ID,
		Name:        sys.Name,
		Description: sys.Description,
		Latitude:    sys.Latitude,
		Longitude:   sys.Longitude,
		CreatedAt:   sys.CreatedAt,
	}
}

func validateSensorSystem(req *CreateSensorSystemRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return errors.New("name is required")
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return errors.New("latitude and longitude must be given together")
	}
	if req.Latitude != nil && (*req.Latitude < -90 || *req.Latitude > 90) {
		return errors.New("latitude must be between -90 and 90")
	}
	if req.Longitude != nil && (*req.Longitude < -180 || *req.Longitude > 180) {
		return errors.New("longitude must be between -180 and 180")
	}
	return nil
}

func (s *Server) handleCreateSensorSystem(w http.ResponseWriter, r *http.Request) {
	var req CreateSensorSystemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateSensorSystem(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}

	sys := &store.SensorSystem{
		UserID:      user.ID,
		Name:        req.Name,
		Description: req.Description,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	}
	if err := s.store.CreateSensorSystem(r.Context(), sys); err != nil {
		s.sendInternalError(w, "creating sensor system", err)
		return
	}

	_ = s.store.AppendAuditLog(r.Context(), &store.AuditEntry{
		Actor:      user.Username,
		Action:     store.AuditCreateSensorSystem,
		TargetType: "sensor_system",
		TargetID:   sys.ID,
		Detail:     map[string]any{"name": sys.Name},
	})

	s.sendJSON(w, http.StatusCreated, toSensorSystemResponse(sys))
}

func (s *Server) handleListSensorSystems(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}

	systems, err := s.store.ListSensorSystemsByUser(r.Context(), user.ID)
	if err != nil {
		s.sendInternalError(w, "listing sensor systems", err)
		return
	}

	out := make([]SensorSystemResponse, 0, len(systems))
	for _, sys := range systems {
		out = append(out, toSensorSystemResponse(sys))
	}
	s.sendJSON(w, http.StatusOK, out)
}

// handleSensorSystemsGeoJSON returns the caller's located systems as a
// FeatureCollection of points. Systems without coordinates are omitted.
func (s *Server) handleSensorSystemsGeoJSON(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}

	systems, err := s.store.ListSensorSystemsByUser(r.Context(), user.ID)
	if err != nil {
		s.sendInternalError(w, "listing sensor systems", err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, sys := range systems {
		if !sys.HasLocation() {
			continue
		}
		f := geojson.NewFeature(orb.Point{*sys.Longitude, *sys.Latitude})
		f.ID = sys.ID
		f.Properties["name"] = sys.Name
		if sys.Description != "" {
			f.Properties["description"] = sys.Description
		}
		f.Properties["created_at"] = sys.CreatedAt.Format(time.RFC3339)
		fc.Append(f)
	}

	body, err := json.Marshal(fc)
	if err != nil {
		s.sendInternalError(w, "encoding geojson", err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleGetSensorSystem(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}
	sys, err := s.ownedSystem(r, user, r.PathValue("id"))
	if err != nil {
		s.sendLookupError(w, "sensor system", err)
		return
	}
	s.sendJSON(w, http.StatusOK, toSensorSystemResponse(sys))
}

func (s *Server) handleDeleteSensorSystem(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}
	sys, err := s.ownedSystem(r, user, r.PathValue("id"))
	if err != nil {
		s.sendLookupError(w, "sensor system", err)
		return
	}

	if err := s.store.DeleteSensorSystem(r.Context(), sys.ID); err != nil {
		s.sendLookupError(w, "sensor system", err)
		return
	}

	_ = s.store.AppendAuditLog(r.Context(), &store.AuditEntry{
		Actor:      user.Username,
		Action:     store.AuditDeleteSensorSystem,
		TargetType: "sensor_system",
		TargetID:   sys.ID,
		Detail:     map[string]any{"name": sys.Name},
	})

	s.logger.Info("deleted sensor system", "sensor_system_id", sys.ID, "owner", user.Username)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}
	sys, err := s.ownedSystem(r, user, r.PathValue("id"))
	if err != nil {
		s.sendLookupError(w, "sensor system", err)
		return
	}

	thresholds, err := s.store.ListThresholds(r.Context(), sys.ID)
	if err != nil {
		s.sendInternalError(w, "listing thresholds", err)
		return
	}

	out := make([]ThresholdResponse, 0, len(thresholds))
	for _, t := range thresholds {
		out = append(out, ThresholdResponse{Metric: t.Metric, Min: t.Min, Max: t.Max, UpdatedAt: t.UpdatedAt})
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !store.IsValidMetric(req.Metric) {
		s.sendJSONError(w, http.StatusBadRequest, "metric must be one of "+strings.Join(store.ValidMetrics, ", "))
		return
	}
	if req.Min == nil && req.Max == nil {
		s.sendJSONError(w, http.StatusBadRequest, "min or max is required")
		return
	}
	if req.Min != nil && req.Max != nil && *req.Min > *req.Max {
		s.sendJSONError(w, http.StatusBadRequest, "min must not exceed max")
		return
	}

	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}
	sys, err := s.ownedSystem(r, user, r.PathValue("id"))
	if err != nil {
		s.sendLookupError(w, "sensor system", err)
		return
	}

	t := &store.Threshold{SensorSystemID: sys.ID, Metric: req.Metric, Min: req.Min, Max: req.Max}
	if err := s.store.SetThreshold(r.Context(), t); err != nil {
		s.sendInternalError(w, "setting threshold", err)
		return
	}

	_ = s.store.AppendAuditLog(r.Context(), &store.AuditEntry{
		Actor:      user.Username,
		Action:     store.AuditSetThreshold,
		TargetType: "threshold",
		TargetID:   sys.ID + "/" + t.Metric,
		Detail:     map[string]any{"min": t.Min, "max": t.Max},
	})

	s.sendJSON(w, http.StatusOK, ThresholdResponse{Metric: t.Metric, Min: t.Min, Max: t.Max, UpdatedAt: t.UpdatedAt})
}
