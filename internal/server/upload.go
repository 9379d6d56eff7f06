// ABOUTME: CSV upload of environmental readings for an owned sensor system
// ABOUTME: Files carry a timestamp,temperature,humidity,pressure header and are stored as one batch

package server

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/sink"
)

const (
	maxUploadBytes  = 10 << 20
	maxUploadMemory = 1 << 20
)

// CSV columns, in any order.
var csvColumns = []string{"timestamp", "temperature", "humidity", "pressure"}

// parseReadingsCSV reads a readings CSV. Errors name the offending line.
// An empty timestamp cell means now.
func parseReadingsCSV(r io.Reader, now time.Time) ([]ReadingInput, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, col := range csvColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("header is missing column %q", col)
		}
	}

	var inputs []ReadingInput
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		cell := func(col string) string {
			i := index[col]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		in := ReadingInput{}
		ts := now
		if raw := cell("timestamp"); raw != "" {
			ts, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid timestamp %q", line, raw)
			}
		}
		in.Timestamp = &ts

		values := make(map[string]float64, 3)
		for _, col := range csvColumns[1:] {
			raw := cell(col)
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || !isFinite(v) {
				return nil, fmt.Errorf("line %d: invalid %s %q", line, col, raw)
			}
			values[col] = v
		}
		t, h, p := values["temperature"], values["humidity"], values["pressure"]
		in.Temperature, in.Humidity, in.Pressure = &t, &h, &p

		inputs = append(inputs, in)
	}
	return inputs, nil
}

func (s *Server) handleUploadReadings(w http.ResponseWriter, r *http.Request) {
	sensorSystemID := r.URL.Query().Get("sensorSystemId")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.sendJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit))
			return
		}
		s.sendJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if sensorSystemID == "" {
		sensorSystemID = r.FormValue("sensorSystemId")
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	sys, err := s.resolveIngestSystem(r, sensorSystemID)
	if err != nil {
		s.sendIngestTargetError(w, err)
		return
	}

	now := time.Now().UTC()
	inputs, err := parseReadingsCSV(file, now)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(inputs) == 0 {
		s.sendJSONError(w, http.StatusBadRequest, "file contains no readings")
		return
	}
	if limit := s.config.Ingest.MaxBatch; limit > 0 && len(inputs) > limit {
		s.sendJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch exceeds %d readings", limit))
		return
	}

	readings, err := toReadings(inputs, sys.ID, now)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ac := auth.MustFromContext(r.Context())
	violations, err := s.storeReadings(r.Context(), ac.Username, sys, readings, sink.SourceCSV)
	if err != nil {
		s.sendInternalError(w, "saving uploaded readings", err)
		return
	}

	// Uploads can be large; only the count is echoed back.
	s.sendJSON(w, http.StatusCreated, IngestResponse{Saved: len(readings), Violations: violations})
}
