// ABOUTME: Analytics export of ingested readings behind a non-blocking writer interface
// ABOUTME: LogWriter is the fallback used when no ClickHouse DSN is configured

package sink

import (
	"log/slog"
	"time"
)

// Ingestion sources recorded on each event
const (
	SourceSensorToken = "sensor_token"
	SourceBearer      = "bearer"
	SourceCSV         = "csv"
)

// ReadingEvent is one stored reading as exported for analytics.
type ReadingEvent struct {
	ReadingID      string
	SensorSystemID string
	Username       string
	Source         string
	Timestamp      time.Time
	Temperature    float64
	Humidity       float64
	Pressure       float64
	IngestedAt     time.Time
}

// ReadingWriter exports reading events. Write must never block ingestion.
type ReadingWriter interface {
	Write(event *ReadingEvent)
	Close()
}

// LogWriter logs each event at debug level.
type LogWriter struct {
	logger *slog.Logger
}

// NewLogWriter creates a LogWriter. Pass nil logger for default.
func NewLogWriter(logger *slog.Logger) *LogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogWriter{logger: logger.With("component", "reading-sink")}
}

func (w *LogWriter) Write(event *ReadingEvent) {
	w.logger.Debug("reading_event",
		"reading_id", event.ReadingID,
		"sensor_system_id", event.SensorSystemID,
		"username", event.Username,
		"source", event.Source,
		"timestamp", event.Timestamp,
		"temperature", event.Temperature,
		"humidity", event.Humidity,
		"pressure", event.Pressure,
	)
}

func (w *LogWriter) Close() {}
