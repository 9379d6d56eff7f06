// ABOUTME: Asynchronous batched export of readings to ClickHouse
// ABOUTME: Write only enqueues; a flush loop inserts batches by size or interval and drains on Close

package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
	insertTimeout = 5 * time.Second
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS environmental_readings (
	reading_id       String,
	sensor_system_id String,
	username         String,
	source           LowCardinality(String),
	timestamp        DateTime64(3, 'UTC'),
	temperature      Float64,
	humidity         Float64,
	pressure         Float64,
	ingested_at      DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (sensor_system_id, timestamp)`

const insertSQL = `
INSERT INTO environmental_readings (
	reading_id, sensor_system_id, username, source,
	timestamp, temperature, humidity, pressure, ingested_at
)`

// inserter writes one batch of events.
type inserter interface {
	Insert(ctx context.Context, events []*ReadingEvent) error
}

// ClickHouseWriter exports reading events to ClickHouse asynchronously.
type ClickHouseWriter struct {
	ins     inserter
	buffer  chan *ReadingEvent
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewClickHouseWriter connects to dsn, creates the readings table if needed,
// and starts the background flush loop.
func NewClickHouseWriter(ctx context.Context, dsn string, logger *slog.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating clickhouse table: %w", err)
	}

	return newClickHouseWriter(&chInserter{conn: conn}, logger), nil
}

func newClickHouseWriter(ins inserter, logger *slog.Logger) *ClickHouseWriter {
	if logger == nil {
		logger = slog.Default()
	}
	w := &ClickHouseWriter{
		ins:     ins,
		buffer:  make(chan *ReadingEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger.With("component", "clickhouse-sink"),
	}
	go w.flushLoop()
	return w
}

// Write queues an event. It drops the event when the buffer is full.
func (w *ClickHouseWriter) Write(event *ReadingEvent) {
	select {
	case w.buffer <- event:
	default:
		w.dropped.Add(1)
		w.logger.Warn("clickhouse buffer full, dropping reading",
			"reading_id", event.ReadingID,
			"sensor_system_id", event.SensorSystemID,
		)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (w *ClickHouseWriter) Dropped() uint64 {
	return w.dropped.Load()
}

// Close drains buffered events (bounded by drainTimeout), flushes them and
// waits for the flush loop to exit. Call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*ReadingEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			deadline := time.After(drainTimeout)
		drain:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
					if len(batch) >= flushBatch {
						w.flush(batch)
						batch = batch[:0]
					}
				case <-deadline:
					break drain
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*ReadingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := w.ins.Insert(ctx, events); err != nil {
		w.logger.Error("clickhouse batch insert failed", "batch_size", len(events), "error", err)
		return
	}
	w.logger.Debug("clickhouse batch inserted", "batch_size", len(events))
}

// chInserter inserts batches over a native ClickHouse connection.
type chInserter struct {
	conn driver.Conn
}

func (c *chInserter) Insert(ctx context.Context, events []*ReadingEvent) error {
	batch, err := c.conn.PrepareBatch(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(
			e.ReadingID,
			e.SensorSystemID,
			e.Username,
			e.Source,
			e.Timestamp.UTC(),
			e.Temperature,
			e.Humidity,
			e.Pressure,
			e.IngestedAt.UTC(),
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append reading %s: %w", e.ReadingID, err)
		}
	}
	return batch.Send()
}
