// Package sink exports ingested readings to an analytics store.
//
// ClickHouseWriter buffers events in a channel and inserts them in batches
// from a single background goroutine, flushing every 100ms or every 1000
// events. Write never blocks: when the buffer is full the event is dropped
// and counted. LogWriter stands in when no ClickHouse DSN is configured.
package sink
