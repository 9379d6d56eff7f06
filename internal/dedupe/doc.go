// Package dedupe remembers idempotency keys of recently ingested reading
// batches so a sensor retrying after a lost response is acknowledged instead
// of storing the same readings twice.
package dedupe
