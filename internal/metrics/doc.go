// Package metrics exposes Prometheus metrics for unconv-server.
//
// All collectors live in a private registry served by Handler, so tests can
// create independent instances. Metric names carry the "unconv" namespace:
//
//   - unconv_auth_attempts_total{scheme,outcome}
//   - unconv_readings_ingested_total{source}
//   - unconv_http_request_duration_seconds{method,code}
package metrics
