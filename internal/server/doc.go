// Package server wires the unconv-server components into an HTTP API.
//
// # Overview
//
// The Server struct owns the store, the authentication chain, the account
// and sensor token services, the idempotency cache, the live stream
// broadcaster, the analytics sink and the optional Prometheus metrics.
// It listens on a TCP address or, when enabled, on a tailscale node.
//
// # Middleware
//
// Every request passes, outermost first:
//
//  1. request duration metrics
//  2. panic recovery (400 problem+json)
//  3. request logging (method, path, status, duration; never the query)
//  4. authentication (sensor token on POST /EnvironmentalReading, then bearer JWT)
//
// Protected routes are additionally wrapped in auth.RequireAuth.
//
// # HTTP API
//
//   - GET /health, GET /health/ready
//   - POST /register, POST /login, GET /users/me
//   - POST, GET /SensorSystem; GET /SensorSystem/geojson
//   - GET, DELETE /SensorSystem/{id}
//   - GET, PUT /SensorSystem/{id}/thresholds
//   - POST, GET /SensorAuthToken; DELETE /SensorAuthToken/{id}
//   - POST, GET /EnvironmentalReading
//   - POST /EnvironmentalReading/upload (multipart CSV)
//   - GET /EnvironmentalReading/stream (websocket)
//
// Errors outside authentication are JSON bodies of the form {"error": "..."}.
//
// # Ingestion
//
// A stored batch is checked against the sensor system's thresholds, counted
// in metrics, published to live stream subscribers and written to the
// analytics sink. Batches carrying an Idempotency-Key header are stored at
// most once per sensor system within the configured window; repeats are
// answered with 200 {"duplicate": true}.
//
// # Background Jobs
//
// While Run is active a janitor purges expired sensor tokens every
// auth.token_cleanup_interval.
package server
