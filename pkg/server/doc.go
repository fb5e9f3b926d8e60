// Package server exposes the decision contract over HTTP for daemon mode.
//
// A long-lived daemon avoids re-reading configuration and rules for every
// decision. It is optional: every operation it serves is also available
// through the short-lived CLI, and both share the same state directory.
//
// # Routes
//
//   - POST /v1/decide - evaluate a request, body and response as gate.Request / gate.Response
//   - POST /v1/outcome - report how an allowed action went
//   - GET /v1/sessions/{id} - session snapshot
//   - GET /v1/circuits - all known circuits
//   - GET /v1/circuits/{name} - one circuit
//   - GET /v1/debt - outstanding debt, ?all=true includes paid records
//   - GET /health, GET /ready - health checks
//   - GET /metrics - Prometheus exposition, when a collector is configured
//
// # Middleware Chain
//
// Requests pass through, outermost first: recovery, request id, trace
// extraction, logging, body limit.
//
// # Graceful Shutdown
//
// Start blocks until its context is cancelled. Shutdown first marks the
// health checker draining so /ready fails, then waits up to the
// configured shutdown timeout for in-flight requests.
package server
