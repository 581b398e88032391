// Package http provides the HTTP handlers of the bridge API.
//
// Endpoints:
//   - GET  /            service banner
//   - GET  /health      guest attachment and readiness
//   - POST /eval        run a script in the guest: {script, globals, timeout_ms}
//   - GET  /metrics     Prometheus exposition
//   - GET  /metrics/json running totals plus live host state
//
// Script failures are reported in the eval reply with success=false and a
// 200 status. Bridge failures use 5xx: 503 without a ready guest, 504 when
// the guest does not answer in time.
//
// Example Usage:
//
//	handlers := http.NewHandlers(slot.Current, metrics, logger)
//	router.POST("/eval", handlers.Eval)
package http
