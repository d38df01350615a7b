// Package api exposes the sync orchestrator and tag mapping state over
// HTTP.
//
// # Endpoints
//
//	POST /api/sync/start          start a sync run
//	POST /api/sync/cancel         request cooperative cancellation
//	POST /api/sync/reset          force the orchestrator back to idle
//	GET  /api/sync/progress       current job snapshot
//	GET  /api/sync/stream         job snapshots as server-sent events
//	GET  /api/sync/history        persisted sync runs, newest first
//	GET  /api/sync/history/{id}   one persisted sync run
//	GET  /api/uploads             recent upload chunks
//	GET  /api/dimensions          loaded dimension definitions
//	POST /api/dimensions/validate validate a dimension document
//	POST /api/resolve             resolve dimensions for one resource
//	GET  /api/resources/vtags     stored virtual tags for a resource
//	GET  /api/tags/discovered     physical tag keys seen during fetches
//	GET  /api/stats/daily/{day}   daily aggregates, day as YYYY-MM-DD
//	GET  /healthz                 liveness probe
//	GET  /metrics                 Prometheus metrics
//
// All responses are JSON except /metrics and the event stream. Errors
// carry {"error": "..."} with a matching status code.
package api
