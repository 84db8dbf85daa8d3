// Package api hosts the status HTTP server that runs beside long crawl and
// import runs. Routes:
//   - GET /healthz and /readyz for liveness and dependency readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for catalog aggregates when a store is attached.
package api
