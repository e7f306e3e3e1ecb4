// Package api hosts the operator HTTP surface of a crawl. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the status of the current (or last) run.
package api
