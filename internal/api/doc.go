// Package api hosts the archiver's status HTTP server:
//   - GET /healthz and /readyz for probes; readiness runs registered checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/boards and /v1/boards/{board} for the last cycle report of
//     each board loop.
package api
