// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs for crawl job submission.
//   - GET /v1/jobs/{id}, /result, and /export for status and entity output.
//   - POST /v1/jobs/{id}/cancel to stop a queued or running job.
package api
