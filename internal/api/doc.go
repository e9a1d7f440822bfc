// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the database.
//   - GET /metrics for Prometheus scraping.
//   - /v1/companies and /v1/urls for managing tracked companies.
//   - GET /v1/changes/recent and /v1/dashboard for live intelligence views.
//   - POST /v1/jobs and GET /v1/jobs/{id} for running pipeline stages.
//
// When auth is enabled every /v1 route requires a matching X-API-Key header.
package api
