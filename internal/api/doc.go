// Package api hosts the optional status server for operators. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/reports/latest for the most recent CycleReport.
//   - GET /v1/ledger for the dedup ledger size.
package api
