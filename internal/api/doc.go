// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - POST /v1/notices/refresh runs a crawl and returns its summary.
//   - GET /v1/notices and /v1/notices/{notice_id}/{attach_id} read the last batch.
//   - POST /v1/ask routes a question through the retrieval router.
//   - GET /v1/documents, /v1/documents/titles and /v1/documents/filter read records.
//   - GET /v1/index/tasks/{task_id} reports background index progress.
//   - GET /healthz for liveness checks and GET /metrics for Prometheus scraping.
package api
