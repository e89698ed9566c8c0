// Package api hosts the HTTP server. Routes:
//   - POST /v1/crawls and GET /v1/crawls/{job_id} to start a crawl and poll
//     its progress.
//   - POST /v1/companies/{company_id}/search and /answer for retrieval.
//   - POST /v1/companies/{company_id}/knowledge to add curated knowledge.
//   - DELETE /v1/companies/{company_id}/agents/{agent_id}/chunks to reset an
//     agent before a re-crawl.
//   - GET /healthz, /readyz and /metrics for health checks and scraping.
package api
