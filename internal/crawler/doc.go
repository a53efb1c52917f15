// Package crawler defines the domain types, error taxonomy, and collaborator
// interfaces shared by the job-posting crawl engine: the fetchers, the dedup
// ledger, the pagination controller, the crawl cycle, and the orchestrator.
package crawler
