// Package main hosts the scraping service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and job endpoints. Submitted plans are resolved and
//     clamped, persisted via the JobStore, and enqueued for the worker pool.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by config.Scraper.QueueDepth and are
//     fanned out to a fixed worker pool sized by config.Scraper.Workers. Context cancellation stops workers cleanly
//     on shutdown, and the cancel registry lets the API stop individual running jobs.
//   - Crawl pipeline: each job runs the orchestrator, which pages through listing documents, fans detail fetches out
//     over a bounded pool, and merges candidate records into normalized entities. Fetches go through the politeness
//     gate (robots.txt plus per-host pacing), the Colly-based static transport, and optionally headless Chromedp when
//     the heuristic detector finds a thin static document.
//   - Persistence & fanout: raw HTML is archived to the configured BlobStore (memory/local/GCS), entities and job
//     state go to the JobStore (memory or Postgres), and a compact Pub/Sub completion event is published when a topic
//     is configured. An optional OpenAI post-filter prunes the entity set against a free-text instruction.
//   - Configuration & plumbing: Viper populates config from env/files (BIZHARVEST_ prefix); zap provides structured
//     logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Run locally: go run ./cmd/bizharvest -config config.yaml (or rely solely on env overrides).
package main
