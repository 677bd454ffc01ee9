// Package metrics documents the Prometheus metrics exported by pncp-sync.
// Metrics are declared with promauto in the packages that own them
// (client, ratelimit, pagination, checkpoint, snapshot, items, syncer)
// so that no package depends on a central registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the registerer every pncp-sync metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer serving Registry, used by the /metrics handler.
var Gatherer = prometheus.DefaultGatherer

// Names lists every metric family exported by pncp-sync.
var Names = []string{
	"pncp_requests_total",
	"pncp_request_duration_seconds",
	"pncp_errors_total",
	"pncp_retries_total",
	"pncp_retry_backoff_seconds",
	"pncp_retry_exhausted_total",
	"pncp_throttle_wait_seconds",
	"pncp_pages_total",
	"pncp_malformed_responses_total",
	"pncp_checkpoint_saves_total",
	"pncp_snapshot_saves_total",
	"pncp_items_collected_total",
	"pncp_item_parents_total",
	"pncp_sync_records_total",
	"pncp_sync_runs_total",
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - pncp_requests_total{endpoint, status} (Counter): Logical requests by endpoint label and final status
//   - pncp_request_duration_seconds{endpoint} (Histogram): Request duration across all attempts
//   - pncp_errors_total{class} (Counter): Failed requests by class (client, rate_limit, server, network, malformed)
//
// Retry Metrics (pkg/client):
//   - pncp_retries_total{error_class} (Counter): Retry attempts by error class
//   - pncp_retry_backoff_seconds{error_class} (Histogram): Delay slept before each retry
//   - pncp_retry_exhausted_total{error_class} (Counter): Requests that used every attempt
//
// Throttle Metrics (pkg/ratelimit):
//   - pncp_throttle_wait_seconds{limiter} (Histogram): Time spent waiting on a limiter
//
// Pagination Metrics (pkg/pagination):
//   - pncp_pages_total{mode, result} (Counter): Pages by paginator (sequential, parallel) and result
//   - pncp_malformed_responses_total{endpoint} (Counter): Bodies that were neither a list nor an envelope
//
// Persistence Metrics (pkg/checkpoint, pkg/snapshot):
//   - pncp_checkpoint_saves_total{store, result} (Counter): Checkpoint writes by store (file, redis, memory)
//   - pncp_snapshot_saves_total{store, result} (Counter): Snapshot writes by store (file, object, memory)
//
// Item Metrics (pkg/items):
//   - pncp_items_collected_total (Counter): New items admitted to the item snapshot
//   - pncp_item_parents_total{result} (Counter): Parents by result (ok, empty, failed, skipped, cancelled)
//
// Sync Metrics (pkg/syncer):
//   - pncp_sync_records_total{result} (Counter): Remote listings by merge outcome (added, updated, unchanged, skipped, filtered)
//   - pncp_sync_runs_total{result} (Counter): Engine runs by result (ok, partial, cancelled, failed)
//
// Example Prometheus Queries:
//
//   # Retry rate by class
//   sum by (error_class) (rate(pncp_retries_total[5m]))
//
//   # Pages lost to errors
//   sum(rate(pncp_pages_total{result="failed"}[1h]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(pncp_request_duration_seconds_bucket[5m]))
//
//   # Snapshot persistence failures
//   increase(pncp_snapshot_saves_total{result="error"}[1h]) > 0
