// Package items collects the child items of listings.
//
// For each parent listing the collector picks a strategy: when the listing
// reveals its month, a cheap count request decides whether the paged item
// endpoint is worth calling at all; otherwise the items are read from the
// whole-record endpoint. Parents are processed by a bounded worker pool,
// each worker pacing its own requests. Results flow over a channel to a
// single collector goroutine that annotates, deduplicates and periodically
// flushes the item snapshot.
//
// Usage:
//
//	c := items.NewCollector(fetcher, store, items.Endpoints{
//		ItemsBaseURL:  "https://pncp.gov.br/api/pncp/v1",
//		RecordBaseURL: "https://pncp.gov.br/api/pncp/v1",
//	}, record.DefaultSchema(), items.DefaultConfig())
//	res, err := c.Collect(ctx, newListings)
package items
