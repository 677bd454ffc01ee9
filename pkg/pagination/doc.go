// Package pagination walks the paginated PNCP listing endpoints.
//
// A Source fetches single pages and normalizes the three response shapes
// the API produces (bare array, {"data": [...]} envelope, anything else)
// into a Page. Two paginators drive a Source:
//
//   - Sequential walks pages 1, 2, ... until an empty or short page, the
//     known page total, or too many consecutive failures.
//   - Parallel reads the page total from page 1 and fetches the rest in
//     windows of Workers*2 pages, resuming from a checkpoint.Store.
//
// Example usage:
//
//	src := pagination.NewSource(fetcher, baseURL+"/v1/contratacoes/proposta")
//	p := pagination.NewParallel(src, checkpoint.NewFileStore("checkpoint.json"), pagination.DefaultParallelConfig())
//	res, err := p.Run(ctx, filter, nil)
//
// Failed pages are skipped and logged; only a failure to reach page 1 (or,
// sequentially, any page at all) is returned as ErrSourceUnreachable.
// Cancelling ctx stops dispatching new pages; pages already fetched are
// still returned and checkpointed.
package pagination
