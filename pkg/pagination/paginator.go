package pagination

import (
	"context"

	"github.com/Sternrassler/pncp-sync/pkg/record"
)

// CheckpointFunc receives the records fetched since its previous call and
// the page the checkpoint is about to advance to. The checkpoint is only
// persisted when it returns nil, so a caller that saves its snapshot here
// never has a checkpoint ahead of its data.
type CheckpointFunc func(ctx context.Context, delta []record.Record, page int) error

// Paginator fetches every page of a listing stream.
type Paginator interface {
	Run(ctx context.Context, filter Filter, onCheckpoint CheckpointFunc) (*Result, error)
}

// Result summarizes a paginator run.
type Result struct {
	// Records holds everything fetched in the run, including records
	// already handed to the CheckpointFunc.
	Records []record.Record

	PagesFetched int
	PagesFailed  int

	// PagesDropped counts pages abandoned after a batch or result timeout.
	PagesDropped int

	TotalPages   int
	TotalRecords int

	// StartPage is the first page fetched after page 1 (Parallel only).
	StartPage int

	// Checkpoint is the last page persisted as completed (Parallel only).
	Checkpoint int

	// Partial is set when pagination stopped on errors before the end.
	Partial bool

	// Cancelled is set when ctx was cancelled before the end.
	Cancelled bool
}
