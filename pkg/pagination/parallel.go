package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/pncp-sync/pkg/checkpoint"
	"github.com/Sternrassler/pncp-sync/pkg/ratelimit"
	"github.com/Sternrassler/pncp-sync/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParallelConfig holds parallel paginator configuration.
type ParallelConfig struct {
	PageSize int

	// Workers is the number of concurrent page requests. Pages are
	// dispatched in windows of Workers*2.
	Workers int

	// CheckpointInterval persists the checkpoint every N processed pages.
	CheckpointInterval int

	// BatchTimeout bounds the wait for one window.
	BatchTimeout time.Duration

	// ResultTimeout bounds the wait for in-flight pages once cancelled.
	ResultTimeout time.Duration

	// BatchDelay spaces consecutive windows.
	BatchDelay time.Duration

	// ResetOnComplete clears the checkpoint after a run that covered every
	// page, so the next run starts from page 1 again.
	ResetOnComplete bool
}

// DefaultParallelConfig returns the default configuration.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		PageSize:           50,
		Workers:            5,
		CheckpointInterval: 50,
		BatchTimeout:       60 * time.Second,
		ResultTimeout:      5 * time.Second,
		BatchDelay:         200 * time.Millisecond,
	}
}

// PageResult represents the result of fetching a single page.
type PageResult struct {
	PageNumber int
	Page       *Page
	Error      error
}

// Parallel fetches pages concurrently and resumes from a checkpoint.
type Parallel struct {
	source PageFetcher
	store  checkpoint.Store
	config ParallelConfig
	pacer  *ratelimit.Limiter
	logger zerolog.Logger
}

// NewParallel creates a parallel paginator.
func NewParallel(source PageFetcher, store checkpoint.Store, config ParallelConfig) *Parallel {
	defaults := DefaultParallelConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.CheckpointInterval <= 0 {
		config.CheckpointInterval = defaults.CheckpointInterval
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = defaults.BatchTimeout
	}
	if config.ResultTimeout <= 0 {
		config.ResultTimeout = defaults.ResultTimeout
	}
	if store == nil {
		store = checkpoint.NewMemoryStore(0)
	}

	return &Parallel{
		source: source,
		store:  store,
		config: config,
		pacer:  ratelimit.Every("parallel-batches", config.BatchDelay),
		logger: log.With().Str("component", "parallel-paginator").Logger(),
	}
}

// StartPage returns where a run resumes given the last checkpointed page:
// one page back for overlap, never below 1.
func StartPage(lastPage int) int {
	if lastPage-1 < 1 {
		return 1
	}
	return lastPage - 1
}

// runState tracks progress of one run.
type runState struct {
	res   *Result
	delta []record.Record

	done      map[int]bool
	watermark int // every page in [firstPage, watermark] is done
	saved     int // last persisted checkpoint

	processed      int
	lastCheckpoint int
}

func (st *runState) advance() {
	for st.done[st.watermark+1] {
		st.watermark++
	}
}

// Run implements Paginator.
//
// Page 1 is always fetched first to learn the page total; failing that
// returns ErrSourceUnreachable. The remaining pages start at
// StartPage(checkpoint) and are fetched in windows. Failed or timed-out
// pages are skipped; the checkpoint only advances over a contiguous run of
// completed pages and never moves backwards. On cancellation no new pages
// are dispatched, in-flight pages get ResultTimeout to finish, and the
// records collected so far are handed to onCheckpoint and checkpointed.
func (p *Parallel) Run(ctx context.Context, filter Filter, onCheckpoint CheckpointFunc) (*Result, error) {
	start := time.Now()

	first, err := p.source.FetchPage(ctx, filter, 1, p.config.PageSize)
	if err != nil {
		pncpPagesTotal.WithLabelValues("parallel", "failed").Inc()
		p.logger.Error().Err(err).Msg("Failed to fetch first page")
		return nil, fmt.Errorf("%w: page 1: %w", ErrSourceUnreachable, err)
	}
	pncpPagesTotal.WithLabelValues("parallel", "ok").Inc()

	totalPages := first.TotalPages
	res := &Result{
		Records:      append([]record.Record(nil), first.Records...),
		PagesFetched: 1,
		TotalPages:   totalPages,
		TotalRecords: first.TotalRecords,
	}

	p.logger.Info().
		Int("total_pages", totalPages).
		Int("total_records", first.TotalRecords).
		Msg("Starting parallel page fetch")

	if totalPages <= 1 {
		p.logger.Info().
			Int("records", len(res.Records)).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return res, nil
	}

	last := p.store.Load(ctx).LastPage
	startPage := StartPage(last)
	saved := last
	if startPage > totalPages {
		p.logger.Warn().
			Int("checkpoint", last).
			Int("total_pages", totalPages).
			Msg("Checkpoint beyond page total, restarting from page 2")
		startPage = 2
		saved = 0
	}
	if startPage < 2 {
		startPage = 2
	}
	if startPage > 2 {
		p.logger.Info().
			Int("start_page", startPage).
			Int("checkpoint", last).
			Msg("Resuming from checkpoint")
	}
	res.StartPage = startPage

	st := &runState{
		res:       res,
		delta:     append([]record.Record(nil), first.Records...),
		done:      map[int]bool{},
		watermark: startPage - 1,
		saved:     saved,
	}

	batchSize := p.config.Workers * 2
	for windowStart := startPage; windowStart <= totalPages; windowStart += batchSize {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		if windowStart > startPage {
			if err := p.pacer.Wait(ctx); err != nil {
				res.Cancelled = true
				break
			}
		}

		windowEnd := min(windowStart+batchSize-1, totalPages)
		pages := make([]int, 0, windowEnd-windowStart+1)
		for pg := windowStart; pg <= windowEnd; pg++ {
			pages = append(pages, pg)
		}

		results := p.fetchWindow(ctx, filter, pages)
		p.absorb(st, pages, results)

		if st.processed-st.lastCheckpoint >= p.config.CheckpointInterval {
			p.checkpoint(ctx, st, onCheckpoint)
		}

		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
	}

	// final checkpoint, also on cancellation
	p.checkpoint(context.WithoutCancel(ctx), st, onCheckpoint)
	res.Checkpoint = st.saved

	complete := !res.Cancelled && res.PagesFailed == 0 && res.PagesDropped == 0
	res.Partial = !res.Cancelled && !complete
	if complete && p.config.ResetOnComplete {
		if err := p.store.Reset(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to reset checkpoint")
		}
	}

	p.logger.Info().
		Int("records", len(res.Records)).
		Int("pages", res.PagesFetched).
		Int("failed", res.PagesFailed).
		Int("dropped", res.PagesDropped).
		Int("total_pages", totalPages).
		Int("checkpoint", res.Checkpoint).
		Bool("cancelled", res.Cancelled).
		Dur("duration", time.Since(start)).
		Msg("Parallel fetch complete")

	return res, nil
}

// absorb merges one window's results in page order.
func (p *Parallel) absorb(st *runState, pages []int, results map[int]PageResult) {
	for _, pg := range pages {
		r, ok := results[pg]
		switch {
		case !ok:
			st.res.PagesDropped++
			pncpPagesTotal.WithLabelValues("parallel", "dropped").Inc()
		case r.Error != nil:
			st.res.PagesFailed++
			pncpPagesTotal.WithLabelValues("parallel", "failed").Inc()
			p.logger.Warn().Err(r.Error).Int("page", pg).Msg("Page fetch failed, skipping")
		default:
			st.res.Records = append(st.res.Records, r.Page.Records...)
			st.delta = append(st.delta, r.Page.Records...)
			st.res.PagesFetched++
			st.done[pg] = true
			pncpPagesTotal.WithLabelValues("parallel", "ok").Inc()
		}
		st.processed++

		// Progress logging every 50 pages
		if st.processed%50 == 0 {
			p.logger.Info().
				Int("fetched", st.res.PagesFetched).
				Int("total", st.res.TotalPages).
				Int("records", len(st.res.Records)).
				Float64("progress_pct", float64(st.res.PagesFetched)/float64(st.res.TotalPages)*100).
				Msg("Fetch progress")
		}
	}
	st.advance()
}

// checkpoint hands the pending delta to onCheckpoint and, if that succeeds,
// persists the watermark when it moved forward.
func (p *Parallel) checkpoint(ctx context.Context, st *runState, onCheckpoint CheckpointFunc) {
	st.lastCheckpoint = st.processed

	if onCheckpoint != nil && len(st.delta) > 0 {
		if err := onCheckpoint(ctx, st.delta, st.watermark); err != nil {
			p.logger.Warn().Err(err).Int("page", st.watermark).Msg("Checkpoint callback failed, checkpoint not advanced")
			return
		}
	}
	st.delta = nil

	if st.watermark <= st.saved {
		return
	}
	if err := p.store.Save(ctx, st.watermark); err != nil {
		p.logger.Warn().Err(err).Int("page", st.watermark).Msg("Failed to save checkpoint")
		return
	}
	st.saved = st.watermark
	st.res.Checkpoint = st.watermark
	p.logger.Info().
		Int("page", st.watermark).
		Int("records", len(st.res.Records)).
		Msg("Checkpoint saved")
}

// fetchWindow fetches pages with a worker pool. Pages missing from the
// returned map were dropped by a timeout or cancellation.
func (p *Parallel) fetchWindow(ctx context.Context, filter Filter, pages []int) map[int]PageResult {
	// in-flight requests outlive cancellation of ctx until the window returns
	reqCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	pageQueue := make(chan int, len(pages))
	for _, pg := range pages {
		pageQueue <- pg
	}
	close(pageQueue)

	pageResults := make(chan PageResult, len(pages))

	var wg sync.WaitGroup
	workers := min(p.config.Workers, len(pages))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, reqCtx, filter, pageQueue, pageResults, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	results := make(map[int]PageResult, len(pages))
	batchTimer := time.NewTimer(p.config.BatchTimeout)
	defer batchTimer.Stop()

	for {
		select {
		case r, ok := <-pageResults:
			if !ok {
				return results
			}
			results[r.PageNumber] = r

		case <-batchTimer.C:
			p.logger.Warn().
				Ints("pages", missing(pages, results)).
				Dur("timeout", p.config.BatchTimeout).
				Msg("Batch timed out, dropping unfinished pages")
			return results

		case <-ctx.Done():
			return p.drain(pages, pageResults, results)
		}
	}
}

// drain collects in-flight results for up to ResultTimeout after cancellation.
func (p *Parallel) drain(pages []int, pageResults <-chan PageResult, results map[int]PageResult) map[int]PageResult {
	drainTimer := time.NewTimer(p.config.ResultTimeout)
	defer drainTimer.Stop()

	for {
		select {
		case r, ok := <-pageResults:
			if !ok {
				return results
			}
			results[r.PageNumber] = r
		case <-drainTimer.C:
			p.logger.Warn().
				Ints("pages", missing(pages, results)).
				Msg("In-flight pages did not finish after cancellation, dropping")
			return results
		}
	}
}

// worker processes pages from the queue. ctx gates dispatch; reqCtx carries
// the request itself.
func (p *Parallel) worker(ctx, reqCtx context.Context, filter Filter, pageQueue <-chan int, results chan<- PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		// Check context cancellation
		select {
		case <-ctx.Done():
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		page, err := p.source.FetchPage(reqCtx, filter, pageNum, p.config.PageSize)
		results <- PageResult{PageNumber: pageNum, Page: page, Error: err}
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		p.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}

func missing(pages []int, results map[int]PageResult) []int {
	var out []int
	for _, pg := range pages {
		if _, ok := results[pg]; !ok {
			out = append(out, pg)
		}
	}
	return out
}
