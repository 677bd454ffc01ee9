// Package syncer keeps the local listing snapshot synchronized with the
// remote API.
//
// A sync fetches the remote listing window, merges it into the stored
// snapshot by identity key and update timestamp, and collects child items
// for the listings it added. The paginator's checkpoint hook merges and
// saves the snapshot before each checkpoint, so an interrupted run never
// leaves a checkpoint ahead of the data.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/pncp-sync/pkg/checkpoint"
	"github.com/Sternrassler/pncp-sync/pkg/items"
	"github.com/Sternrassler/pncp-sync/pkg/pagination"
	"github.com/Sternrassler/pncp-sync/pkg/record"
	"github.com/Sternrassler/pncp-sync/pkg/snapshot"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	pncpSyncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_sync_records_total",
		Help: "Remote listings by merge outcome",
	}, []string{"result"})

	pncpSyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_sync_runs_total",
		Help: "Engine runs by result",
	}, []string{"result"})
)

// ErrAlreadyRunning is returned when an operation starts while another is
// in progress.
var ErrAlreadyRunning = errors.New("sync already running")

// Mode names the engine operation.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// ItemCollector collects child items for listings.
type ItemCollector interface {
	Collect(ctx context.Context, parents []record.Record) (*items.Result, error)
}

// Config holds engine configuration.
type Config struct {
	Schema record.Schema

	// PublishedWithin keeps only remote listings published within this
	// window before now. Zero disables the filter.
	PublishedWithin time.Duration

	// CollectItems enables child item collection after the merge.
	CollectItems bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Schema:       record.DefaultSchema(),
		CollectItems: true,
		Now:          time.Now,
	}
}

// Summary reports one engine run.
type Summary struct {
	RunID string
	Mode  Mode

	// Fetched counts remote listings returned by the paginator.
	Fetched int

	// Filtered counts listings dropped by the publication window.
	Filtered int

	Added     int
	Updated   int
	Unchanged int
	Skipped   int

	// Items is the item collection outcome, nil when not run.
	Items *items.Result

	// PendingItems lists keys of listings merged by a cancelled run whose
	// items were never collected. A later TriggerFullFetch picks them up.
	PendingItems []string

	Partial   bool
	Cancelled bool

	StartedAt time.Time
	Duration  time.Duration
}

// Status reports the engine state.
type Status struct {
	Running            bool
	CurrentRunID       string
	LastCompletedRunID string
	LastRun            time.Time
	LastSummary        *Summary
	LastError          string
}

// Engine runs syncs against one listing stream.
type Engine struct {
	paginator   pagination.Paginator
	store       snapshot.Store
	collector   ItemCollector
	checkpoints checkpoint.Store
	config      Config
	logger      zerolog.Logger

	mu     sync.Mutex
	status Status
}

// New creates an engine. collector and checkpoints may be nil: without a
// collector no items are fetched; without a checkpoint store a full fetch
// cannot reset the resume point.
func New(paginator pagination.Paginator, store snapshot.Store, collector ItemCollector, checkpoints checkpoint.Store, config Config) *Engine {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Engine{
		paginator:   paginator,
		store:       store,
		collector:   collector,
		checkpoints: checkpoints,
		config:      config,
		logger:      log.With().Str("component", "sync-engine").Logger(),
	}
}

// Status returns a copy of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// begin claims the run guard and returns the new run ID.
func (e *Engine) begin() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Running {
		return "", ErrAlreadyRunning
	}
	id := uuid.NewString()
	e.status.Running = true
	e.status.CurrentRunID = id
	return id, nil
}

func (e *Engine) end(summary *Summary, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Running = false
	e.status.LastCompletedRunID = e.status.CurrentRunID
	e.status.CurrentRunID = ""
	e.status.LastRun = e.config.Now()
	e.status.LastSummary = summary
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
	}

	result := "ok"
	switch {
	case err != nil:
		result = "failed"
	case summary.Cancelled:
		result = "cancelled"
	case summary.Partial:
		result = "partial"
	}
	pncpSyncRunsTotal.WithLabelValues(result).Inc()
}

// TriggerIncrementalSync merges the remote window into the snapshot and
// collects items for new listings. With an empty snapshot it performs a
// full fetch instead.
func (e *Engine) TriggerIncrementalSync(ctx context.Context, filter pagination.Filter) (*Summary, error) {
	local, err := e.store.Load(ctx, snapshot.Records)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if len(local) == 0 {
		e.logger.Info().Msg("No local listings, performing full fetch")
		return e.run(ctx, filter, ModeFull)
	}
	return e.run(ctx, filter, ModeIncremental)
}

// TriggerFullFetch fetches the remote window from page 1, merges it and
// collects items for every fetched listing that has none yet.
func (e *Engine) TriggerFullFetch(ctx context.Context, filter pagination.Filter) (*Summary, error) {
	return e.run(ctx, filter, ModeFull)
}

// Sync runs an incremental merge without the empty-snapshot fallback.
func (e *Engine) Sync(ctx context.Context, filter pagination.Filter) (*Summary, error) {
	return e.run(ctx, filter, ModeIncremental)
}

func (e *Engine) run(ctx context.Context, filter pagination.Filter, mode Mode) (summary *Summary, err error) {
	runID, err := e.begin()
	if err != nil {
		return nil, err
	}
	summary = &Summary{RunID: runID, Mode: mode, StartedAt: e.config.Now()}
	defer func() { e.end(summary, err) }()

	logger := e.logger.With().Str("run_id", runID).Str("mode", string(mode)).Logger()
	logger.Info().
		Time("since", filter.Since).
		Time("until", filter.Until).
		Int("modality", filter.Modality).
		Msg("Sync started")

	if mode == ModeFull && e.checkpoints != nil {
		if err := e.checkpoints.Reset(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to reset checkpoint")
		}
	}

	local, err := e.store.Load(ctx, snapshot.Records)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load snapshot")
		return summary, fmt.Errorf("load snapshot: %w", err)
	}

	st := &runState{
		engine:  e,
		merger:  newMerger(e.config.Schema, local),
		summary: summary,
		logger:  logger,
	}

	res, err := e.paginator.Run(ctx, filter, st.onCheckpoint)
	if err != nil {
		logger.Error().Err(err).Msg("Listing fetch failed")
		return summary, fmt.Errorf("fetch listings: %w", err)
	}

	summary.Fetched = len(res.Records)
	summary.Partial = res.Partial
	summary.Cancelled = res.Cancelled

	// records the hook has not merged
	st.merge(res.Records[st.consumed+st.pending:])

	mr := st.merger.result()
	summary.Added = mr.Added
	summary.Updated = mr.Updated
	summary.Unchanged = mr.Unchanged
	summary.Skipped = mr.Skipped

	if st.merger.dirty {
		if err := e.store.Save(context.WithoutCancel(ctx), snapshot.Records, mr.Records); err != nil {
			logger.Error().Err(err).Int("records", len(mr.Records)).Msg("Final snapshot save failed")
			return summary, fmt.Errorf("save snapshot: %w", err)
		}
		st.merger.markClean()
	}

	pncpSyncRecordsTotal.WithLabelValues("added").Add(float64(mr.Added))
	pncpSyncRecordsTotal.WithLabelValues("updated").Add(float64(mr.Updated))
	pncpSyncRecordsTotal.WithLabelValues("unchanged").Add(float64(mr.Unchanged))
	pncpSyncRecordsTotal.WithLabelValues("skipped").Add(float64(mr.Skipped))
	pncpSyncRecordsTotal.WithLabelValues("filtered").Add(float64(summary.Filtered))

	if err := e.collectItems(ctx, mode, st, summary); err != nil {
		return summary, err
	}

	summary.Duration = e.config.Now().Sub(summary.StartedAt)
	logger.Info().
		Int("fetched", summary.Fetched).
		Int("added", summary.Added).
		Int("updated", summary.Updated).
		Int("filtered", summary.Filtered).
		Bool("partial", summary.Partial).
		Bool("cancelled", summary.Cancelled).
		Dur("duration", summary.Duration).
		Msg("Sync complete")

	return summary, nil
}

// collectItems fetches items for new listings, or for every fetched
// listing on a full fetch. Cancelled runs skip it.
func (e *Engine) collectItems(ctx context.Context, mode Mode, st *runState, summary *Summary) error {
	if e.collector == nil || !e.config.CollectItems {
		return nil
	}
	parents := st.merger.fresh
	if mode == ModeFull {
		parents = st.remote
	}
	if len(parents) == 0 {
		return nil
	}

	if ctx.Err() != nil {
		for _, r := range parents {
			if k, ok := e.config.Schema.Key(r); ok {
				summary.PendingItems = append(summary.PendingItems, k)
			}
		}
		st.logger.Warn().
			Int("pending_items", len(summary.PendingItems)).
			Msg("Run cancelled, skipping item collection")
		return nil
	}

	res, err := e.collector.Collect(ctx, parents)
	summary.Items = res
	if err != nil {
		st.logger.Error().Err(err).Msg("Item collection failed")
		return fmt.Errorf("collect items: %w", err)
	}
	return nil
}

// runState carries the merge across checkpoint callbacks.
type runState struct {
	engine  *Engine
	merger  *merger
	summary *Summary
	logger  zerolog.Logger

	// remote holds every merged remote record that passed the filter.
	remote []record.Record

	// consumed counts stream records delivered in successful callbacks;
	// pending counts the merged prefix of a delta whose save failed.
	consumed int
	pending  int
}

func (st *runState) merge(batch []record.Record) {
	cfg := st.engine.config
	if cfg.PublishedWithin > 0 {
		var dropped int
		batch, dropped = publishedSince(cfg.Schema, batch, cfg.Now().Add(-cfg.PublishedWithin))
		st.summary.Filtered += dropped
	}
	st.remote = append(st.remote, batch...)
	st.merger.merge(batch)
}

// onCheckpoint merges the delta and saves the snapshot. An error keeps the
// paginator from advancing its checkpoint.
func (st *runState) onCheckpoint(ctx context.Context, delta []record.Record, page int) error {
	st.merge(delta[st.pending:])
	st.pending = len(delta)

	if st.merger.dirty {
		mr := st.merger.result()
		if err := st.engine.store.Save(ctx, snapshot.Records, mr.Records); err != nil {
			return fmt.Errorf("save snapshot at page %d: %w", page, err)
		}
		st.merger.markClean()
		st.logger.Info().
			Int("page", page).
			Int("records", len(mr.Records)).
			Int("added", mr.Added).
			Int("updated", mr.Updated).
			Msg("Snapshot checkpoint saved")
	}

	st.consumed += len(delta)
	st.pending = 0
	return nil
}

// GetLocalSnapshot returns the stored listings.
func (e *Engine) GetLocalSnapshot(ctx context.Context) ([]record.Record, error) {
	return e.store.Load(ctx, snapshot.Records)
}

// GetRecord returns the stored listing with the given identity key.
func (e *Engine) GetRecord(ctx context.Context, key string) (record.Record, bool, error) {
	records, err := e.store.Load(ctx, snapshot.Records)
	if err != nil {
		return nil, false, err
	}
	for _, r := range records {
		if k, ok := e.config.Schema.Key(r); ok && k == key {
			return r, true, nil
		}
	}
	return nil, false, nil
}

// GetItemsForParent returns the stored items of the listing with the given
// identity key.
func (e *Engine) GetItemsForParent(ctx context.Context, key string) ([]record.Record, error) {
	all, err := e.store.Load(ctx, snapshot.Items)
	if err != nil {
		return nil, err
	}
	return items.ForParent(e.config.Schema, all, key), nil
}
