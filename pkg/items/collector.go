package items

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/pncp-sync/pkg/client"
	"github.com/Sternrassler/pncp-sync/pkg/ratelimit"
	"github.com/Sternrassler/pncp-sync/pkg/record"
	"github.com/Sternrassler/pncp-sync/pkg/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	pncpItemsCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pncp_items_collected_total",
		Help: "New child items admitted to the item snapshot",
	})

	pncpItemParentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_item_parents_total",
		Help: "Parents processed by the item collector by result",
	}, []string{"result"})
)

// Config holds item collector configuration.
type Config struct {
	// Workers is the number of parents fetched concurrently.
	Workers int

	// RequestDelay spaces the requests of each worker.
	RequestDelay time.Duration

	// FlushEvery saves the item snapshot every N processed parents.
	FlushEvery int

	// SkipExisting skips parents that already have items in the snapshot.
	SkipExisting bool

	// PageSize is the tamanhoPagina of item list requests.
	PageSize int

	// MaxPages bounds the item pages fetched per parent.
	MaxPages int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      5,
		RequestDelay: 200 * time.Millisecond,
		FlushEvery:   100,
		SkipExisting: true,
		PageSize:     50,
		MaxPages:     1000,
	}
}

// Result summarizes a collection run.
type Result struct {
	// Items is the complete item collection after the run.
	Items []record.Record `json:"-"`

	Parents   int
	Processed int
	Failed    int

	// Skipped counts parents without an identity.
	Skipped int

	// SkippedExisting counts parents that already had items.
	SkippedExisting int

	// Added counts new items admitted in this run.
	Added int

	Flushes   int
	Cancelled bool
}

// Collector fetches child items for listings.
type Collector struct {
	fetcher   client.Fetcher
	store     snapshot.Store
	endpoints Endpoints
	schema    record.Schema
	config    Config
	logger    zerolog.Logger
}

// NewCollector creates an item collector persisting to store.
func NewCollector(fetcher client.Fetcher, store snapshot.Store, endpoints Endpoints, schema record.Schema, config Config) *Collector {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = defaults.FlushEvery
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaults.MaxPages
	}
	return &Collector{
		fetcher:   fetcher,
		store:     store,
		endpoints: endpoints,
		schema:    schema,
		config:    config,
		logger:    log.With().Str("component", "item-collector").Logger(),
	}
}

type task struct {
	index  int
	parent record.Record
	id     record.Identity
}

type taskResult struct {
	task  task
	fetch *parentFetch
	err   error
}

// Collect fetches the items of parents and merges them into the item
// snapshot. Items are deduplicated by parent identity plus item number
// against the stored collection and within the run. The snapshot is saved
// every FlushEvery parents and once at the end, also when ctx is cancelled;
// only a failed final save is returned as an error.
func (c *Collector) Collect(ctx context.Context, parents []record.Record) (*Result, error) {
	start := time.Now()

	existing, err := c.store.Load(ctx, snapshot.Items)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	res := &Result{Items: existing, Parents: len(parents)}
	seen := make(map[string]bool, len(existing))
	perParent := make(map[string]int)
	for _, item := range existing {
		pk, _ := c.schema.ParentKey(item)
		seen[c.itemKey(item, perParent[pk])] = true
		perParent[pk]++
	}

	tasks := c.plan(parents, perParent, res)
	c.logger.Info().
		Int("parents", len(parents)).
		Int("to_fetch", len(tasks)).
		Int("skipped_existing", res.SkippedExisting).
		Int("existing_items", len(existing)).
		Msg("Starting item collection")

	if len(tasks) == 0 {
		return res, nil
	}

	results := c.run(ctx, tasks)

	unsaved := 0
	for r := range results {
		key := r.task.id.Key()
		if r.err != nil && errors.Is(r.err, client.ErrContextCancelled) {
			// partial items of an interrupted parent are discarded so a
			// later run fetches the parent again
			pncpItemParentsTotal.WithLabelValues("cancelled").Inc()
			continue
		}
		res.Processed++

		switch {
		case r.err != nil:
			res.Failed++
			pncpItemParentsTotal.WithLabelValues("failed").Inc()
			c.logger.Warn().Err(r.err).Str("parent_key", key).Msg("Item fetch failed")
		case len(r.fetch.items) == 0:
			pncpItemParentsTotal.WithLabelValues("empty").Inc()
		default:
			pncpItemParentsTotal.WithLabelValues("ok").Inc()
		}

		if r.fetch != nil {
			added := 0
			for i, item := range r.fetch.items {
				k := c.itemKey(item, i)
				if seen[k] {
					continue
				}
				seen[k] = true
				res.Items = append(res.Items, item)
				added++
			}
			res.Added += added
			unsaved += added
			pncpItemsCollectedTotal.Add(float64(added))

			if len(r.fetch.items) > 0 {
				c.logger.Debug().
					Str("parent_key", key).
					Str("strategy", string(r.fetch.strategy)).
					Int("items", len(r.fetch.items)).
					Int("added", added).
					Msg("Parent items fetched")
			}
		}

		if res.Processed%c.config.FlushEvery == 0 && unsaved > 0 {
			if err := c.flush(context.WithoutCancel(ctx), res); err != nil {
				c.logger.Warn().Err(err).Int("processed", res.Processed).Msg("Item flush failed, continuing")
			} else {
				unsaved = 0
			}
		}
	}

	res.Cancelled = ctx.Err() != nil

	// final save, also on cancellation
	if err := c.flush(context.WithoutCancel(ctx), res); err != nil {
		c.logger.Error().Err(err).Int("items", len(res.Items)).Msg("Final item save failed")
		return res, err
	}

	c.logger.Info().
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("added", res.Added).
		Int("items", len(res.Items)).
		Bool("cancelled", res.Cancelled).
		Dur("duration", time.Since(start)).
		Msg("Item collection complete")

	return res, nil
}

// plan drops parents without identity, duplicates, and (with SkipExisting)
// parents that already have items.
func (c *Collector) plan(parents []record.Record, withItems map[string]int, res *Result) []task {
	tasks := make([]task, 0, len(parents))
	queued := make(map[string]bool, len(parents))
	for i, parent := range parents {
		id, ok := c.schema.Identity(parent)
		if !ok {
			res.Skipped++
			pncpItemParentsTotal.WithLabelValues("skipped").Inc()
			c.logger.Debug().Int("index", i).Msg("Listing without identity, skipping items")
			continue
		}
		key := id.Key()
		if queued[key] {
			continue
		}
		if c.config.SkipExisting && withItems[key] > 0 {
			res.SkippedExisting++
			pncpItemParentsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		queued[key] = true
		tasks = append(tasks, task{index: i, parent: parent, id: id})
	}
	return tasks
}

// run fetches tasks with a worker pool and streams the results. The
// channel is closed once every worker has exited. After cancellation no new
// parent is started.
func (c *Collector) run(ctx context.Context, tasks []task) <-chan taskResult {
	// requests already issued finish even if ctx is cancelled
	reqCtx := context.WithoutCancel(ctx)

	taskQueue := make(chan task, len(tasks))
	for _, t := range tasks {
		taskQueue <- t
	}
	close(taskQueue)

	results := make(chan taskResult, c.config.Workers)

	var wg sync.WaitGroup
	workers := min(c.config.Workers, len(tasks))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go c.worker(ctx, reqCtx, taskQueue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// worker fetches parents from the queue, pacing its own requests.
func (c *Collector) worker(ctx, reqCtx context.Context, taskQueue <-chan task, results chan<- taskResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pacer := ratelimit.Every("items-worker-"+strconv.Itoa(workerID), c.config.RequestDelay)
	processed := 0

	for t := range taskQueue {
		if ctx.Err() != nil {
			c.logger.Debug().Int("worker_id", workerID).Int("processed", processed).Msg("Worker stopped by cancellation")
			return
		}

		pf, err := c.fetchParent(ctx, reqCtx, pacer, t.parent, t.id)
		results <- taskResult{task: t, fetch: pf, err: err}
		processed++
	}

	c.logger.Debug().Int("worker_id", workerID).Int("processed", processed).Msg("Worker finished")
}

// flush saves the current item collection.
func (c *Collector) flush(ctx context.Context, res *Result) error {
	if err := c.store.Save(ctx, snapshot.Items, res.Items); err != nil {
		return fmt.Errorf("save items: %w", err)
	}
	res.Flushes++
	c.logger.Info().
		Int("processed", res.Processed).
		Int("items", len(res.Items)).
		Msg("Item snapshot saved")
	return nil
}

// itemKey is the parent identity plus item number. Items without a number
// fall back to their position within the parent.
func (c *Collector) itemKey(item record.Record, pos int) string {
	if k, ok := c.schema.ItemKey(item); ok {
		return k
	}
	parent, _ := c.schema.ParentKey(item)
	return parent + "_#" + strconv.Itoa(pos+1)
}

// ForParent returns the items annotated with parentKey, in stored order.
func ForParent(schema record.Schema, items []record.Record, parentKey string) []record.Record {
	out := make([]record.Record, 0)
	for _, item := range items {
		if k, ok := schema.ParentKey(item); ok && k == parentKey {
			out = append(out, item)
		}
	}
	return out
}
