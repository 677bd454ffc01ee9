package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/pncp-sync/pkg/ratelimit"
	"github.com/Sternrassler/pncp-sync/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SequentialConfig holds sequential paginator configuration.
type SequentialConfig struct {
	PageSize int

	// MaxConsecutiveErrors stops the run after this many failed pages in a row.
	MaxConsecutiveErrors int

	// PageDelay spaces consecutive page requests.
	PageDelay time.Duration

	// CheckpointInterval calls the CheckpointFunc every N fetched pages.
	// Zero disables intermediate calls.
	CheckpointInterval int

	// Key deduplicates records within a run. Records it cannot key are
	// always appended. Nil disables deduplication.
	Key func(record.Record) (string, bool)
}

// DefaultSequentialConfig returns the default configuration.
func DefaultSequentialConfig() SequentialConfig {
	return SequentialConfig{
		PageSize:             50,
		MaxConsecutiveErrors: 3,
		PageDelay:            500 * time.Millisecond,
		CheckpointInterval:   50,
	}
}

// Sequential walks pages one at a time.
type Sequential struct {
	source PageFetcher
	config SequentialConfig
	pacer  *ratelimit.Limiter
	logger zerolog.Logger
}

// NewSequential creates a sequential paginator.
func NewSequential(source PageFetcher, config SequentialConfig) *Sequential {
	if config.PageSize <= 0 {
		config.PageSize = 50
	}
	if config.MaxConsecutiveErrors <= 0 {
		config.MaxConsecutiveErrors = 3
	}
	return &Sequential{
		source: source,
		config: config,
		pacer:  ratelimit.Every("sequential-pages", config.PageDelay),
		logger: log.With().Str("component", "sequential-paginator").Logger(),
	}
}

// Run implements Paginator. It stops when a page is empty, when a page adds
// fewer than PageSize new records, when the reported page total is reached,
// or after MaxConsecutiveErrors failed pages (Partial). Failed pages are
// skipped. If no page at all could be fetched it returns ErrSourceUnreachable.
func (s *Sequential) Run(ctx context.Context, filter Filter, onCheckpoint CheckpointFunc) (*Result, error) {
	start := time.Now()
	res := &Result{}
	seen := make(map[string]struct{})

	var (
		consecutiveErrors int
		lastErr           error
		delta             []record.Record
		sinceCheckpoint   int
	)

	for page := 1; ; page++ {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		if page > 1 {
			if err := s.pacer.Wait(ctx); err != nil {
				res.Cancelled = true
				break
			}
		}

		p, err := s.source.FetchPage(ctx, filter, page, s.config.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				break
			}
			consecutiveErrors++
			res.PagesFailed++
			lastErr = err
			pncpPagesTotal.WithLabelValues("sequential", "failed").Inc()

			s.logger.Warn().
				Err(err).
				Int("page", page).
				Int("consecutive_errors", consecutiveErrors).
				Int("max_errors", s.config.MaxConsecutiveErrors).
				Msg("Page fetch failed, skipping")

			if consecutiveErrors >= s.config.MaxConsecutiveErrors {
				s.logger.Error().
					Int("page", page).
					Msg("Too many consecutive errors, stopping pagination")
				res.Partial = true
				break
			}
			continue
		}

		consecutiveErrors = 0
		res.PagesFetched++
		pncpPagesTotal.WithLabelValues("sequential", "ok").Inc()
		if p.TotalPages > res.TotalPages {
			res.TotalPages = p.TotalPages
		}
		if p.TotalRecords > res.TotalRecords {
			res.TotalRecords = p.TotalRecords
		}

		if len(p.Records) == 0 {
			s.logger.Info().Int("page", page).Msg("No more data, stopping pagination")
			break
		}

		added := s.appendNew(res, p.Records, seen)
		delta = append(delta, res.Records[len(res.Records)-added:]...)
		sinceCheckpoint++

		s.logger.Debug().
			Int("page", page).
			Int("records", len(p.Records)).
			Int("added", added).
			Int("total", len(res.Records)).
			Msg("Page processed")

		if onCheckpoint != nil && s.config.CheckpointInterval > 0 && sinceCheckpoint >= s.config.CheckpointInterval {
			if err := onCheckpoint(ctx, delta, page); err != nil {
				s.logger.Warn().Err(err).Int("page", page).Msg("Checkpoint callback failed")
			} else {
				delta = nil
				sinceCheckpoint = 0
			}
		}

		if added < s.config.PageSize {
			s.logger.Info().
				Int("page", page).
				Int("added", added).
				Int("page_size", s.config.PageSize).
				Msg("Short page, stopping pagination")
			break
		}
		if page >= p.TotalPages {
			break
		}
	}

	if res.PagesFetched == 0 && !res.Cancelled {
		return res, fmt.Errorf("%w: %d page(s) failed: %w", ErrSourceUnreachable, res.PagesFailed, lastErr)
	}

	s.logger.Info().
		Int("records", len(res.Records)).
		Int("pages", res.PagesFetched).
		Int("failed", res.PagesFailed).
		Bool("partial", res.Partial).
		Bool("cancelled", res.Cancelled).
		Dur("duration", time.Since(start)).
		Msg("Sequential fetch complete")

	return res, nil
}

// appendNew appends records not seen earlier in the run and returns how
// many were appended.
func (s *Sequential) appendNew(res *Result, records []record.Record, seen map[string]struct{}) int {
	added := 0
	for _, r := range records {
		if s.config.Key != nil {
			if key, ok := s.config.Key(r); ok {
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
		}
		res.Records = append(res.Records, r)
		added++
	}
	return added
}
