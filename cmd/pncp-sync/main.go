// Command pncp-sync runs one listing sync against the PNCP API and exits.
//
// Usage:
//
//	pncp-sync [-config pncp.yaml] [-mode sync|full]
//
// SIGINT or SIGTERM cancels the run; work merged so far is saved.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pncp-sync/pkg/checkpoint"
	"github.com/Sternrassler/pncp-sync/pkg/client"
	"github.com/Sternrassler/pncp-sync/pkg/config"
	"github.com/Sternrassler/pncp-sync/pkg/items"
	"github.com/Sternrassler/pncp-sync/pkg/logging"
	"github.com/Sternrassler/pncp-sync/pkg/metrics"
	"github.com/Sternrassler/pncp-sync/pkg/pagination"
	"github.com/Sternrassler/pncp-sync/pkg/record"
	"github.com/Sternrassler/pncp-sync/pkg/snapshot"
	"github.com/Sternrassler/pncp-sync/pkg/syncer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Error().Err(err).Msg("pncp-sync failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("pncp-sync", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("PNCP_CONFIG"), "path to a YAML config file")
	mode := fs.String("mode", "sync", "run mode: sync (incremental, full when empty) or full")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging())
	logger := logging.NewLogger("main")

	deps, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newMux(deps),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	filter := cfg.Filter(time.Now())
	logger.Info().
		Str("mode", *mode).
		Str("listings_url", cfg.ListingsURL()).
		Bool("parallel", cfg.Sync.Parallel).
		Msg("Starting")

	var summary *syncer.Summary
	switch *mode {
	case "sync":
		summary, err = deps.engine.TriggerIncrementalSync(ctx, filter)
	case "full":
		summary, err = deps.engine.TriggerFullFetch(ctx, filter)
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}

	if summary != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(summary); encErr != nil {
			logger.Warn().Err(encErr).Msg("Failed to write summary")
		}
	}
	if err != nil {
		return err
	}
	if summary.Cancelled {
		logger.Warn().
			Int("pending_items", len(summary.PendingItems)).
			Msg("Run cancelled, partial results saved; run -mode full to collect pending items")
	}
	return nil
}

// deps holds the wired components of one process.
type deps struct {
	engine *syncer.Engine
	redis  *redis.Client
}

func (d *deps) Close() {
	if d.redis != nil {
		d.redis.Close()
	}
}

// build wires client, stores, paginator, item collector and engine from cfg.
func build(ctx context.Context, cfg config.Config) (*deps, error) {
	logger := logging.NewLogger("main")
	d := &deps{}

	fetcher, err := client.New(cfg.Client())
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	var store snapshot.Store
	if cfg.Storage.MinIO.Endpoint != "" {
		obj, err := snapshot.NewObjectStore(cfg.ObjectStore())
		if err != nil {
			return nil, err
		}
		if err := obj.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info().Str("endpoint", cfg.Storage.MinIO.Endpoint).Str("bucket", cfg.Storage.MinIO.Bucket).Msg("Using object snapshot store")
		store = obj
	} else {
		store = snapshot.NewFileStore(cfg.Storage.DataDir)
		logger.Info().Str("dir", cfg.Storage.DataDir).Msg("Using file snapshot store")
	}

	var checkpoints checkpoint.Store
	if cfg.Storage.RedisURL != "" {
		rc, err := newRedisClient(cfg.Storage.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := rc.Ping(ctx).Err(); err != nil {
			rc.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		d.redis = rc
		key := checkpoint.StreamKey(cfg.API.ListingsPath, streamQuery(cfg))
		checkpoints = checkpoint.NewRedisStore(rc, key, cfg.Storage.CheckpointTTL)
		logger.Info().Str("key", key).Msg("Using redis checkpoint store")
	} else {
		fileStore := checkpoint.NewFileStore(cfg.CheckpointPath())
		checkpoints = fileStore
		logger.Info().Str("path", fileStore.Path()).Msg("Using file checkpoint store")
	}

	schema := record.DefaultSchema()
	source := pagination.NewSource(fetcher, cfg.ListingsURL())
	logger.Debug().Str("url", source.URL()).Msg("Using listing source")

	var paginator pagination.Paginator
	if cfg.Sync.Parallel {
		paginator = pagination.NewParallel(source, checkpoints, cfg.Parallel())
	} else {
		seq := cfg.Sequential()
		seq.Key = schema.Key
		paginator = pagination.NewSequential(source, seq)
	}

	var collector syncer.ItemCollector
	if cfg.Sync.CollectItems {
		collector = items.NewCollector(fetcher, store, cfg.Endpoints(), schema, cfg.ItemCollector())
	}

	engineCfg := syncer.DefaultConfig()
	engineCfg.Schema = schema
	engineCfg.PublishedWithin = cfg.Sync.PublishedWithin
	engineCfg.CollectItems = cfg.Sync.CollectItems

	d.engine = syncer.New(paginator, store, collector, checkpoints, engineCfg)
	return d, nil
}

// newRedisClient accepts a redis:// URL or a bare host:port.
func newRedisClient(raw string) (*redis.Client, error) {
	if !strings.Contains(raw, "://") {
		return redis.NewClient(&redis.Options{Addr: raw}), nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// streamQuery holds the filter parameters that identify a listing stream.
// The date window moves every day and is left out.
func streamQuery(cfg config.Config) url.Values {
	q := url.Values{}
	if cfg.Sync.Modality > 0 {
		q.Set("codigoModalidadeContratacao", strconv.Itoa(cfg.Sync.Modality))
	}
	return q
}

func newMux(d *deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(d.redis))
	mux.HandleFunc("/status", statusHandler(d.engine))
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		metrics.Registry, promhttp.HandlerFor(metrics.Gatherer, promhttp.HandlerOpts{}),
	))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether the checkpoint backend is reachable. Without
// Redis the process is always ready.
func readyHandler(rc *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rc != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := rc.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func statusHandler(engine *syncer.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(engine.Status()); err != nil {
			log.Warn().Err(err).Msg("Failed to write status")
		}
	}
}
