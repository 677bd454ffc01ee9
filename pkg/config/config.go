// Package config loads pncp-sync settings from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/pncp-sync/pkg/client"
	"github.com/Sternrassler/pncp-sync/pkg/items"
	"github.com/Sternrassler/pncp-sync/pkg/logging"
	"github.com/Sternrassler/pncp-sync/pkg/pagination"
	"github.com/Sternrassler/pncp-sync/pkg/snapshot"
)

// Config holds every pncp-sync setting.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Sync       SyncConfig       `yaml:"sync"`
	Pagination PaginationConfig `yaml:"pagination"`
	Items      ItemsConfig      `yaml:"items"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`

	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// APIConfig configures the HTTP client and endpoints.
type APIConfig struct {
	BaseURL       string `yaml:"base_url"`
	ListingsPath  string `yaml:"listings_path"`
	ItemsBaseURL  string `yaml:"items_base_url"`
	RecordBaseURL string `yaml:"record_base_url"`
	UserAgent     string `yaml:"user_agent"`

	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	RetryMultiplier   float64       `yaml:"retry_multiplier"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay"`
	RetryJitter       float64       `yaml:"retry_jitter"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// SyncConfig selects the listing window and engine behavior.
type SyncConfig struct {
	WindowDays      int           `yaml:"window_days"`
	Modality        int           `yaml:"modality"`
	Parallel        bool          `yaml:"parallel"`
	CollectItems    bool          `yaml:"collect_items"`
	PublishedWithin time.Duration `yaml:"published_within"`
}

// PaginationConfig configures both paginators.
type PaginationConfig struct {
	PageSize             int           `yaml:"page_size"`
	Workers              int           `yaml:"workers"`
	CheckpointInterval   int           `yaml:"checkpoint_interval"`
	BatchTimeout         time.Duration `yaml:"batch_timeout"`
	ResultTimeout        time.Duration `yaml:"result_timeout"`
	BatchDelay           time.Duration `yaml:"batch_delay"`
	PageDelay            time.Duration `yaml:"page_delay"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`

	// ResetCheckpointOnComplete restarts the next run at page 1 once a run
	// covered every page. A sliding date window shifts page contents, so
	// resuming deep into it would skip new listings.
	ResetCheckpointOnComplete bool `yaml:"reset_checkpoint_on_complete"`
}

// ItemsConfig configures the item collector.
type ItemsConfig struct {
	Workers      int           `yaml:"workers"`
	RequestDelay time.Duration `yaml:"request_delay"`
	FlushEvery   int           `yaml:"flush_every"`
	SkipExisting bool          `yaml:"skip_existing"`
	PageSize     int           `yaml:"page_size"`
	MaxPages     int           `yaml:"max_pages"`
}

// StorageConfig selects snapshot and checkpoint backends. File storage
// under DataDir is used unless Redis or MinIO is configured.
type StorageConfig struct {
	DataDir        string `yaml:"data_dir"`
	CheckpointFile string `yaml:"checkpoint_file"`

	RedisURL      string        `yaml:"redis_url"`
	CheckpointTTL time.Duration `yaml:"checkpoint_ttl"`

	MinIO MinIOConfig `yaml:"minio"`
}

// MinIOConfig configures the object snapshot store.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the default configuration.
func Default() Config {
	retry := client.DefaultRetryPolicy()
	par := pagination.DefaultParallelConfig()
	seq := pagination.DefaultSequentialConfig()
	it := items.DefaultConfig()

	return Config{
		API: APIConfig{
			BaseURL:         "https://pncp.gov.br/api/consulta/v1",
			ListingsPath:    "/contratacoes/proposta",
			ItemsBaseURL:    "https://pncp.gov.br/api/pncp/v1",
			UserAgent:       client.DefaultUserAgent,
			Timeout:         30 * time.Second,
			MaxAttempts:     retry.MaxAttempts,
			RetryDelay:      retry.Delay,
			RetryMultiplier: retry.Multiplier,
			MaxRetryDelay:   retry.MaxDelay,
			RetryJitter:     retry.Jitter,
		},
		Sync: SyncConfig{
			WindowDays:   15,
			Modality:     6,
			Parallel:     true,
			CollectItems: true,
		},
		Pagination: PaginationConfig{
			PageSize:                  par.PageSize,
			Workers:                   par.Workers,
			CheckpointInterval:        par.CheckpointInterval,
			BatchTimeout:              par.BatchTimeout,
			ResultTimeout:             par.ResultTimeout,
			BatchDelay:                par.BatchDelay,
			PageDelay:                 seq.PageDelay,
			MaxConsecutiveErrors:      seq.MaxConsecutiveErrors,
			ResetCheckpointOnComplete: true,
		},
		Items: ItemsConfig{
			Workers:      it.Workers,
			RequestDelay: it.RequestDelay,
			FlushEvery:   it.FlushEvery,
			SkipExisting: it.SkipExisting,
			PageSize:     it.PageSize,
			MaxPages:     it.MaxPages,
		},
		Storage: StorageConfig{
			DataDir:       "data",
			CheckpointTTL: 7 * 24 * time.Hour,
			MinIO: MinIOConfig{
				Bucket: "pncp-sync",
			},
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(validURL(c.API.BaseURL), "api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	check(validURL(c.API.ItemsBaseURL), "api.items_base_url must be an absolute URL, got %q", c.API.ItemsBaseURL)
	check(c.API.RecordBaseURL == "" || validURL(c.API.RecordBaseURL), "api.record_base_url must be an absolute URL, got %q", c.API.RecordBaseURL)
	check(c.API.UserAgent != "", "api.user_agent is required")
	check(c.API.Timeout > 0, "api.timeout must be positive")
	check(c.API.MaxAttempts >= 1, "api.max_attempts must be at least 1")
	check(c.API.RetryDelay >= 0, "api.retry_delay must not be negative")
	check(c.API.RetryMultiplier >= 1, "api.retry_multiplier must be at least 1")
	check(c.API.RetryJitter >= 0 && c.API.RetryJitter < 1, "api.retry_jitter must be in [0, 1)")
	check(c.API.RequestsPerSecond >= 0, "api.requests_per_second must not be negative")

	check(c.Sync.WindowDays >= 1, "sync.window_days must be at least 1")
	check(c.Sync.Modality >= 0, "sync.modality must not be negative")
	check(c.Sync.PublishedWithin >= 0, "sync.published_within must not be negative")

	check(c.Pagination.PageSize >= 1, "pagination.page_size must be at least 1")
	check(c.Pagination.Workers >= 1, "pagination.workers must be at least 1")
	check(c.Pagination.CheckpointInterval >= 0, "pagination.checkpoint_interval must not be negative")
	check(c.Pagination.BatchTimeout > 0, "pagination.batch_timeout must be positive")
	check(c.Pagination.ResultTimeout > 0, "pagination.result_timeout must be positive")
	check(c.Pagination.MaxConsecutiveErrors >= 1, "pagination.max_consecutive_errors must be at least 1")

	check(c.Items.Workers >= 1, "items.workers must be at least 1")
	check(c.Items.FlushEvery >= 1, "items.flush_every must be at least 1")
	check(c.Items.PageSize >= 1, "items.page_size must be at least 1")
	check(c.Items.MaxPages >= 1, "items.max_pages must be at least 1")

	check(c.Storage.DataDir != "", "storage.data_dir is required")
	if c.Storage.MinIO.Endpoint != "" {
		check(c.Storage.MinIO.Bucket != "", "storage.minio.bucket is required with an endpoint")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ListingsURL returns the absolute listing endpoint.
func (c Config) ListingsURL() string {
	return strings.TrimRight(c.API.BaseURL, "/") + c.API.ListingsPath
}

// CheckpointPath returns the checkpoint file used without Redis.
func (c Config) CheckpointPath() string {
	if c.Storage.CheckpointFile != "" {
		return c.Storage.CheckpointFile
	}
	return filepath.Join(c.Storage.DataDir, ".editais_checkpoint.json")
}

// Client returns the HTTP client configuration.
func (c Config) Client() client.Config {
	cfg := client.DefaultConfig()
	cfg.UserAgent = c.API.UserAgent
	cfg.Timeout = c.API.Timeout
	cfg.RequestsPerSecond = c.API.RequestsPerSecond
	cfg.Retry = client.RetryPolicy{
		MaxAttempts: c.API.MaxAttempts,
		Delay:       c.API.RetryDelay,
		Multiplier:  c.API.RetryMultiplier,
		MaxDelay:    c.API.MaxRetryDelay,
		Jitter:      c.API.RetryJitter,
	}
	if c.Pagination.Workers+c.Items.Workers > cfg.MaxIdleConnsPerHost {
		cfg.MaxIdleConnsPerHost = c.Pagination.Workers + c.Items.Workers
	}
	return cfg
}

// Parallel returns the parallel paginator configuration.
func (c Config) Parallel() pagination.ParallelConfig {
	return pagination.ParallelConfig{
		PageSize:           c.Pagination.PageSize,
		Workers:            c.Pagination.Workers,
		CheckpointInterval: c.Pagination.CheckpointInterval,
		BatchTimeout:       c.Pagination.BatchTimeout,
		ResultTimeout:      c.Pagination.ResultTimeout,
		BatchDelay:         c.Pagination.BatchDelay,
		ResetOnComplete:    c.Pagination.ResetCheckpointOnComplete,
	}
}

// Sequential returns the sequential paginator configuration.
func (c Config) Sequential() pagination.SequentialConfig {
	cfg := pagination.DefaultSequentialConfig()
	cfg.PageSize = c.Pagination.PageSize
	cfg.PageDelay = c.Pagination.PageDelay
	cfg.MaxConsecutiveErrors = c.Pagination.MaxConsecutiveErrors
	cfg.CheckpointInterval = c.Pagination.CheckpointInterval
	return cfg
}

// ItemCollector returns the item collector configuration.
func (c Config) ItemCollector() items.Config {
	return items.Config{
		Workers:      c.Items.Workers,
		RequestDelay: c.Items.RequestDelay,
		FlushEvery:   c.Items.FlushEvery,
		SkipExisting: c.Items.SkipExisting,
		PageSize:     c.Items.PageSize,
		MaxPages:     c.Items.MaxPages,
	}
}

// Endpoints returns the item endpoints. The whole-record endpoint defaults
// to the items base.
func (c Config) Endpoints() items.Endpoints {
	record := c.API.RecordBaseURL
	if record == "" {
		record = c.API.ItemsBaseURL
	}
	return items.Endpoints{
		ItemsBaseURL:  strings.TrimRight(c.API.ItemsBaseURL, "/"),
		RecordBaseURL: strings.TrimRight(record, "/"),
	}
}

// Filter returns the listing filter for a run at now.
func (c Config) Filter(now time.Time) pagination.Filter {
	return pagination.Window(now, c.Sync.WindowDays, c.Sync.Modality)
}

// ObjectStore returns the MinIO snapshot configuration.
func (c Config) ObjectStore() snapshot.ObjectConfig {
	m := c.Storage.MinIO
	return snapshot.ObjectConfig{
		Endpoint:  m.Endpoint,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		Bucket:    m.Bucket,
		Prefix:    m.Prefix,
		Region:    m.Region,
		UseSSL:    m.UseSSL,
	}
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(c.Log.Level)
	if err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// applyEnv overrides settings from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("API_BASE_URL", &c.API.BaseURL)
	e.str("API_LISTINGS_PATH", &c.API.ListingsPath)
	e.str("API_ITEMS_BASE_URL", &c.API.ItemsBaseURL)
	e.str("API_RECORD_BASE_URL", &c.API.RecordBaseURL)
	e.str("USER_AGENT", &c.API.UserAgent)
	e.duration("REQUEST_TIMEOUT", &c.API.Timeout)
	e.integer("MAX_ATTEMPTS", &c.API.MaxAttempts)
	e.duration("RETRY_DELAY", &c.API.RetryDelay)
	e.float("RETRY_MULTIPLIER", &c.API.RetryMultiplier)
	e.duration("MAX_RETRY_DELAY", &c.API.MaxRetryDelay)
	e.float("RETRY_JITTER", &c.API.RetryJitter)
	e.float("REQUESTS_PER_SECOND", &c.API.RequestsPerSecond)

	e.integer("SYNC_WINDOW_DAYS", &c.Sync.WindowDays)
	e.integer("SYNC_MODALITY", &c.Sync.Modality)
	e.boolean("SYNC_PARALLEL", &c.Sync.Parallel)
	e.boolean("SYNC_COLLECT_ITEMS", &c.Sync.CollectItems)
	e.duration("SYNC_PUBLISHED_WITHIN", &c.Sync.PublishedWithin)

	e.integer("PAGE_SIZE", &c.Pagination.PageSize)
	e.integer("PAGE_WORKERS", &c.Pagination.Workers)
	e.integer("CHECKPOINT_INTERVAL", &c.Pagination.CheckpointInterval)
	e.duration("BATCH_TIMEOUT", &c.Pagination.BatchTimeout)
	e.duration("RESULT_TIMEOUT", &c.Pagination.ResultTimeout)
	e.duration("BATCH_DELAY", &c.Pagination.BatchDelay)
	e.duration("PAGE_DELAY", &c.Pagination.PageDelay)
	e.integer("MAX_CONSECUTIVE_ERRORS", &c.Pagination.MaxConsecutiveErrors)
	e.boolean("RESET_CHECKPOINT_ON_COMPLETE", &c.Pagination.ResetCheckpointOnComplete)

	e.integer("ITEM_WORKERS", &c.Items.Workers)
	e.duration("ITEM_REQUEST_DELAY", &c.Items.RequestDelay)
	e.integer("ITEM_FLUSH_EVERY", &c.Items.FlushEvery)
	e.boolean("ITEM_SKIP_EXISTING", &c.Items.SkipExisting)
	e.integer("ITEM_PAGE_SIZE", &c.Items.PageSize)
	e.integer("ITEM_MAX_PAGES", &c.Items.MaxPages)

	e.str("DATA_DIR", &c.Storage.DataDir)
	e.str("CHECKPOINT_FILE", &c.Storage.CheckpointFile)
	e.str("REDIS_URL", &c.Storage.RedisURL)
	e.duration("CHECKPOINT_TTL", &c.Storage.CheckpointTTL)
	e.str("MINIO_ENDPOINT", &c.Storage.MinIO.Endpoint)
	e.str("MINIO_ACCESS_KEY", &c.Storage.MinIO.AccessKey)
	e.str("MINIO_SECRET_KEY", &c.Storage.MinIO.SecretKey)
	e.str("MINIO_BUCKET", &c.Storage.MinIO.Bucket)
	e.str("MINIO_PREFIX", &c.Storage.MinIO.Prefix)
	e.str("MINIO_REGION", &c.Storage.MinIO.Region)
	e.boolean("MINIO_USE_SSL", &c.Storage.MinIO.UseSSL)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.boolean("LOG_PRETTY", &c.Log.Pretty)
	e.str("METRICS_ADDR", &c.MetricsAddr)

	if len(e.errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(e.errs...))
	}
	return nil
}

// envReader applies non-empty variables and collects parse errors.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

// duration accepts Go durations ("5s") or plain seconds ("5").
func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(secs * float64(time.Second))
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
