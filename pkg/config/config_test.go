package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"page size", cfg.Pagination.PageSize, 50},
		{"attempts", cfg.API.MaxAttempts, 3},
		{"retry delay", cfg.API.RetryDelay, 5 * time.Second},
		{"multiplier", cfg.API.RetryMultiplier, 1.0},
		{"timeout", cfg.API.Timeout, 30 * time.Second},
		{"page workers", cfg.Pagination.Workers, 5},
		{"item workers", cfg.Items.Workers, 5},
		{"item delay", cfg.Items.RequestDelay, 200 * time.Millisecond},
		{"flush every", cfg.Items.FlushEvery, 100},
		{"page delay", cfg.Pagination.PageDelay, 500 * time.Millisecond},
		{"checkpoint interval", cfg.Pagination.CheckpointInterval, 50},
		{"batch timeout", cfg.Pagination.BatchTimeout, 60 * time.Second},
		{"result timeout", cfg.Pagination.ResultTimeout, 5 * time.Second},
		{"consecutive errors", cfg.Pagination.MaxConsecutiveErrors, 3},
		{"modality", cfg.Sync.Modality, 6},
		{"window", cfg.Sync.WindowDays, 15},
		{"skip existing", cfg.Items.SkipExisting, true},
		{"reset on complete", cfg.Pagination.ResetCheckpointOnComplete, true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pncp.yaml")
	yamlDoc := `
api:
  base_url: https://example.test/api/consulta/v1
  retry_delay: 2s
sync:
  window_days: 7
  parallel: false
items:
  workers: 3
storage:
  data_dir: /var/lib/pncp
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv("ITEM_WORKERS", "8")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "https://example.test/api/consulta/v1" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %v, want 2s", cfg.API.RetryDelay)
	}
	if cfg.Sync.WindowDays != 7 || cfg.Sync.Parallel {
		t.Errorf("Sync = %+v, want 7 days sequential", cfg.Sync)
	}
	if cfg.Items.Workers != 8 {
		t.Errorf("Items.Workers = %d, want env override 8", cfg.Items.Workers)
	}
	if cfg.Storage.RedisURL != "redis://localhost:6379/2" {
		t.Errorf("RedisURL = %q", cfg.Storage.RedisURL)
	}
	// untouched keys keep their defaults
	if cfg.Items.FlushEvery != 100 {
		t.Errorf("FlushEvery = %d, want default 100", cfg.Items.FlushEvery)
	}
	if cfg.ListingsURL() != "https://example.test/api/consulta/v1/contratacoes/proposta" {
		t.Errorf("ListingsURL() = %q", cfg.ListingsURL())
	}
	if cfg.CheckpointPath() != "/var/lib/pncp/.editais_checkpoint.json" {
		t.Errorf("CheckpointPath() = %q", cfg.CheckpointPath())
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() missing file error = nil")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("api: [unclosed"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("Load() malformed yaml error = nil")
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(Config) bool
		wantErr string
	}{
		{
			name:  "duration as seconds",
			env:   map[string]string{"RETRY_DELAY": "1.5"},
			check: func(c Config) bool { return c.API.RetryDelay == 1500*time.Millisecond },
		},
		{
			name:  "duration as go string",
			env:   map[string]string{"ITEM_REQUEST_DELAY": "250ms"},
			check: func(c Config) bool { return c.Items.RequestDelay == 250*time.Millisecond },
		},
		{
			name:  "blank value ignored",
			env:   map[string]string{"PAGE_SIZE": "  "},
			check: func(c Config) bool { return c.Pagination.PageSize == 50 },
		},
		{
			name: "minio settings",
			env: map[string]string{
				"MINIO_ENDPOINT": "http://localhost:9000",
				"MINIO_BUCKET":   "snapshots",
				"MINIO_USE_SSL":  "true",
			},
			check: func(c Config) bool {
				o := c.ObjectStore()
				return o.Endpoint == "http://localhost:9000" && o.Bucket == "snapshots" && o.UseSSL
			},
		},
		{
			name:    "bad integer",
			env:     map[string]string{"PAGE_WORKERS": "five"},
			wantErr: "PAGE_WORKERS",
		},
		{
			name:    "bad bool",
			env:     map[string]string{"SYNC_PARALLEL": "maybe"},
			wantErr: "SYNC_PARALLEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.applyEnv(envMap(tt.env))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("applyEnv() error = %v, want mention of %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("applyEnv() error = %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("applyEnv() config = %+v", cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }, "api.base_url"},
		{"relative items url", func(c *Config) { c.API.ItemsBaseURL = "/api/pncp" }, "api.items_base_url"},
		{"zero attempts", func(c *Config) { c.API.MaxAttempts = 0 }, "api.max_attempts"},
		{"shrinking backoff", func(c *Config) { c.API.RetryMultiplier = 0.5 }, "api.retry_multiplier"},
		{"no workers", func(c *Config) { c.Pagination.Workers = 0 }, "pagination.workers"},
		{"no flush", func(c *Config) { c.Items.FlushEvery = 0 }, "items.flush_every"},
		{"minio without bucket", func(c *Config) {
			c.Storage.MinIO.Endpoint = "localhost:9000"
			c.Storage.MinIO.Bucket = ""
		}, "storage.minio.bucket"},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestComponentConfigs(t *testing.T) {
	cfg := Default()
	cfg.API.RecordBaseURL = ""
	cfg.API.ItemsBaseURL = "https://example.test/api/pncp/v1/"

	ep := cfg.Endpoints()
	if ep.ItemsBaseURL != "https://example.test/api/pncp/v1" || ep.RecordBaseURL != ep.ItemsBaseURL {
		t.Errorf("Endpoints() = %+v", ep)
	}

	par := cfg.Parallel()
	if !par.ResetOnComplete || par.Workers != 5 || par.PageSize != 50 {
		t.Errorf("Parallel() = %+v", par)
	}

	seq := cfg.Sequential()
	if seq.PageDelay != 500*time.Millisecond || seq.MaxConsecutiveErrors != 3 {
		t.Errorf("Sequential() = %+v", seq)
	}

	cc := cfg.Client()
	if cc.Retry.MaxAttempts != 3 || cc.Retry.Multiplier != 1.0 || cc.MaxIdleConnsPerHost < 10 {
		t.Errorf("Client() = %+v", cc)
	}

	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	f := cfg.Filter(now)
	if f.Modality != 6 || !f.Since.Equal(now.AddDate(0, 0, -15)) {
		t.Errorf("Filter() = %+v", f)
	}
}
