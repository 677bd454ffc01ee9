// Package client provides the resilient PNCP HTTP fetcher with retry,
// request pacing, and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/pncp-sync/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for PNCP client operations.
var (
	pncpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_requests_total",
		Help: "Total PNCP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	pncpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pncp_request_duration_seconds",
		Help:    "PNCP logical request duration in seconds (all attempts) by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	pncpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_errors_total",
		Help: "Total PNCP request errors by class",
	}, []string{"class"})
)

// DefaultUserAgent identifies the collector to the API.
const DefaultUserAgent = "PNCP-Collector/1.0"

// Fetcher is the behaviour paginators and collectors depend on.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Request describes one logical GET.
type Request struct {
	URL   string
	Query url.Values

	// EmptyOnNotFound turns a 404 into an empty successful response instead
	// of a client error. Item endpoints answer 404 for listings without items.
	EmptyOnNotFound bool

	// Label is the endpoint name used in metrics and logs. Defaults to the URL path.
	Label string
}

func (r Request) fullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	return r.URL + "?" + r.Query.Encode()
}

func (r Request) label() string {
	if r.Label != "" {
		return r.Label
	}
	if u, err := url.Parse(r.URL); err == nil && u.Path != "" {
		return u.Path
	}
	return r.URL
}

// Response is the outcome of a successful logical request.
type Response struct {
	StatusCode int
	Body       []byte

	// Empty is set for 204 responses and for 404s on requests that opted in.
	Empty bool

	Attempts int
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request.
	UserAgent string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// Retry controls how failed attempts are retried.
	Retry RetryPolicy

	// RequestsPerSecond caps the global request rate. Zero disables it.
	RequestsPerSecond float64

	// MaxIdleConnsPerHost sizes the shared connection pool. Parallel
	// pagination and item workers reuse these connections.
	MaxIdleConnsPerHost int

	// HTTPClient overrides the default transport (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:           DefaultUserAgent,
		Timeout:             30 * time.Second,
		Retry:               DefaultRetryPolicy(),
		MaxIdleConnsPerHost: 10,
	}
}

// Client is the PNCP fetcher. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new PNCP client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	if cfg.Retry.Delay < 0 {
		return nil, fmt.Errorf("retry delay must not be negative (got %s)", cfg.Retry.Delay)
	}

	if cfg.Retry.Multiplier != 0 && cfg.Retry.Multiplier < 1 {
		return nil, fmt.Errorf("backoff multiplier must be >= 1 (got %g)", cfg.Retry.Multiplier)
	}

	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter >= 1 {
		return nil, fmt.Errorf("jitter must be in [0, 1) (got %g)", cfg.Retry.Jitter)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.MaxIdleConnsPerHost > 0 {
			transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}

	return &Client{
		httpClient: httpClient,
		limiter:    ratelimit.PerSecond("global", cfg.RequestsPerSecond, 1),
		config:     cfg,
		logger:     log.With().Str("component", "pncp-client").Logger(),
	}, nil
}

// Fetch performs a GET with retry and backoff. Retriable failures (5xx, 429,
// transport errors) are retried up to Retry.MaxAttempts; client errors are
// not. Every failure is returned as a *FetchError.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	endpoint := req.label()
	target := req.fullURL()

	startTime := time.Now()
	defer func() {
		pncpRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", target).
		Msg("Executing PNCP request")

	var resp *Response
	attempts, err := retryWithBackoff(ctx, c.config.Retry, func(attempt int) error {
		r, err := c.do(ctx, req, endpoint, target)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, func(err error) ErrorClass {
		var fe *FetchError
		if errors.As(err, &fe) {
			return fe.Class
		}
		return ErrorClassNetwork
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.URL == "" {
			fe.URL = target
		}
		return nil, err
	}

	resp.Attempts = attempts
	return resp, nil
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, req Request, endpoint, target string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("%w: %w", ErrContextCancelled, err)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("%w: %w", ErrContextCancelled, err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		// malformed URL: retrying cannot help
		return nil, &FetchError{URL: target, Class: ErrorClassClient, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &FetchError{URL: target, Err: fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())}
		}
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		pncpErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		pncpRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &FetchError{URL: target, Class: ErrorClassNetwork, Err: err}
	}
	defer httpResp.Body.Close()

	status := strconv.Itoa(httpResp.StatusCode)

	if httpResp.StatusCode == http.StatusNotFound && req.EmptyOnNotFound {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		pncpRequestsTotal.WithLabelValues(endpoint, status).Inc()
		return &Response{StatusCode: httpResp.StatusCode, Empty: true}, nil
	}

	if errClass := classifyStatus(httpResp.StatusCode); errClass != "" {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		pncpErrorsTotal.WithLabelValues(string(errClass)).Inc()
		pncpRequestsTotal.WithLabelValues(endpoint, status).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", httpResp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("PNCP request error")

		return nil, &FetchError{
			URL:        target,
			StatusCode: httpResp.StatusCode,
			Class:      errClass,
			Err:        errors.New(httpResp.Status),
		}
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		// connection dropped mid-body
		pncpErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		pncpRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &FetchError{URL: target, StatusCode: httpResp.StatusCode, Class: ErrorClassNetwork, Err: fmt.Errorf("read body: %w", err)}
	}

	pncpRequestsTotal.WithLabelValues(endpoint, status).Inc()
	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Empty:      httpResp.StatusCode == http.StatusNoContent || len(body) == 0,
	}, nil
}
