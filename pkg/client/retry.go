package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	pncpRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	pncpRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pncp_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	pncpRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy holds the configuration for retry logic.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// Delay is the wait before the second attempt.
	Delay time.Duration

	// Multiplier scales the delay per attempt: Delay * Multiplier^(attempt-1).
	// 1.0 keeps the delay constant.
	Multiplier float64

	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration

	// Jitter randomizes each wait by ±Jitter (0.2 = ±20%). Zero disables it.
	Jitter float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       5 * time.Second,
		Multiplier:  1.0,
		MaxDelay:    60 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.Delay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d *= 1 - p.Jitter + rand.Float64()*2*p.Jitter
	}
	return time.Duration(d)
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retriable
// class, or the policy's attempts are spent. It returns the attempt count.
// The returned error is always a *FetchError.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, fn func(attempt int) error, classify func(error) ErrorClass) (int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var errClass ErrorClass

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("error_class", string(errClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err
		errClass = classify(err)

		if !shouldRetry(errClass) {
			return attempt, asFetchError(err, errClass, attempt, false)
		}

		if attempt >= maxAttempts {
			break
		}

		pncpRetriesTotal.WithLabelValues(string(errClass)).Inc()

		backoff := policy.Backoff(attempt)
		pncpRetryBackoffSeconds.WithLabelValues(string(errClass)).Observe(backoff.Seconds())

		log.Warn().
			Err(err).
			Str("error_class", string(errClass)).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn().
				Str("error_class", string(errClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return attempt, asFetchError(fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err()), errClass, attempt, false)
		case <-timer.C:
		}
	}

	pncpRetryExhaustedTotal.WithLabelValues(string(errClass)).Inc()
	log.Warn().
		Err(lastErr).
		Str("error_class", string(errClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return maxAttempts, asFetchError(lastErr, errClass, maxAttempts, true)
}

func asFetchError(err error, class ErrorClass, attempts int, exhausted bool) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		out := *fe
		out.Attempts = attempts
		out.Exhausted = exhausted
		return &out
	}
	return &FetchError{
		Class:     class,
		Attempts:  attempts,
		Exhausted: exhausted,
		Err:       err,
	}
}
