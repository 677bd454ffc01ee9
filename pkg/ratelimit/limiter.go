// Package ratelimit paces outgoing PNCP requests.
// The API throttles aggressively, so every paginator and item worker waits on
// a Limiter before issuing its next request. Limiters are independent: one
// instance waiting never blocks another.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	pncpThrottleWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pncp_throttle_wait_seconds",
		Help:    "Time spent waiting on request limiters by limiter name",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"limiter"})
)

// Limiter spaces requests. A nil *Limiter never waits.
type Limiter struct {
	name    string
	limiter *rate.Limiter
}

// Every returns a limiter allowing one request per interval.
// A non-positive interval yields nil (no pacing).
func Every(name string, interval time.Duration) *Limiter {
	if interval <= 0 {
		return nil
	}
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// PerSecond returns a limiter allowing rps requests per second with the given
// burst. A non-positive rps yields nil (no pacing).
func PerSecond(name string, rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Wait blocks until the next request may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s limiter: %w", l.name, err)
	}
	pncpThrottleWaitSeconds.WithLabelValues(l.name).Observe(time.Since(start).Seconds())
	return nil
}

// Name returns the limiter label used in metrics.
func (l *Limiter) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}
