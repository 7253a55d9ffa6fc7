// Package ratelimit paces requests against the query engine so batch runs do
// not flood the server.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redash_rate_limit_throttles_total",
		Help: "Total number of requests delayed by the request limiter",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "redash_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a request token",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// Limiter gates outgoing requests with a token bucket.
// A nil *Limiter allows every request.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a limiter allowing rps requests per second with the given burst.
// It returns nil when rps is zero or negative, which disables pacing.
func New(rps float64, burst int, logger zerolog.Logger) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if l.limiter.Allow() {
		return nil
	}

	rateLimitThrottlesTotal.Inc()
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for request token: %w", err)
	}
	waited := time.Since(start)
	rateLimitWaitSeconds.Observe(waited.Seconds())

	l.logger.Debug().
		Dur("waited", waited).
		Msg("Request throttled")
	return nil
}

// Rate returns the configured requests per second, or 0 when disabled.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	return float64(l.limiter.Limit())
}
