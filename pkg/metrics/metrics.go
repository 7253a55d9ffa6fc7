// Package metrics holds the job-level collectors and pushes the default
// registry to a Prometheus Pushgateway when a run ends.
//
// Component metrics are defined in their own packages:
//
// Retry (pkg/retry):
//   - redash_retries_total{operation} (Counter)
//   - redash_retry_wait_seconds{operation} (Histogram)
//   - redash_retry_exhausted_total{operation} (Counter)
//
// Requests (pkg/client):
//   - redash_requests_total{endpoint, status} (Counter)
//   - redash_request_duration_seconds{endpoint} (Histogram)
//   - redash_queries_total{outcome} (Counter)
//
// Pagination (pkg/pagination):
//   - redash_pages_fetched_total (Counter)
//   - redash_duplicate_rows_removed_total (Counter)
//
// Pacing (pkg/ratelimit):
//   - redash_rate_limit_throttles_total (Counter)
//   - redash_rate_limit_wait_seconds (Histogram)
//
// Cache (pkg/cache):
//   - redash_cache_hits_total, redash_cache_misses_total (Counter)
//   - redash_cache_size_bytes (Gauge)
//   - redash_cache_errors_total{operation} (Counter)
//
// Publishing (pkg/publish):
//   - redash_files_uploaded_total{backend} (Counter)
//   - redash_upload_errors_total{backend} (Counter)
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry is the registerer all collectors are added to.
var Registry = prometheus.DefaultRegisterer

// Job-level metrics.
var (
	RunDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redash_extract_run_duration_seconds",
		Help: "Duration of the last extraction run",
	})

	LastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redash_extract_last_success_timestamp_seconds",
		Help: "Unix time of the last run that finished without error",
	})

	DatesFailed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redash_extract_dates_failed",
		Help: "Number of report dates skipped in the last run",
	})

	RowsWritten = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "redash_extract_rows_written",
		Help: "Rows written in the last run by report",
	}, []string{"report"})
)

// PushConfig configures the Pushgateway push.
type PushConfig struct {
	// URL of the Pushgateway, e.g. http://pushgateway:9091
	URL string

	// Job is the job label
	Job string

	// Grouping adds grouping labels, e.g. instance
	Grouping map[string]string

	// Timeout bounds the push
	Timeout time.Duration
}

// Push sends every metric of the default gatherer to the Pushgateway,
// replacing the previous push of the same job and grouping.
func Push(ctx context.Context, cfg PushConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if cfg.Job == "" {
		cfg.Job = "redash_extract"
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	pusher := push.New(cfg.URL, cfg.Job).Gatherer(prometheus.DefaultGatherer)
	for name, value := range cfg.Grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
