// Package report runs the daily extraction: a monthly window and one
// paginated fetch per day, written as Parquet partitions and published.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/redash-extract/internal/calendar"
	"github.com/Sternrassler/redash-extract/pkg/client"
	"github.com/Sternrassler/redash-extract/pkg/dataset"
	"github.com/Sternrassler/redash-extract/pkg/metrics"
	"github.com/Sternrassler/redash-extract/pkg/pagination"
	"github.com/Sternrassler/redash-extract/pkg/publish"
	"github.com/Sternrassler/redash-extract/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNothingFetched is returned when neither the monthly window nor any day
// could be fetched.
var ErrNothingFetched = errors.New("no report data fetched")

// Fetcher runs one paginated fetch. *pagination.Fetcher implements it.
type Fetcher interface {
	FetchAll(ctx context.Context, req pagination.Request) (*dataset.Dataset, error)
}

// Query names the count and page query of a report.
type Query struct {
	CountQueryID client.QueryID
	PageQueryID  client.QueryID
	PageSize     int64
}

// Config drives a run.
type Config struct {
	Monthly      Query
	Daily        Query
	Days         int
	LookbackDays int
	Partitions   int
	Pause        time.Duration
	OutputDir    string
	DailyFile    string
	MonthlyFile  string
}

// Summary describes a finished run.
type Summary struct {
	MonthlyRows int
	MonthlyErr  error
	DailyRows   int
	DatesOK     []string
	DatesFailed []string
	Files       []string
	Uploaded    int
	Duration    time.Duration
}

// Runner executes report runs.
type Runner struct {
	fetcher   Fetcher
	publisher publish.Publisher
	calendar  *calendar.Calendar
	config    Config
	logger    zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	write func(ctx context.Context, ds *dataset.Dataset, path string) error
}

// New creates a runner. A nil publisher leaves the files in OutputDir.
func New(fetcher Fetcher, publisher publish.Publisher, cal *calendar.Calendar, cfg Config) *Runner {
	return &Runner{
		fetcher:   fetcher,
		publisher: publisher,
		calendar:  cal,
		config:    cfg,
		logger:    log.With().Str("component", "report").Logger(),
		now:       time.Now,
		sleep:     retry.Sleep,
		write:     dataset.WriteParquet,
	}
}

// Run fetches, writes and publishes one report. Failed dates and a failed
// monthly window are logged and skipped.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	now := r.now()
	summary := &Summary{}

	monthly, err := r.fetchMonthly(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.MonthlyErr = err
	} else {
		summary.MonthlyRows = monthly.Len()
	}
	if err := r.pause(ctx); err != nil {
		return summary, err
	}

	daily, err := r.fetchDaily(ctx, now, summary)
	if err != nil {
		return summary, err
	}
	summary.DailyRows = daily.Len()

	r.logger.Info().
		Int("dates_ok", len(summary.DatesOK)).
		Int("dates_failed", len(summary.DatesFailed)).
		Dur("elapsed", time.Since(start)).
		Msg("Queries finished")

	if monthly == nil && len(summary.DatesOK) == 0 {
		return summary, ErrNothingFetched
	}

	dailyFiles, monthlyFile, err := r.writeFiles(ctx, daily, monthly)
	if err != nil {
		return summary, err
	}
	summary.Files = append(summary.Files, dailyFiles...)
	if monthlyFile != "" {
		summary.Files = append(summary.Files, monthlyFile)
	}

	if r.publisher != nil {
		if err := r.publisher.Clear(ctx); err != nil {
			return summary, fmt.Errorf("clear %s: %w", r.publisher.Name(), err)
		}
		summary.Uploaded += r.upload(ctx, dailyFiles, "daily")
		if monthlyFile != "" {
			summary.Uploaded += r.upload(ctx, []string{monthlyFile}, "monthly")
		}
	}

	summary.Duration = time.Since(start)
	metrics.RowsWritten.WithLabelValues("daily").Set(float64(summary.DailyRows))
	metrics.RowsWritten.WithLabelValues("monthly").Set(float64(summary.MonthlyRows))
	metrics.DatesFailed.Set(float64(len(summary.DatesFailed)))

	r.logger.Info().
		Int("files", len(summary.Files)).
		Int("uploaded", summary.Uploaded).
		Dur("duration", summary.Duration).
		Msg("Report run complete")
	return summary, nil
}

func (r *Runner) fetchMonthly(ctx context.Context, now time.Time) (*dataset.Dataset, error) {
	startDate, endDate := r.calendar.MonthWindow(now, r.config.LookbackDays)
	r.logger.Info().
		Str("start", startDate).
		Str("end", endDate).
		Msg("Fetching monthly window")

	ds, err := r.fetcher.FetchAll(ctx, r.request(r.config.Monthly, startDate, endDate))
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("start", startDate).
			Str("end", endDate).
			Msg("Monthly window failed, monthly file skipped")
		return nil, err
	}
	return ds, nil
}

func (r *Runner) fetchDaily(ctx context.Context, now time.Time, summary *Summary) (*dataset.Dataset, error) {
	dates := r.calendar.DailyDates(now, r.config.Days)
	daily := &dataset.Dataset{}

	for i, date := range dates {
		r.logger.Info().
			Str("date", date).
			Int("step", i+1).
			Int("steps", len(dates)).
			Msg("Fetching day")

		ds, err := r.fetcher.FetchAll(ctx, r.request(r.config.Daily, date, date))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn().
				Err(err).
				Str("date", date).
				Msg("Day failed, skipped")
			summary.DatesFailed = append(summary.DatesFailed, date)
		} else {
			daily.Append(ds)
			summary.DatesOK = append(summary.DatesOK, date)
		}

		if err := r.pause(ctx); err != nil {
			return nil, err
		}
	}
	return daily, nil
}

func (r *Runner) request(q Query, startDate, endDate string) pagination.Request {
	return pagination.Request{
		CountQueryID: q.CountQueryID,
		PageQueryID:  q.PageQueryID,
		PageSize:     q.PageSize,
		Start:        startDate,
		End:          endDate,
	}
}

// writeFiles writes the daily partitions and the monthly file into
// OutputDir and returns their paths.
func (r *Runner) writeFiles(ctx context.Context, daily, monthly *dataset.Dataset) ([]string, string, error) {
	if err := os.MkdirAll(r.config.OutputDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create output dir: %w", err)
	}

	var dailyFiles []string
	if len(daily.Columns) == 0 {
		r.logger.Warn().Msg("No daily data, daily partitions skipped")
	} else {
		parts, err := daily.Split(r.config.Partitions)
		if err != nil {
			return nil, "", err
		}
		for i, part := range parts {
			path := filepath.Join(r.config.OutputDir, fmt.Sprintf(r.config.DailyFile, i+1))
			if err := r.write(ctx, part, path); err != nil {
				return nil, "", fmt.Errorf("write partition %d: %w", i+1, err)
			}
			dailyFiles = append(dailyFiles, path)
			r.logger.Info().
				Str("file", filepath.Base(path)).
				Int("rows", part.Len()).
				Msg("Partition written")
		}
	}

	var monthlyFile string
	if monthly != nil && len(monthly.Columns) > 0 {
		monthlyFile = filepath.Join(r.config.OutputDir, r.config.MonthlyFile)
		if err := r.write(ctx, monthly, monthlyFile); err != nil {
			return nil, "", fmt.Errorf("write monthly file: %w", err)
		}
		r.logger.Info().
			Str("file", r.config.MonthlyFile).
			Int("rows", monthly.Len()).
			Msg("Monthly file written")
	}
	return dailyFiles, monthlyFile, nil
}

func (r *Runner) upload(ctx context.Context, paths []string, report string) int {
	uploaded, err := publish.UploadFiles(ctx, r.publisher, paths)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("report", report).
			Msg("Upload incomplete")
	}
	return uploaded
}

func (r *Runner) pause(ctx context.Context) error {
	if r.config.Pause <= 0 {
		return ctx.Err()
	}
	return r.sleep(ctx, r.config.Pause)
}
