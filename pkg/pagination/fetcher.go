package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/redash-extract/pkg/client"
	"github.com/Sternrassler/redash-extract/pkg/dataset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for paginated fetches.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redash_pages_fetched_total",
		Help: "Total number of page queries completed",
	})

	duplicateRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redash_duplicate_rows_removed_total",
		Help: "Total number of duplicate rows removed after pagination",
	})
)

// ErrInvalidPageSize is returned for a page size that is not positive.
var ErrInvalidPageSize = errors.New("page size must be positive")

// QueryRunner runs one query to completion. *client.Client implements it.
type QueryRunner interface {
	Query(ctx context.Context, queryID client.QueryID, params client.Params) (*dataset.Dataset, error)
}

// Config names the fields and parameters the queries use.
type Config struct {
	// CountField is the column of the count query holding the total
	CountField string

	// Parameter names of the page query
	StartParam  string
	EndParam    string
	OffsetParam string
	LimitParam  string
}

// DefaultConfig returns the names used by the order report queries.
func DefaultConfig() Config {
	return Config{
		CountField:  "total_orders",
		StartParam:  "start",
		EndParam:    "end",
		OffsetParam: "OFFSET",
		LimitParam:  "no_of_row",
	}
}

// Request describes one paginated fetch.
type Request struct {
	CountQueryID client.QueryID
	PageQueryID  client.QueryID
	PageSize     int64
	Start        string
	End          string
}

// Fetcher runs paginated fetches sequentially.
type Fetcher struct {
	runner QueryRunner
	config Config
}

// New creates a new fetcher. Empty config fields take their default.
func New(runner QueryRunner, config Config) *Fetcher {
	def := DefaultConfig()
	if config.CountField == "" {
		config.CountField = def.CountField
	}
	if config.StartParam == "" {
		config.StartParam = def.StartParam
	}
	if config.EndParam == "" {
		config.EndParam = def.EndParam
	}
	if config.OffsetParam == "" {
		config.OffsetParam = def.OffsetParam
	}
	if config.LimitParam == "" {
		config.LimitParam = def.LimitParam
	}
	return &Fetcher{runner: runner, config: config}
}

// PageCount returns how many page queries a total needs.
func PageCount(total, pageSize int64) int64 {
	return total/pageSize + 1
}

// FetchAll runs the count query, then every page query, and returns the
// deduplicated concatenation of the pages. Any failed query aborts the fetch.
func (f *Fetcher) FetchAll(ctx context.Context, req Request) (*dataset.Dataset, error) {
	if req.PageSize <= 0 {
		return nil, fmt.Errorf("fetch %s: %w (got %d)", req.PageQueryID, ErrInvalidPageSize, req.PageSize)
	}
	start := time.Now()

	total, err := f.Total(ctx, req)
	if err != nil {
		return nil, err
	}
	pages := PageCount(total, req.PageSize)

	log.Info().
		Str("query_id", string(req.PageQueryID)).
		Str("start", req.Start).
		Str("end", req.End).
		Int64("total", total).
		Int64("pages", pages).
		Msg("Starting paginated fetch")

	acc := &dataset.Dataset{}
	for offset, page := int64(0), int64(1); offset <= total && page <= pages; offset, page = offset+req.PageSize, page+1 {
		params := client.Params{
			f.config.StartParam:  req.Start,
			f.config.EndParam:    req.End,
			f.config.OffsetParam: offset,
			f.config.LimitParam:  req.PageSize,
		}
		ds, err := f.runner.Query(ctx, req.PageQueryID, params)
		if err != nil {
			return nil, fmt.Errorf("page %d/%d (offset %d): %w", page, pages, offset, err)
		}
		acc.Append(ds)
		pagesFetchedTotal.Inc()

		log.Debug().
			Int64("page", page).
			Int64("pages", pages).
			Int("rows", ds.Len()).
			Msg("Page fetched")
	}

	removed := acc.Dedup()
	duplicateRowsTotal.Add(float64(removed))

	log.Info().
		Str("query_id", string(req.PageQueryID)).
		Int("rows", acc.Len()).
		Int("duplicates_removed", removed).
		Dur("duration", time.Since(start)).
		Msg("Paginated fetch complete")

	return acc, nil
}

// Total runs the count query of req and returns the reported total.
func (f *Fetcher) Total(ctx context.Context, req Request) (int64, error) {
	ds, err := f.runner.Query(ctx, req.CountQueryID, client.Params{
		f.config.StartParam: req.Start,
		f.config.EndParam:   req.End,
	})
	if err != nil {
		return 0, fmt.Errorf("count query %s: %w", req.CountQueryID, err)
	}

	value, ok := ds.Value(0, f.config.CountField)
	if !ok {
		return 0, &client.ParseError{Op: "count", Field: f.config.CountField, Err: client.ErrMissingField}
	}
	total, err := parseTotal(value)
	if err != nil {
		return 0, &client.ParseError{Op: "count", Field: f.config.CountField, Err: err}
	}
	return total, nil
}

// parseTotal accepts JSON numbers and numeric strings holding a non-negative
// integral value.
func parseTotal(v any) (int64, error) {
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(n)
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		s = strconv.Itoa(n)
	case int64:
		s = strconv.FormatInt(n, 10)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}

	total, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
			return 0, fmt.Errorf("not an integer: %q", s)
		}
		total = int64(f)
	}
	if total < 0 {
		return 0, fmt.Errorf("negative total: %d", total)
	}
	return total, nil
}
