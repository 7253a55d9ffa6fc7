package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/redash-extract/pkg/cache"
	"github.com/Sternrassler/redash-extract/pkg/dataset"
	"github.com/Sternrassler/redash-extract/pkg/retry"
)

type resultResponse struct {
	QueryResult *struct {
		Data *struct {
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
			Rows []dataset.Row `json:"rows"`
		} `json:"data"`
	} `json:"query_result"`
}

// FetchResult retrieves the materialized rows of resultID. It does not retry.
func (c *Client) FetchResult(ctx context.Context, resultID string) (*dataset.Dataset, error) {
	const op = "fetch"

	var resp resultResponse
	path := "/query_results/" + url.PathEscape(resultID)
	if err := c.doJSON(ctx, op, endpointResult, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.QueryResult == nil || resp.QueryResult.Data == nil {
		return nil, missingField(op, "query_result.data")
	}
	data := resp.QueryResult.Data
	if data.Rows == nil {
		return nil, missingField(op, "query_result.data.rows")
	}

	columns := make([]string, 0, len(data.Columns))
	for _, col := range data.Columns {
		columns = append(columns, col.Name)
	}
	return dataset.New(columns, data.Rows), nil
}

// Query runs queryID end to end: submit, wait for the job and fetch the
// result. The whole pipeline is retried with the query policy, so a failed
// fetch submits the query again.
func (c *Client) Query(ctx context.Context, queryID QueryID, params Params) (*dataset.Dataset, error) {
	key := cache.CacheKey{QueryID: string(queryID), Params: params}
	if ds, ok := c.cached(ctx, key); ok {
		return ds, nil
	}

	start := time.Now()
	ds, err := retry.DoValue(ctx, c.config.Query, func(ctx context.Context) (*dataset.Dataset, error) {
		return c.runOnce(ctx, queryID, params)
	}, nil)
	if err != nil {
		redashQueriesTotal.WithLabelValues("error").Inc()
		c.logger.Error().
			Err(err).
			Str("query_id", string(queryID)).
			Msg("Query failed")
		return nil, err
	}
	redashQueriesTotal.WithLabelValues("success").Inc()

	c.logger.Info().
		Str("query_id", string(queryID)).
		Int("rows", ds.Len()).
		Dur("duration", time.Since(start)).
		Msg("Query completed")

	c.store(ctx, key, ds)
	return ds, nil
}

func (c *Client) runOnce(ctx context.Context, queryID QueryID, params Params) (*dataset.Dataset, error) {
	jobID, err := c.Submit(ctx, queryID, params)
	if err != nil {
		return nil, err
	}
	resultID, err := c.WaitForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return c.FetchResult(ctx, resultID)
}

func (c *Client) cachingEnabled() bool {
	return c.config.Cache != nil && c.config.CacheTTL > 0
}

func (c *Client) cached(ctx context.Context, key cache.CacheKey) (*dataset.Dataset, bool) {
	if !c.cachingEnabled() {
		return nil, false
	}
	entry, err := c.config.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		return nil, false
	}
	redashQueriesTotal.WithLabelValues("cached").Inc()
	c.logger.Debug().Str("key", key.String()).Msg("Serving query from cache")
	return entry.Dataset(), true
}

func (c *Client) store(ctx context.Context, key cache.CacheKey, ds *dataset.Dataset) {
	if !c.cachingEnabled() {
		return
	}
	if err := c.config.Cache.Set(ctx, key, cache.NewEntry(ds, c.config.CacheTTL)); err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache result")
		return
	}
	c.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", c.config.CacheTTL).
		Msg("Cached result")
}
