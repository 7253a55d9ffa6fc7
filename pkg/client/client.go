// Package client runs queries on a Redash query engine: it submits a refresh
// job, polls it to completion and fetches the materialized result.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/redash-extract/pkg/cache"
	"github.com/Sternrassler/redash-extract/pkg/ratelimit"
	"github.com/Sternrassler/redash-extract/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for query engine requests.
var (
	redashRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redash_requests_total",
		Help: "Total Redash API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	redashRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redash_request_duration_seconds",
		Help:    "Redash API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	redashQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redash_queries_total",
		Help: "Total orchestrated queries by outcome",
	}, []string{"outcome"})
)

// Endpoint labels.
const (
	endpointSubmit = "submit"
	endpointJob    = "job"
	endpointResult = "query_result"
)

// QueryID identifies a predefined query on the engine.
type QueryID string

// Params are passed verbatim to the query engine.
type Params map[string]any

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://redash.example.com/api
	BaseURL string

	// APIKey is sent as "Authorization: Key <APIKey>" on every request
	APIKey string

	// UserAgent header, optional
	UserAgent string

	// HTTPTimeout bounds a single HTTP exchange
	HTTPTimeout time.Duration

	// Retry policies
	Submit retry.Policy
	Poll   retry.Policy
	Query  retry.Policy

	// Limiter paces requests; nil disables pacing
	Limiter *ratelimit.Limiter

	// Cache stores query results; nil or CacheTTL <= 0 disables caching
	Cache    *cache.Manager
	CacheTTL time.Duration
}

// DefaultConfig returns the configuration the extraction job runs with.
func DefaultConfig(baseURL, apiKey string) Config {
	poll := retry.Policy{
		Name:    "poll",
		Delay:   10 * time.Second,
		RetryIf: retry.Never,
	}
	return Config{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		UserAgent:   "redash-extract",
		HTTPTimeout: 60 * time.Second,
		Submit:      retry.Fixed("submit", 3, 10*time.Second),
		Poll:        poll,
		Query:       retry.Fixed("query", 20, 5*time.Second),
	}
}

// Client talks to the query engine.
type Client struct {
	httpClient *http.Client
	baseURL    string
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("base url must be http(s) (got %q)", cfg.BaseURL)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}

	logger := log.With().Str("component", "redash-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		config:  cfg,
		logger:  logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// doJSON sends one request and decodes the JSON response into out.
// Numbers are decoded as json.Number.
func (c *Client) doJSON(ctx context.Context, op, endpoint, method, path string, body, out any) error {
	if err := c.config.Limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Key "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("Executing Redash request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	redashRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		redashRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return &ConnectivityError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	redashRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Redash request error")
		return &ConnectivityError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &ConnectivityError{Op: op, Err: err}
		}
		return &ParseError{Op: op, Field: "body", Err: err}
	}
	return nil
}
