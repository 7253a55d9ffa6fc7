//go:build integration

package client

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/redash-extract/internal/testutil"
	"github.com/Sternrassler/redash-extract/pkg/cache"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: endpoint})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newCachingClient(t *testing.T, mock *testutil.MockRedash, redisClient *redis.Client, ttl time.Duration) *Client {
	t.Helper()

	cfg := DefaultConfig(mock.URL(), "test-token")
	noWait := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	cfg.Submit.Sleep, cfg.Poll.Sleep, cfg.Query.Sleep = noWait, noWait, noWait
	cfg.Cache = cache.NewManager(redisClient)
	cfg.CacheTTL = ttl

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

// TestQuery_CacheHit tests the full flow: submit, poll, fetch, cache store,
// then a second query served from Redis.
func TestQuery_CacheHit(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockRedash()
	defer mock.Close()

	mock.SetStaticQuery("341", testutil.QueryResult{
		Statuses: []int{testutil.StatusQueued, testutil.StatusStarted, testutil.StatusFinished},
		Columns:  []string{"tracking_id", "weight"},
		Rows: []map[string]any{
			{"tracking_id": "NV001", "weight": 1.5},
			{"tracking_id": "NV002", "weight": 2},
		},
	})

	c := newCachingClient(t, mock, redisClient, time.Minute)
	ctx := context.Background()
	params := Params{"start": "2026-10-18", "end": "2026-10-18", "OFFSET": 0, "no_of_row": 50000}

	ds1, err := c.Query(ctx, "341", params)
	if err != nil {
		t.Fatalf("Query 1 failed: %v", err)
	}
	if ds1.Len() != 2 {
		t.Errorf("Query 1 rows = %d, want 2", ds1.Len())
	}

	ds2, err := c.Query(ctx, "341", params)
	if err != nil {
		t.Fatalf("Query 2 failed: %v", err)
	}
	if ds2.Len() != 2 {
		t.Errorf("Query 2 rows = %d, want 2", ds2.Len())
	}
	if got := len(mock.Submissions("341")); got != 1 {
		t.Errorf("Submissions = %d, want 1 (second query from cache)", got)
	}

	// Different parameters miss the cache
	params["OFFSET"] = 50000
	if _, err := c.Query(ctx, "341", params); err != nil {
		t.Fatalf("Query 3 failed: %v", err)
	}
	if got := len(mock.Submissions("341")); got != 2 {
		t.Errorf("Submissions = %d, want 2", got)
	}
}

// TestQuery_CacheExpires tests that expired results are fetched again.
func TestQuery_CacheExpires(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockRedash()
	defer mock.Close()

	mock.SetStaticQuery("7", testutil.QueryResult{
		Columns: []string{"n"},
		Rows:    []map[string]any{{"n": 1}},
	})

	c := newCachingClient(t, mock, redisClient, time.Second)
	ctx := context.Background()

	if _, err := c.Query(ctx, "7", nil); err != nil {
		t.Fatalf("Query 1 failed: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := c.Query(ctx, "7", nil); err != nil {
		t.Fatalf("Query 2 failed: %v", err)
	}
	if got := len(mock.Submissions("7")); got != 2 {
		t.Errorf("Submissions = %d, want 2 after expiry", got)
	}
}

// TestQuery_NoCacheOnFailure tests that failed queries are not cached.
func TestQuery_NoCacheOnFailure(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockRedash()
	defer mock.Close()

	mock.SetQuery("9", func(_ map[string]any, submission int) testutil.QueryResult {
		if submission == 1 {
			return testutil.QueryResult{Statuses: []int{testutil.StatusFailed}, JobError: "timeout"}
		}
		return testutil.QueryResult{Columns: []string{"n"}, Rows: []map[string]any{{"n": 1}}}
	})

	c := newCachingClient(t, mock, redisClient, time.Minute)
	ctx := context.Background()

	// First attempt fails, the query policy resubmits
	if _, err := c.Query(ctx, "9", nil); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if _, err := c.Query(ctx, "9", nil); err != nil {
		t.Fatalf("Cached query failed: %v", err)
	}
	if got := len(mock.Submissions("9")); got != 2 {
		t.Errorf("Submissions = %d, want 2", got)
	}
}
