package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/redash-extract/pkg/dataset"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips the test when none is
// reachable. The integration suite runs the same checks against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testEntry(expires time.Time) *CacheEntry {
	return &CacheEntry{
		Columns: []string{"tracking_id", "weight"},
		Rows: []dataset.Row{
			{"tracking_id": "NV001", "weight": json.Number("1.25")},
			{"tracking_id": "NV002", "weight": json.Number("3")},
		},
		Expires:  expires,
		CachedAt: time.Now(),
	}
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client)
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	runSetAndGet(t, NewManager(setupTestRedis(t)))
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	_, err := manager.Get(context.Background(), CacheKey{QueryID: "404"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Set_ExpiredEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := CacheKey{QueryID: "341"}

	// Set should not cache expired entries
	if err := manager.Set(ctx, key, testEntry(time.Now().Add(-time.Hour))); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestManager_Get_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()
	key := CacheKey{QueryID: "341"}

	if err := client.Set(ctx, key.String(), "not json", time.Minute).Err(); err != nil {
		t.Fatalf("raw set failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := CacheKey{QueryID: "341", Params: map[string]any{"start": "2026-10-01"}}

	if err := manager.Set(ctx, key, testEntry(time.Now().Add(5*time.Minute))); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}

	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	if err := manager.Set(context.Background(), CacheKey{QueryID: "1"}, nil); err == nil {
		t.Error("Set with nil entry should return error")
	}
}

// runSetAndGet is shared with the container-backed integration test.
func runSetAndGet(t *testing.T, manager *Manager) {
	t.Helper()
	ctx := context.Background()

	key := CacheKey{
		QueryID: "345",
		Params:  map[string]any{"start": "2026-08-01", "end": "2026-10-19", "OFFSET": 0},
	}
	entry := testEntry(time.Now().Add(5 * time.Minute))

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(retrieved.Rows) != 2 {
		t.Fatalf("Rows = %d, want 2", len(retrieved.Rows))
	}
	if got := retrieved.Rows[0]["weight"]; got != json.Number("1.25") {
		t.Errorf("weight = %#v, want json.Number(1.25)", got)
	}
	if retrieved.Columns[0] != "tracking_id" {
		t.Errorf("Columns = %v, want tracking_id first", retrieved.Columns)
	}
}
