package cache

import (
	"time"

	"github.com/Sternrassler/redash-extract/pkg/dataset"
)

// CacheEntry represents a cached query result.
type CacheEntry struct {
	// Columns is the ordered column list of the result.
	Columns []string `json:"columns"`

	// Rows are the result rows.
	Rows []dataset.Row `json:"rows"`

	// Expires is when the cache entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this result.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry creates an entry for ds valid for ttl.
func NewEntry(ds *dataset.Dataset, ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Columns:  ds.Columns,
		Rows:     ds.Rows,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// Dataset returns the cached result as a dataset.
func (e *CacheEntry) Dataset() *dataset.Dataset {
	return dataset.New(e.Columns, e.Rows)
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
