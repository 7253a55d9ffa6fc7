package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CacheKey identifies a cached query result.
type CacheKey struct {
	// QueryID is the query engine's query identifier (e.g. "345").
	QueryID string

	// Params are the parameters the query ran with.
	Params map[string]any
}

// String generates a deterministic cache key string.
// Format: redash:query:<id>:param1=val1:param2=val2
//
// Example:
//
//	redash:query:341:end=2026-10-18:no_of_row=50000:OFFSET=0:start=2026-10-18
func (k CacheKey) String() string {
	parts := []string{"redash", "query", k.QueryID}

	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
			if li != lj {
				return li < lj
			}
			return keys[i] < keys[j]
		})

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, formatParam(k.Params[key])))
		}
	}

	return strings.Join(parts, ":")
}

func formatParam(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	}
	if encoded, err := json.Marshal(v); err == nil {
		return string(encoded)
	}
	return fmt.Sprintf("%v", v)
}
