// Package cache memoizes collector queries and analysis calls behind a
// pluggable, TTL-aware key/value store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultTTL applies when Put is called with a non-positive ttl.
const DefaultTTL = time.Hour

// Cache is the shared memo store. Implementations must be safe for
// concurrent use by multiple jobs.
type Cache interface {
	// Get returns the value and true on hit; a miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores value under key for ttl (DefaultTTL when ttl <= 0).
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Sweeper is implemented by backends that need explicit expiry cleanup.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Closer is implemented by backends holding connections or files.
type Closer interface {
	Close() error
}

// Key derives a stable cache key from the call inputs. The query is
// normalized (lowercased, whitespace collapsed) so trivially different
// spellings of the same request share an entry.
func Key(source, query, task string) string {
	normalized := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(source)),
		NormalizeQuery(query),
		strings.ToLower(strings.TrimSpace(task)),
	}, "|")
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

// NormalizeQuery lowercases q and collapses runs of whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// GetJSON decodes a cached JSON value into T.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var out T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, eris.Wrap(err, "cache: decode cached value")
	}
	return out, true, nil
}

// PutJSON encodes v and stores it.
func PutJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "cache: encode value")
	}
	return c.Put(ctx, key, raw, ttl)
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
