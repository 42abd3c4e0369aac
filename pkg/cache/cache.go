// Package cache provides the working-set and search caches. Both are pure
// derived data: a cold cache must produce identical results to a warm one.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Stats are the per-tenant observability counters kept alongside the caches.
type Stats struct {
	Writes            int64 `json:"writes"`
	Searches          int64 `json:"searches"`
	Dedupes           int64 `json:"dedupes"`
	SearchCacheHits   int64 `json:"search_cache_hits"`
	SearchCacheMisses int64 `json:"search_cache_misses"`
}

// Cache is the contract shared by the in-process and Redis backends.
type Cache interface {
	// Working set: bounded, TTL-based per-scope recent item ids.
	PushWorkingSet(ctx context.Context, tenantID, scopeID, memoryID string) error
	WorkingSet(ctx context.Context, tenantID, scopeID string) ([]string, error)

	// Search cache: memoized serialized results keyed by query fingerprint.
	GetSearch(ctx context.Context, tenantID, scopeID, fingerprint string) ([]byte, bool, error)
	SetSearch(ctx context.Context, tenantID, scopeID, fingerprint string, payload []byte) error
	InvalidateScope(ctx context.Context, tenantID, scopeID string) error

	// Observability counters; best-effort.
	RecordWrite(ctx context.Context, tenantID string) error
	RecordSearch(ctx context.Context, tenantID string) error
	RecordDedupe(ctx context.Context, tenantID string) error
	RecordSearchCacheHit(ctx context.Context) error
	RecordSearchCacheMiss(ctx context.Context) error
	Stats(ctx context.Context, tenantID string) (Stats, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config bounds both caches.
type Config struct {
	WorkingSetTTL time.Duration
	WorkingSetMax int
	SearchTTL     time.Duration
}

// DefaultConfig returns the stock cache bounds.
func DefaultConfig() Config {
	return Config{
		WorkingSetTTL: 6 * time.Hour,
		WorkingSetMax: 50,
		SearchTTL:     10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkingSetTTL <= 0 {
		c.WorkingSetTTL = d.WorkingSetTTL
	}
	if c.WorkingSetMax <= 0 {
		c.WorkingSetMax = d.WorkingSetMax
	}
	if c.SearchTTL <= 0 {
		c.SearchTTL = d.SearchTTL
	}
	return c
}

// Fingerprint collapses a query plus its filters into a stable cache key
// component. Every filter that narrows the result set must participate, or
// a cold cache and a warm one diverge. Filter order does not matter; the
// time bounds are nanosecond timestamps, zero when unset.
func Fingerprint(query string, tags, kinds []string, topK int, sinceNano, untilNano int64) string {
	sortedTags := append([]string(nil), tags...)
	sortedKinds := append([]string(nil), kinds...)
	sort.Strings(sortedTags)
	sort.Strings(sortedKinds)

	raw := query + "|" + strings.Join(sortedTags, "|") + "|" +
		strings.Join(sortedKinds, "|") + "|" + strconv.Itoa(topK) + "|" +
		strconv.FormatInt(sinceNano, 10) + "|" + strconv.FormatInt(untilNano, 10)
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])[:16]
}
