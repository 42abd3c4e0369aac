package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared-cache backend for multi-node deployments.
//
// Key layout:
//
//	mem:ws:<tenant>:<scope>          list, most recent first
//	mem:sc:<tenant>:<scope>:<fp>     serialized search results
//	mem:stats:<counter>[:<tenant>]   counters with a 24h TTL
type Redis struct {
	client *redis.Client
	cfg    Config
}

// NewRedis creates a Redis cache and verifies connectivity.
func NewRedis(ctx context.Context, url string, cfg Config) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return &Redis{client: client, cfg: cfg.withDefaults()}, nil
}

func (r *Redis) wsKey(tenantID, scopeID string) string {
	return "mem:ws:" + tenantID + ":" + scopeID
}

func (r *Redis) scKey(tenantID, scopeID, fingerprint string) string {
	return "mem:sc:" + tenantID + ":" + scopeID + ":" + fingerprint
}

func (r *Redis) PushWorkingSet(ctx context.Context, tenantID, scopeID, memoryID string) error {
	key := r.wsKey(tenantID, scopeID)
	pipe := r.client.Pipeline()
	pipe.LRem(ctx, key, 0, memoryID)
	pipe.LPush(ctx, key, memoryID)
	pipe.LTrim(ctx, key, 0, int64(r.cfg.WorkingSetMax-1))
	pipe.Expire(ctx, key, r.cfg.WorkingSetTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) WorkingSet(ctx context.Context, tenantID, scopeID string) ([]string, error) {
	return r.client.LRange(ctx, r.wsKey(tenantID, scopeID), 0, -1).Result()
}

func (r *Redis) GetSearch(ctx context.Context, tenantID, scopeID, fingerprint string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.scKey(tenantID, scopeID, fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) SetSearch(ctx context.Context, tenantID, scopeID, fingerprint string, payload []byte) error {
	return r.client.Set(ctx, r.scKey(tenantID, scopeID, fingerprint), payload, r.cfg.SearchTTL).Err()
}

func (r *Redis) InvalidateScope(ctx context.Context, tenantID, scopeID string) error {
	pattern := "mem:sc:" + tenantID + ":" + scopeID + ":*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *Redis) incr(ctx context.Context, key string) error {
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) RecordWrite(ctx context.Context, tenantID string) error {
	return r.incr(ctx, "mem:stats:writes:"+tenantID)
}

func (r *Redis) RecordSearch(ctx context.Context, tenantID string) error {
	return r.incr(ctx, "mem:stats:searches:"+tenantID)
}

func (r *Redis) RecordDedupe(ctx context.Context, tenantID string) error {
	return r.incr(ctx, "mem:stats:dedupes:"+tenantID)
}

func (r *Redis) RecordSearchCacheHit(ctx context.Context) error {
	return r.incr(ctx, "mem:stats:search_cache_hits")
}

func (r *Redis) RecordSearchCacheMiss(ctx context.Context) error {
	return r.incr(ctx, "mem:stats:search_cache_misses")
}

func (r *Redis) Stats(ctx context.Context, tenantID string) (Stats, error) {
	keys := []string{
		"mem:stats:writes:" + tenantID,
		"mem:stats:searches:" + tenantID,
		"mem:stats:dedupes:" + tenantID,
		"mem:stats:search_cache_hits",
		"mem:stats:search_cache_misses",
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Stats{}, err
	}
	asInt := func(v any) int64 {
		s, ok := v.(string)
		if !ok {
			return 0
		}
		var n int64
		fmt.Sscanf(s, "%d", &n)
		return n
	}
	return Stats{
		Writes:            asInt(vals[0]),
		Searches:          asInt(vals[1]),
		Dedupes:           asInt(vals[2]),
		SearchCacheHits:   asInt(vals[3]),
		SearchCacheMisses: asInt(vals[4]),
	}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
