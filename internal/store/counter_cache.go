package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/consultation-ratelimit/internal/ratelimit"
)

// cacheScript stores {count, updated_at} unless the cached count is already
// at least ARGV[1], so racing writers can only move the cache forward.
// ARGV[3] is the TTL in milliseconds, 0 for none.
var cacheScript = redis.NewScript(`
local cached = redis.call('HGET', KEYS[1], 'count')
if cached and tonumber(cached) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'count', ARGV[1], 'updated_at', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// CachedCounterStore serves lookups from Redis in front of another store.
// Increments always go to the underlying store, which stays authoritative.
// Counters only grow within a window, so the cache keeps the highest count
// it has seen and is never ahead of the committed one.
type CachedCounterStore struct {
	store  ratelimit.Store
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewCachedCounterStore creates a write-through cache over store.
func NewCachedCounterStore(store ratelimit.Store, client redis.Cmdable, ttl time.Duration) *CachedCounterStore {
	return &CachedCounterStore{
		store:  store,
		client: client,
		prefix: "ratelimit:cache:",
		ttl:    ttl,
	}
}

func (c *CachedCounterStore) Lookup(ctx context.Context, key ratelimit.Key) (ratelimit.Record, bool, error) {
	if record, ok := c.fromCache(ctx, key); ok {
		return record, true, nil
	}

	record, found, err := c.store.Lookup(ctx, key)
	if err != nil || !found {
		return record, found, err
	}

	c.cache(ctx, record)

	return record, true, nil
}

func (c *CachedCounterStore) Increment(
	ctx context.Context, key ratelimit.Key, maxRequests int,
) (ratelimit.Record, bool, error) {
	record, applied, err := c.store.Increment(ctx, key, maxRequests)
	if err != nil {
		return record, applied, err
	}

	c.cache(ctx, record)

	return record, applied, nil
}

func (c *CachedCounterStore) fromCache(ctx context.Context, key ratelimit.Key) (ratelimit.Record, bool) {
	result, err := c.client.HGetAll(ctx, c.cacheKey(key)).Result()
	if err != nil || len(result) == 0 {
		return ratelimit.Record{}, false
	}

	count, err := strconv.Atoi(result["count"])
	if err != nil {
		return ratelimit.Record{}, false
	}

	record := ratelimit.Record{Key: key, RequestCount: count}

	if ms, err := strconv.ParseInt(result["updated_at"], 10, 64); err == nil {
		record.UpdatedAt = time.UnixMilli(ms).UTC()
	}

	return record, true
}

// cache is best effort; a failed write only costs a later cache miss.
func (c *CachedCounterStore) cache(ctx context.Context, record ratelimit.Record) {
	_ = cacheScript.Run(ctx, c.client,
		[]string{c.cacheKey(record.Key)},
		record.RequestCount,
		record.UpdatedAt.UnixMilli(),
		c.ttl.Milliseconds(),
	).Err()
}

func (c *CachedCounterStore) cacheKey(key ratelimit.Key) string {
	return fmt.Sprintf("%s%s:%s:%d", c.prefix, key.Operation, key.UserID, key.WindowStart.UnixMilli())
}

// Compile-time check.
var _ ratelimit.Store = (*CachedCounterStore)(nil)
