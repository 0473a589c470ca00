package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/consultation-ratelimit/internal/ratelimit"
)

// DefaultRetention keeps counters well past the longest configured window.
const DefaultRetention = 24 * time.Hour

// incrementScript adds one to the counter hash unless it already reached
// ARGV[1]. Returns {applied, count, updated_at_ms}.
var incrementScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
if count >= tonumber(ARGV[1]) then
	return {0, count, tonumber(redis.call('HGET', KEYS[1], 'updated_at') or '0')}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {1, count, tonumber(ARGV[2])}
`)

var errUnexpectedReply = errors.New("unexpected redis reply")

// RedisCounterStore is a Redis implementation of ratelimit.Store.
// Each counter is a hash with "count" and "updated_at" (epoch ms) fields.
type RedisCounterStore struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// RedisCounterOption configures a RedisCounterStore.
type RedisCounterOption func(*RedisCounterStore)

// WithRetention sets how long a counter key survives after its last write.
func WithRetention(d time.Duration) RedisCounterOption {
	return func(s *RedisCounterStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewRedisCounterStore creates a new Redis-backed counter store.
func NewRedisCounterStore(client redis.Cmdable, opts ...RedisCounterOption) *RedisCounterStore {
	s := &RedisCounterStore{
		client:    client,
		prefix:    "ratelimit:",
		retention: DefaultRetention,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *RedisCounterStore) Lookup(ctx context.Context, key ratelimit.Key) (ratelimit.Record, bool, error) {
	values, err := s.client.HMGet(ctx, s.redisKey(key), "count", "updated_at").Result()
	if err != nil {
		return ratelimit.Record{}, false, err
	}

	if len(values) != 2 || values[0] == nil {
		return ratelimit.Record{}, false, nil
	}

	count, err := parseRedisInt(values[0])
	if err != nil {
		return ratelimit.Record{}, false, err
	}

	record := ratelimit.Record{Key: key, RequestCount: int(count)}

	if values[1] != nil {
		updatedMs, err := parseRedisInt(values[1])
		if err != nil {
			return ratelimit.Record{}, false, err
		}

		record.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	}

	return record, true, nil
}

func (s *RedisCounterStore) Increment(
	ctx context.Context, key ratelimit.Key, maxRequests int,
) (ratelimit.Record, bool, error) {
	reply, err := incrementScript.Run(ctx, s.client,
		[]string{s.redisKey(key)},
		maxRequests,
		s.now().UnixMilli(),
		s.retention.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return ratelimit.Record{}, false, err
	}

	if len(reply) != 3 {
		return ratelimit.Record{}, false, fmt.Errorf("%w: %v", errUnexpectedReply, reply)
	}

	record := ratelimit.Record{
		Key:          key,
		RequestCount: int(reply[1]),
		UpdatedAt:    time.UnixMilli(reply[2]).UTC(),
	}

	return record, reply[0] == 1, nil
}

// redisKey namespaces counters by operation, user and window start.
func (s *RedisCounterStore) redisKey(key ratelimit.Key) string {
	return fmt.Sprintf("%s%s:%s:%d", s.prefix, key.Operation, key.UserID, key.WindowStart.UnixMilli())
}

func parseRedisInt(v any) (int64, error) {
	switch val := v.(type) {
	case string:
		return strconv.ParseInt(val, 10, 64)
	case int64:
		return val, nil
	default:
		return 0, fmt.Errorf("%w: %T", errUnexpectedReply, v)
	}
}

// Compile-time check.
var _ ratelimit.Store = (*RedisCounterStore)(nil)
