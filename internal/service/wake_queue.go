package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// popDue removes and returns up to ARGV[2] members scored at or below
// ARGV[1], atomically so two watchdogs never wake the same alarm twice.
var popDue = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #ids > 0 then
  redis.call('ZREM', KEYS[1], unpack(ids))
end
return ids
`)

// RedisWakeQueue keeps one pending wake-up per job in a sorted set scored by
// unix milliseconds.
type RedisWakeQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisWakeQueue(rdb *redis.Client, key string) *RedisWakeQueue {
	return &RedisWakeQueue{rdb: rdb, key: key}
}

// Schedule sets the job's alarm to at, keeping an earlier alarm if one is
// already pending.
func (q *RedisWakeQueue) Schedule(ctx context.Context, jobID string, at time.Time) error {
	err := q.rdb.ZAddLT(ctx, q.key, redis.Z{Score: float64(at.UnixMilli()), Member: jobID}).Err()
	if err != nil {
		return fmt.Errorf("schedule %s: %w", jobID, err)
	}
	return nil
}

// PopDue takes the alarms due at now.
func (q *RedisWakeQueue) PopDue(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := popDue.Run(ctx, q.rdb, []string{q.key},
		strconv.FormatInt(now.UnixMilli(), 10), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("pop due: %w", err)
	}
	return ids, nil
}

// Pending reports how many alarms are set.
func (q *RedisWakeQueue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key).Result()
}
