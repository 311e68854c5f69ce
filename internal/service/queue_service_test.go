package service_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"build-orchestrator/internal/clock"
	"build-orchestrator/internal/entity"
	"build-orchestrator/internal/service"
)

// These tests need a real Redis; set REDIS_ADDR to run them.
func redisForTest(t *testing.T) (*redis.Client, string) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	prefix := "test:" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			_ = rdb.Del(ctx, keys...).Err()
		}
		_ = rdb.Close()
	})
	return rdb, prefix
}

func newQueue(rdb *redis.Client, prefix string, clk clock.Clock) service.Queue {
	cfg := service.QueueConfigFor(prefix+":queue", prefix+":processing", time.Minute)
	cfg.Clock = clk
	return service.NewRedisPriorityQueue(rdb, cfg)
}

func TestRedisQueue_PriorityOrderAndAck(t *testing.T) {
	rdb, prefix := redisForTest(t)
	q := newQueue(rdb, prefix, nil)
	ctx := context.Background()

	lowID, err := q.Enqueue(ctx, []byte(`{"jobId":"low"}`), entity.PriorityLow)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	highID, err := q.Enqueue(ctx, []byte(`{"jobId":"high"}`), entity.PriorityHigh)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	d, err := q.ClaimBlocking(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if d.ID != highID || string(d.Body) != `{"jobId":"high"}` || d.Attempts != 0 {
		t.Fatalf("expected high message first, got %#v", d)
	}
	if err := q.Ack(ctx, d.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	d, err = q.ClaimBlocking(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if d.ID != lowID {
		t.Fatalf("expected low message, got %s", d.ID)
	}
	if err := q.Ack(ctx, d.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if _, err := q.ClaimBlocking(ctx, 200*time.Millisecond); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil on empty queue, got %v", err)
	}
}

func TestRedisQueue_RetryCountsAttempts(t *testing.T) {
	rdb, prefix := redisForTest(t)
	q := newQueue(rdb, prefix, nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []byte(`{}`), entity.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for want := 0; want < 3; want++ {
		d, err := q.ClaimBlocking(ctx, 2*time.Second)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if d.ID != id || d.Attempts != want {
			t.Fatalf("expected attempts=%d, got %#v", want, d)
		}
		if err := q.Retry(ctx, d.ID); err != nil {
			t.Fatalf("retry: %v", err)
		}
	}
}

func TestRedisQueue_RequeueStaleRespectsVisibility(t *testing.T) {
	rdb, prefix := redisForTest(t)
	clk := clock.Fake(time.Now())
	q := newQueue(rdb, prefix, clk)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, []byte(`{}`), entity.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d, err := q.ClaimBlocking(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := q.RequeueStale(ctx, 100)
	if err != nil || n != 0 {
		t.Fatalf("expected fresh claim kept, moved %d (%v)", n, err)
	}

	clk.Advance(2 * time.Minute)
	n, err = q.RequeueStale(ctx, 100)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 requeued, moved %d (%v)", n, err)
	}

	again, err := q.ClaimBlocking(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if again.ID != d.ID || again.Attempts != 1 {
		t.Fatalf("expected redelivery with attempts=1, got %#v", again)
	}
}

func TestRedisQueue_RequeueStaleGivesUnclaimedEntryGrace(t *testing.T) {
	rdb, prefix := redisForTest(t)
	clk := clock.Fake(time.Now())
	q := newQueue(rdb, prefix, clk)
	cfg := service.QueueConfigFor(prefix+":queue", prefix+":processing", time.Minute)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []byte(`{}`), entity.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// A claimer that dies right after the move never records its claim time.
	if err := rdb.RPopLPush(ctx, cfg.Normal.QueueKey, cfg.Normal.ProcessingKey).Err(); err != nil {
		t.Fatalf("move to processing: %v", err)
	}

	n, err := q.RequeueStale(ctx, 100)
	if err != nil || n != 0 {
		t.Fatalf("expected entry without claim time kept on first sight, moved %d (%v)", n, err)
	}
	if stamped, err := rdb.HExists(ctx, cfg.ClaimedAtKey, id).Result(); err != nil || !stamped {
		t.Fatalf("expected claim time stamped, got %v (%v)", stamped, err)
	}

	clk.Advance(30 * time.Second)
	if n, err := q.RequeueStale(ctx, 100); err != nil || n != 0 {
		t.Fatalf("expected entry kept within visibility, moved %d (%v)", n, err)
	}

	clk.Advance(time.Minute)
	if n, err := q.RequeueStale(ctx, 100); err != nil || n != 1 {
		t.Fatalf("expected 1 requeued after visibility, moved %d (%v)", n, err)
	}

	d, err := q.ClaimBlocking(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if d.ID != id || d.Attempts != 1 {
		t.Fatalf("expected redelivery with attempts=1, got %#v", d)
	}
}

func TestRedisWakeQueue_ScheduleAndPopDue(t *testing.T) {
	rdb, prefix := redisForTest(t)
	wq := service.NewRedisWakeQueue(rdb, prefix+":wake")
	ctx := context.Background()
	now := time.Now()

	if err := wq.Schedule(ctx, "later", now.Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := wq.Schedule(ctx, "soon", now.Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// An earlier alarm replaces a later one; a later one never delays it.
	if err := wq.Schedule(ctx, "soon", now); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := wq.Schedule(ctx, "soon", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	ids, err := wq.PopDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(ids) != 1 || ids[0] != "soon" {
		t.Fatalf("expected [soon], got %v", ids)
	}
	ids, err = wq.PopDue(ctx, now, 10)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected alarm consumed, got %v (%v)", ids, err)
	}

	n, err := wq.Pending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pending, got %d (%v)", n, err)
	}
}
