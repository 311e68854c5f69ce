package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"build-orchestrator/internal/clock"
	"build-orchestrator/internal/entity"
)

// Delivery is one claimed queue message.
type Delivery struct {
	ID   string
	Body []byte
	// Attempts counts earlier deliveries of this message that ended in a
	// retry or were reclaimed after the visibility timeout.
	Attempts int
}

type Queue interface {
	Enqueue(ctx context.Context, body []byte, priority entity.Priority) (string, error)
	// ClaimBlocking returns redis.Nil when nothing arrived within timeout.
	ClaimBlocking(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	RequeueStale(ctx context.Context, maxPerLane int64) (int64, error)
}

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

type RedisQueueConfig struct {
	// Hashes keyed by message id.
	MessagesKey      string
	AttemptsKey      string
	ClaimedAtKey     string
	LaneKey          string
	ProcessingMapKey string

	Low, Normal, High Lane

	// Visibility is how long a claimed message may stay unacked before the
	// reaper hands it out again.
	Visibility time.Duration
	Clock      clock.Clock
}

// QueueConfigFor derives every key from the queue and processing base keys.
func QueueConfigFor(queueKey, processingKey string, visibility time.Duration) RedisQueueConfig {
	lane := func(name string) Lane {
		return Lane{QueueKey: queueKey + ":" + name, ProcessingKey: processingKey + ":" + name}
	}
	return RedisQueueConfig{
		MessagesKey:      queueKey + ":messages",
		AttemptsKey:      queueKey + ":attempts",
		ClaimedAtKey:     processingKey + ":claimed_at",
		LaneKey:          queueKey + ":lanes",
		ProcessingMapKey: processingKey + ":map",
		Low:              lane("low"),
		Normal:           lane("normal"),
		High:             lane("high"),
		Visibility:       visibility,
	}
}

// redisPriorityQueue is a reliable queue with priorities on Redis lists.
// Lanes: high/normal/low.
// Enqueue: body in MessagesKey, id LPUSHed on the lane
// Claim:   BRPOPLPUSH lane.queue -> lane.processing, claim time recorded
// Ack:     LREM from the processing list named in ProcessingMapKey
// Retry:   attempts+1, id back on its lane
type redisPriorityQueue struct {
	rdb *redis.Client
	cfg RedisQueueConfig
}

func NewRedisPriorityQueue(rdb *redis.Client, cfg RedisQueueConfig) Queue {
	if cfg.Visibility <= 0 {
		cfg.Visibility = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &redisPriorityQueue{rdb: rdb, cfg: cfg}
}

func (q *redisPriorityQueue) lanes() []Lane {
	return []Lane{q.cfg.High, q.cfg.Normal, q.cfg.Low}
}

func (q *redisPriorityQueue) laneByPriority(p entity.Priority) Lane {
	switch p.Lane() {
	case 2:
		return q.cfg.High
	case 0:
		return q.cfg.Low
	default:
		return q.cfg.Normal
	}
}

func (q *redisPriorityQueue) laneByQueueKey(key string) Lane {
	for _, ln := range q.lanes() {
		if ln.QueueKey == key {
			return ln
		}
	}
	return q.cfg.Normal
}

func (q *redisPriorityQueue) Enqueue(ctx context.Context, body []byte, priority entity.Priority) (string, error) {
	id := uuid.NewString()
	ln := q.laneByPriority(priority)

	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.cfg.MessagesKey, id, body)
		p.HSet(ctx, q.cfg.LaneKey, id, ln.QueueKey)
		p.LPush(ctx, ln.QueueKey, id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

// ClaimBlocking tries high->normal->low with small blocking slots,
// so it is "mostly blocking" but still respects priority.
func (q *redisPriorityQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !forever && time.Now().After(deadline) {
			return nil, redis.Nil
		}

		for _, ln := range q.lanes() {
			wait := slot
			if !forever {
				remain := time.Until(deadline)
				if remain <= 0 {
					return nil, redis.Nil
				}
				wait = min(wait, remain)
			}

			id, err := q.rdb.BRPopLPush(ctx, ln.QueueKey, ln.ProcessingKey, wait).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, err
			}

			d, err := q.claimed(ctx, ln, id)
			if err != nil {
				return nil, err
			}
			if d == nil {
				// Body gone (acked elsewhere): drop the stray id.
				_ = q.rdb.LRem(ctx, ln.ProcessingKey, 1, id).Err()
				continue
			}
			return d, nil
		}
	}
}

func (q *redisPriorityQueue) claimed(ctx context.Context, ln Lane, id string) (*Delivery, error) {
	var (
		body     *redis.StringCmd
		attempts *redis.StringCmd
	)
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		// Without the mapping the message could not be acked later.
		p.HSet(ctx, q.cfg.ProcessingMapKey, id, ln.ProcessingKey)
		p.HSet(ctx, q.cfg.ClaimedAtKey, id, q.cfg.Clock.Now().UnixMilli())
		body = p.HGet(ctx, q.cfg.MessagesKey, id)
		attempts = p.HGet(ctx, q.cfg.AttemptsKey, id)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("record claim %s: %w", id, err)
	}

	b, err := body.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read message %s: %w", id, err)
	}

	d := &Delivery{ID: id, Body: b}
	if n, err := attempts.Int(); err == nil {
		d.Attempts = n
	}
	return d, nil
}

func (q *redisPriorityQueue) processingKey(ctx context.Context, id string) (string, error) {
	key, err := q.rdb.HGet(ctx, q.cfg.ProcessingMapKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return key, err
}

func (q *redisPriorityQueue) Ack(ctx context.Context, id string) error {
	processingKey, err := q.processingKey(ctx, id)
	if err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if processingKey != "" {
			p.LRem(ctx, processingKey, 1, id)
		} else {
			// mapping is missing: try every processing list
			for _, ln := range q.lanes() {
				p.LRem(ctx, ln.ProcessingKey, 1, id)
			}
		}
		p.HDel(ctx, q.cfg.ProcessingMapKey, id)
		p.HDel(ctx, q.cfg.ClaimedAtKey, id)
		p.HDel(ctx, q.cfg.MessagesKey, id)
		p.HDel(ctx, q.cfg.AttemptsKey, id)
		p.HDel(ctx, q.cfg.LaneKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

func (q *redisPriorityQueue) Retry(ctx context.Context, id string) error {
	processingKey, err := q.processingKey(ctx, id)
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	laneKey, err := q.rdb.HGet(ctx, q.cfg.LaneKey, id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	ln := q.laneByQueueKey(laneKey)
	if processingKey == "" {
		processingKey = ln.ProcessingKey
	}

	if err := q.requeue(ctx, processingKey, ln.QueueKey, id); err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	return nil
}

// requeue moves id from processing back to its queue and counts the attempt.
func (q *redisPriorityQueue) requeue(ctx context.Context, processingKey, queueKey, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, processingKey, 1, id)
		p.HIncrBy(ctx, q.cfg.AttemptsKey, id, 1)
		p.HDel(ctx, q.cfg.ProcessingMapKey, id)
		p.HDel(ctx, q.cfg.ClaimedAtKey, id)
		p.LPush(ctx, queueKey, id)
		return nil
	})
	return err
}

// RequeueStale hands out again messages claimed longer than the visibility
// timeout ago: at-least-once delivery after a worker crash. Only the oldest
// maxPerLane claims of each lane are inspected per call. An entry with no
// claim time is stamped with the current time and gets a full visibility
// timeout from then.
func (q *redisPriorityQueue) RequeueStale(ctx context.Context, maxPerLane int64) (int64, error) {
	var moved int64
	now := q.cfg.Clock.Now()
	cutoff := now.Add(-q.cfg.Visibility).UnixMilli()

	for _, ln := range q.lanes() {
		// BRPOPLPUSH pushes on the left, so the oldest claims sit on the right.
		ids, err := q.rdb.LRange(ctx, ln.ProcessingKey, -maxPerLane, -1).Result()
		if err != nil {
			return moved, fmt.Errorf("list %s: %w", ln.ProcessingKey, err)
		}
		if len(ids) == 0 {
			continue
		}

		claimedAt, err := q.rdb.HMGet(ctx, q.cfg.ClaimedAtKey, ids...).Result()
		if err != nil {
			return moved, fmt.Errorf("read claim times: %w", err)
		}

		for i, id := range ids {
			ms, ok := claimTime(claimedAt[i])
			if !ok {
				// The claimer died between the pop and recording the claim,
				// or is about to record it. HSetNX never overwrites a real one.
				if err := q.rdb.HSetNX(ctx, q.cfg.ClaimedAtKey, id, strconv.FormatInt(now.UnixMilli(), 10)).Err(); err != nil {
					return moved, fmt.Errorf("stamp claim time %s: %w", id, err)
				}
				continue
			}
			if ms >= cutoff {
				continue
			}
			if err := q.requeue(ctx, ln.ProcessingKey, ln.QueueKey, id); err != nil {
				return moved, fmt.Errorf("requeue %s: %w", id, err)
			}
			moved++
		}
	}

	return moved, nil
}

// claimTime parses a claimed-at hash value in unix milliseconds.
func claimTime(v any) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
