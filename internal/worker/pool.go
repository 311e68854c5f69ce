package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"build-orchestrator/internal/service"
)

// Consumer is the claim side of service.Queue.
type Consumer interface {
	ClaimBlocking(ctx context.Context, timeout time.Duration) (*service.Delivery, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
}

const settleTimeout = 5 * time.Second

type Pool struct {
	queue      Consumer
	dispatcher *Dispatcher
	workers    int
	claimDelay time.Duration
	logger     *slog.Logger
}

func NewPool(queue Consumer, dispatcher *Dispatcher, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:      queue,
		dispatcher: dispatcher,
		workers:    workers,
		claimDelay: 5 * time.Second,
		logger:     logger.With("component", "pool"),
	}
}

// Run claims deliveries until ctx is done, then waits for in-flight ones.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", "workers", p.workers)

	jobCh := make(chan *service.Delivery)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for d := range jobCh {
				p.handle(ctx, n, d)
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		p.logger.Info("worker pool stopped")
	}()

	// Listener: atomically claim from queue -> processing
	for {
		if ctx.Err() != nil {
			return
		}

		d, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				p.logger.Error("claim failed", "error", err)
				// back off so a broken connection doesn't spin
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
			}
			continue
		}

		select {
		case jobCh <- d:
		case <-ctx.Done():
			// Unacked: the reaper hands it out again after the visibility timeout.
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, n int, d *service.Delivery) {
	_, dec := p.dispatcher.Dispatch(ctx, *d)

	// ctx may already be cancelled by shutdown.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var err error
	switch dec {
	case DecisionRetry:
		err = p.queue.Retry(settleCtx, d.ID)
	default:
		err = p.queue.Ack(settleCtx, d.ID)
	}
	if err != nil {
		p.logger.Error("settle delivery failed", "worker", n, "message_id", d.ID, "decision", dec.String(), "error", err)
	}
}
