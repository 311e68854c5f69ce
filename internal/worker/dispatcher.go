package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"build-orchestrator/internal/clock"
	"build-orchestrator/internal/entity"
	"build-orchestrator/internal/owner"
	"build-orchestrator/internal/safety"
	"build-orchestrator/internal/service"
)

// Starter hands a job to its owner (implementation: owner.Registry).
type Starter interface {
	StartJob(ctx context.Context, job entity.BuildJob) (owner.StartResult, error)
}

// DeadLetterStore archives messages removed from the retry path
// (implementation: postgresql.DeadLetterRepository).
type DeadLetterStore interface {
	Put(ctx context.Context, rec entity.DeadLetterRecord) error
}

// Decision is what the pool does with the delivery afterwards.
type Decision int

const (
	DecisionAck Decision = iota
	DecisionRetry
)

func (d Decision) String() string {
	if d == DecisionRetry {
		return "retry"
	}
	return "ack"
}

type DispatcherConfig struct {
	// MaxRetries is the number of deliveries a transiently failing message
	// gets before it is dead-lettered.
	MaxRetries   int
	StartTimeout time.Duration
}

// Dispatcher applies the delivery policy to one queue message.
type Dispatcher struct {
	starter     Starter
	deadLetters DeadLetterStore
	clock       clock.Clock
	logger      *slog.Logger
	cfg         DispatcherConfig
}

func NewDispatcher(starter Starter, deadLetters DeadLetterStore, clk clock.Clock, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		starter:     starter,
		deadLetters: deadLetters,
		clock:       clk,
		logger:      logger.With("component", "dispatcher"),
		cfg:         cfg,
	}
}

// Dispatch decodes, validates and starts the job in d. Malformed and
// rejected messages are dead-lettered at once; transient failures are
// retried until MaxRetries deliveries have failed.
func (p *Dispatcher) Dispatch(ctx context.Context, d service.Delivery) (entity.QueueOutcome, Decision) {
	start := p.clock.Now()
	out := entity.QueueOutcome{Attempts: d.Attempts + 1}

	var job entity.BuildJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		out, dec := p.deadLetter(ctx, d, job, entity.CategoryMalformed, fmt.Sprintf("decode message: %v", err), out)
		return p.finish(out, dec, start)
	}
	out.JobID = job.JobID

	if v := safety.ValidateJob(job); !v.Allowed {
		out, dec := p.deadLetter(ctx, d, job, entity.CategoryMalformed, v.Reason, out)
		return p.finish(out, dec, start)
	}

	startCtx, cancel := context.WithTimeout(ctx, p.cfg.StartTimeout)
	res, err := p.starter.StartJob(startCtx, job)
	cancel()

	switch {
	case err != nil:
		if d.Attempts+1 < p.cfg.MaxRetries {
			out.Error = err.Error()
			out.Action = entity.ActionRetry
			return p.finish(out, DecisionRetry, start)
		}
		out, dec := p.deadLetter(ctx, d, job, entity.CategoryTransient,
			fmt.Sprintf("start failed after %d attempts: %v", d.Attempts+1, err), out)
		return p.finish(out, dec, start)

	case !res.Accepted:
		category := res.Category
		if category == "" {
			category = entity.CategoryRejected
		}
		out, dec := p.deadLetter(ctx, d, job, category, res.Reason, out)
		return p.finish(out, dec, start)
	}

	out.OK = true
	out.Action = entity.ActionAck
	return p.finish(out, DecisionAck, start)
}

// deadLetter archives the message. If the archive write fails the message is
// retried while deliveries remain; after that it is dropped with an error log
// rather than blocking the lane.
func (p *Dispatcher) deadLetter(ctx context.Context, d service.Delivery, job entity.BuildJob, category entity.FailureCategory, reason string, out entity.QueueOutcome) (entity.QueueOutcome, Decision) {
	rec := entity.DeadLetterRecord{
		Job:       job,
		Error:     reason,
		Attempts:  d.Attempts + 1,
		FailedAt:  p.clock.Now(),
		Category:  category,
		MessageID: d.ID,
	}
	if category == entity.CategoryMalformed && json.Valid(d.Body) {
		rec.Payload = json.RawMessage(d.Body)
	}

	out.OK = false
	out.Error = reason

	if err := p.deadLetters.Put(ctx, rec); err != nil {
		if d.Attempts+1 < p.cfg.MaxRetries {
			out.Action = entity.ActionRetry
			out.Error = fmt.Sprintf("%s; dead-letter write failed: %v", reason, err)
			return out, DecisionRetry
		}
		p.logger.Error("dead-letter write failed, dropping message",
			"message_id", d.ID, "job_id", job.JobID, "reason", reason, "error", err)
		out.Action = entity.ActionAck
		return out, DecisionAck
	}

	out.Action = entity.ActionDeadLetter
	return out, DecisionAck
}

func (p *Dispatcher) finish(out entity.QueueOutcome, dec Decision, start time.Time) (entity.QueueOutcome, Decision) {
	out.DurationMs = p.clock.Now().Sub(start).Milliseconds()

	attrs := []any{
		"job_id", out.JobID, "ok", out.OK, "action", out.Action,
		"attempts", out.Attempts, "duration_ms", out.DurationMs,
	}
	if out.Error != "" {
		attrs = append(attrs, "error", out.Error)
	}
	if out.OK {
		p.logger.Info("message dispatched", attrs...)
	} else {
		p.logger.Warn("message dispatched", attrs...)
	}
	return out, dec
}
