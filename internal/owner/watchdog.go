package owner

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"build-orchestrator/internal/clock"
)

// DueSource hands out job ids whose wake-up time has passed, removing them
// (implementation: service.RedisWakeQueue). Schedule puts back ids the
// watchdog popped but could not run.
type DueSource interface {
	PopDue(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Schedule(ctx context.Context, jobID string, at time.Time) error
}

// ActiveLister lists jobs that may still need a wake-up: queued, running,
// and approved paused jobs (implementation: postgresql.JobStateRepository).
type ActiveLister interface {
	ListActive(ctx context.Context, limit int) ([]string, error)
}

type WatchdogConfig struct {
	// PollInterval is how often due alarms are popped.
	PollInterval time.Duration
	// SweepInterval is how often every active job is re-checked for stalls
	// and lost alarms.
	SweepInterval time.Duration
	// Concurrency bounds wake-ups running at once.
	Concurrency int
	// BatchSize bounds ids taken per poll or sweep.
	BatchSize int
}

// Watchdog re-invokes the wake-up handler: promptly for scheduled alarms,
// and periodically for every active job so stalls are caught even when no
// alarm is pending.
type Watchdog struct {
	registry *Registry
	due      DueSource
	active   ActiveLister
	clock    clock.Clock
	logger   *slog.Logger
	cfg      WatchdogConfig

	group errgroup.Group
}

func NewWatchdog(registry *Registry, due DueSource, active ActiveLister, clk clock.Clock, logger *slog.Logger, cfg WatchdogConfig) *Watchdog {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watchdog{
		registry: registry,
		due:      due,
		active:   active,
		clock:    clk,
		logger:   logger.With("component", "watchdog"),
		cfg:      cfg,
	}
	w.group.SetLimit(cfg.Concurrency)
	return w
}

// Run polls and sweeps until ctx is done, then waits for running wake-ups.
func (w *Watchdog) Run(ctx context.Context) {
	w.logger.Info("watchdog started",
		"poll_interval", w.cfg.PollInterval, "sweep_interval", w.cfg.SweepInterval, "concurrency", w.cfg.Concurrency)

	poll := w.clock.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	sweep := w.clock.NewTicker(w.cfg.SweepInterval)
	defer sweep.Stop()

	w.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.Wait()
			w.logger.Info("watchdog stopped")
			return
		case <-poll.C:
			w.PollOnce(ctx)
		case <-sweep.C:
			w.SweepOnce(ctx)
		}
	}
}

// PollOnce wakes every job whose alarm is due without blocking: when every
// slot is taken, or the job's owner is busy, the alarm is put back for the
// next poll. It returns the number of wake-ups started.
func (w *Watchdog) PollOnce(ctx context.Context) int {
	now := w.clock.Now()
	ids, err := w.due.PopDue(ctx, now, int64(w.cfg.BatchSize))
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("pop due wake-ups", "error", err)
		}
		return 0
	}

	started := 0
	for _, id := range ids {
		id := id
		ok := w.group.TryGo(func() error {
			ran, err := w.registry.TryWake(ctx, id)
			switch {
			case err != nil:
				w.logger.Error("wake-up failed", "job_id", id, "error", err)
			case !ran:
				w.reschedule(ctx, id, now, "owner busy")
			}
			return nil
		})
		if !ok {
			w.reschedule(ctx, id, now, "watchdog saturated")
			continue
		}
		started++
	}
	return started
}

func (w *Watchdog) reschedule(ctx context.Context, id string, at time.Time, why string) {
	if err := w.due.Schedule(ctx, id, at); err != nil {
		if ctx.Err() == nil {
			w.logger.Error("reschedule wake-up", "job_id", id, "error", err)
		}
		return
	}
	w.logger.Debug("wake-up deferred", "job_id", id, "reason", why)
}

// SweepOnce re-checks every active job, skipping jobs whose owner is busy
// and, once every slot is taken, the rest of the batch. It returns the number
// of checks started.
func (w *Watchdog) SweepOnce(ctx context.Context) int {
	ids, err := w.active.ListActive(ctx, w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("list active jobs", "error", err)
		}
		return 0
	}

	started := 0
	for _, id := range ids {
		id := id
		ok := w.group.TryGo(func() error {
			ran, err := w.registry.TryWake(ctx, id)
			if err != nil {
				w.logger.Error("sweep wake-up failed", "job_id", id, "error", err)
			} else if !ran {
				w.logger.Debug("sweep skipped busy job", "job_id", id)
			}
			return nil
		})
		if !ok {
			w.logger.Debug("sweep cut short, watchdog saturated", "checked", started, "remaining", len(ids)-started)
			break
		}
		started++
	}
	return started
}

// Wait blocks until all started wake-ups return.
func (w *Watchdog) Wait() { _ = w.group.Wait() }
