package owner

import (
	"context"
	"log/slog"
	"time"

	"build-orchestrator/internal/clock"
	"build-orchestrator/internal/entity"
	"build-orchestrator/internal/safety"
)

// StateStore persists JobState snapshots (implementation:
// postgresql.JobStateRepository). Load returns entity.ErrNotFound for an
// unknown id and must return a copy the caller may mutate.
type StateStore interface {
	Load(ctx context.Context, jobID string) (*entity.JobState, error)
	Save(ctx context.Context, st *entity.JobState) error
}

// Scheduler arranges a future wake-up for a job (implementation:
// service.RedisWakeQueue).
type Scheduler interface {
	Schedule(ctx context.Context, jobID string, at time.Time) error
}

// Notifier reports status transitions. It must not block.
type Notifier interface {
	Notify(callbackURL string, update entity.StatusUpdate)
}

// Planner turns a job's spec into an ordered plan, plus any warnings
// worth keeping on the job.
type Planner interface {
	Plan(ctx context.Context, job entity.BuildJob) (*entity.WorkPlan, []string, error)
}

// Generator produces the content of one work item. It is optional.
type Generator interface {
	Generate(ctx context.Context, item entity.WorkItem, spec entity.SpecContext) (entity.Generation, error)
}

// Writer lands work on the target repository.
type Writer interface {
	CreateBranch(ctx context.Context, repo entity.RepoRef, branch string) entity.WriteResult
	WriteFile(ctx context.Context, repo entity.RepoRef, branch string, item entity.WorkItem, message string) entity.WriteResult
	OpenResult(ctx context.Context, repo entity.RepoRef, branch string, plan *entity.WorkPlan) entity.WriteResult
}

// Pricing converts token usage into dollars.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

func (p Pricing) Cost(g entity.Generation) float64 {
	return float64(g.TokensIn)*p.InputPerMTok/1e6 + float64(g.TokensOut)*p.OutputPerMTok/1e6
}

type Config struct {
	// StallThreshold is how long a running job may go without a persisted
	// update before the watchdog fails it. It also bounds one drive.
	StallThreshold time.Duration

	// MaxWakeDrives bounds how many times one job may be driven (initial
	// run, resumes after crashes, resumes after approval). Zero disables.
	MaxWakeDrives int

	Pricing Pricing
}

// Deps wires an owner to its collaborators. Generator may be nil.
type Deps struct {
	Store     StateStore
	Scheduler Scheduler
	Notifier  Notifier
	Planner   Planner
	Generator Generator
	Writer    Writer
	Gate      *safety.Gate
	Clock     clock.Clock
	Logger    *slog.Logger
	Config    Config
}

func (d *Deps) defaults() {
	if d.Gate == nil {
		d.Gate = safety.NewGate(nil)
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Config.StallThreshold <= 0 {
		d.Config.StallThreshold = 15 * time.Minute
	}
}
