package owner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"build-orchestrator/internal/entity"
	"build-orchestrator/internal/safety"
)

const saveTimeout = 10 * time.Second

// StartResult is the business answer to StartJob. Infrastructure failures
// are reported through the error return instead.
type StartResult struct {
	Accepted bool
	// Duplicate is set when state for the id already existed and was left
	// untouched.
	Duplicate bool
	Status    entity.JobStatus
	Category  entity.FailureCategory
	Reason    string
}

// Owner is the single writer of one job's state.
type Owner struct {
	jobID string
	deps  *Deps
	log   *slog.Logger

	// sem is a one-slot semaphore held by whichever call is working on the
	// job. Waiting for it honours the caller's context.
	sem chan struct{}

	// retired is set while the job is terminal or has no state. Written
	// while holding sem.
	retired atomic.Bool

	// refs counts Registry callers holding this owner. Guarded by
	// Registry.mu.
	refs int
}

func newOwner(jobID string, deps *Deps) *Owner {
	return &Owner{
		jobID: jobID,
		deps:  deps,
		log:   deps.Logger.With("component", "owner", "job_id", jobID),
		sem:   make(chan struct{}, 1),
	}
}

func (o *Owner) lock(ctx context.Context) error {
	select {
	case o.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Owner) tryLock() bool {
	select {
	case o.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (o *Owner) unlock() { <-o.sem }

// StartJob creates the job's state and schedules its first wake-up. Callers
// must not retry a rejected result. If ctx ends while another call holds the
// owner, the context error is returned and nothing is written.
func (o *Owner) StartJob(ctx context.Context, job entity.BuildJob) (StartResult, error) {
	if err := o.lock(ctx); err != nil {
		return StartResult{}, fmt.Errorf("wait for owner: %w", err)
	}
	defer o.unlock()

	gate := o.deps.Gate
	if v := gate.ValidateJob(job); !v.Allowed {
		return StartResult{Category: entity.CategoryMalformed, Reason: v.Reason}, nil
	}

	existing, err := o.deps.Store.Load(ctx, job.JobID)
	switch {
	case err == nil:
		if existing.Status.Terminal() {
			o.retired.Store(true)
			return StartResult{
				Status:   existing.Status,
				Category: entity.CategoryRejected,
				Reason:   fmt.Sprintf("job %s already %s", job.JobID, existing.Status),
			}, nil
		}
		o.retired.Store(false)
		if err := o.deps.Scheduler.Schedule(ctx, job.JobID, o.now()); err != nil {
			return StartResult{}, fmt.Errorf("schedule wake-up: %w", err)
		}
		o.log.Info("duplicate start, state kept", "status", existing.Status)
		return StartResult{Accepted: true, Duplicate: true, Status: existing.Status}, nil
	case !errors.Is(err, entity.ErrNotFound):
		return StartResult{}, fmt.Errorf("load state: %w", err)
	}

	if v := gate.CheckBranchSafety(job.BranchName()); !v.Allowed {
		o.retired.Store(true)
		return StartResult{Category: entity.CategoryRejected, Reason: v.Reason}, nil
	}
	if v := gate.CheckBudget(0, 0, job.Budget); !v.Allowed {
		o.retired.Store(true)
		return StartResult{Category: entity.CategoryRejected, Reason: v.Reason}, nil
	}

	st := entity.NewJobState(job, o.now())
	if err := o.save(ctx, st); err != nil {
		return StartResult{}, err
	}
	o.retired.Store(false)

	if err := o.deps.Scheduler.Schedule(ctx, job.JobID, o.now()); err != nil {
		return StartResult{}, fmt.Errorf("schedule wake-up: %w", err)
	}

	o.log.Info("job queued", "repo", job.RepoOwner+"/"+job.RepoName, "priority", job.Priority)
	return StartResult{Accepted: true, Status: st.Status}, nil
}

// Wake is the wake-up handler. It is called on arrival, after approval and
// periodically by the watchdog; on a missing or terminal job it does nothing.
func (o *Owner) Wake(ctx context.Context) error {
	if err := o.lock(ctx); err != nil {
		return fmt.Errorf("wait for owner: %w", err)
	}
	defer o.unlock()
	return o.wakeLocked(ctx)
}

// TryWake runs the handler only if no other call holds the owner.
func (o *Owner) TryWake(ctx context.Context) (bool, error) {
	if !o.tryLock() {
		return false, nil
	}
	defer o.unlock()
	return true, o.wakeLocked(ctx)
}

func (o *Owner) wakeLocked(ctx context.Context) error {
	st, err := o.deps.Store.Load(ctx, o.jobID)
	if errors.Is(err, entity.ErrNotFound) {
		o.retired.Store(true)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if st.Status.Terminal() {
		o.retired.Store(true)
		return nil
	}

	threshold := o.deps.Config.StallThreshold
	if st.StalledAt(o.now(), threshold) {
		idle := o.now().Sub(st.UpdatedAt).Truncate(time.Second)
		return o.fail(ctx, st, fmt.Sprintf("stalled: no progress for %s (threshold %s)", idle, threshold))
	}

	if st.Status == entity.StatusPaused && !st.Approved {
		return nil
	}

	if limit := o.deps.Config.MaxWakeDrives; limit > 0 && st.WakeCount >= limit {
		return o.fail(ctx, st, fmt.Sprintf("resume limit reached after %d drives", st.WakeCount))
	}

	return o.drive(ctx, st)
}

// drive runs the job as far as it can go within this wake-up.
func (o *Owner) drive(ctx context.Context, st *entity.JobState) error {
	fromQueued := st.Status == entity.StatusQueued
	fromPaused := st.Status == entity.StatusPaused

	if err := st.Transition(entity.StatusRunning, o.now()); err != nil {
		return err
	}
	st.WakeCount++
	if err := o.save(ctx, st); err != nil {
		return err
	}

	switch {
	case fromQueued:
		o.notify(st, entity.Started(st.JobID))
	case fromPaused:
		o.log.Info("resuming approved job", "flagged", st.FlaggedItems)
	default:
		o.log.Info("re-driving running job", "completed", len(st.CompletedItems), "drive", st.WakeCount)
	}

	if st.Plan == nil {
		o.notify(st, entity.Planning(st.JobID))

		stepCtx, cancel := o.stepContext(ctx)
		plan, warnings, err := o.deps.Planner.Plan(stepCtx, st.Job)
		cancel()
		if err != nil {
			return o.fail(ctx, st, fmt.Sprintf("planning failed: %v", err))
		}
		if err := plan.Validate(); err != nil {
			return o.fail(ctx, st, fmt.Sprintf("invalid plan: %v", err))
		}
		for _, w := range warnings {
			st.AddWarning(w)
		}
		st.Plan = plan
		st.Touch(o.now())
		if err := o.save(ctx, st); err != nil {
			return err
		}
		o.log.Info("plan ready", "title", plan.Title, "items", len(plan.Items), "branch", plan.Branch)
	}

	v := o.deps.Gate.CheckDestructiveOps(st.Plan.Items)
	if !v.Allowed {
		if !st.Approved {
			return o.pause(ctx, st, v)
		}
		for _, p := range v.FlaggedItems {
			st.AddWarning("approved destructive change: " + p)
		}
	}

	return o.runSteps(ctx, st)
}

// Approve marks a paused job as approved and schedules it to resume.
func (o *Owner) Approve(ctx context.Context) error {
	if err := o.lock(ctx); err != nil {
		return fmt.Errorf("wait for owner: %w", err)
	}
	defer o.unlock()

	st, err := o.deps.Store.Load(ctx, o.jobID)
	if errors.Is(err, entity.ErrNotFound) {
		o.retired.Store(true)
		return entity.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if st.Status != entity.StatusPaused {
		return fmt.Errorf("%w: status is %s", entity.ErrNotPaused, st.Status)
	}

	st.Approved = true
	st.Touch(o.now())
	if err := o.save(ctx, st); err != nil {
		return err
	}
	if err := o.deps.Scheduler.Schedule(ctx, o.jobID, o.now()); err != nil {
		return fmt.Errorf("schedule wake-up: %w", err)
	}
	o.log.Info("job approved")
	return nil
}

func (o *Owner) pause(ctx context.Context, st *entity.JobState, v safety.Verdict) error {
	if err := st.Transition(entity.StatusPaused, o.now()); err != nil {
		return err
	}
	st.FlaggedItems = v.FlaggedItems
	if err := o.save(ctx, st); err != nil {
		return err
	}

	reason := v.Reason
	if len(v.FlaggedItems) > 0 {
		reason += ": " + strings.Join(v.FlaggedItems, ", ")
	}
	o.log.Warn("job paused for approval", "flagged", v.FlaggedItems)
	o.notify(st, entity.PausedApproval(st.JobID, reason))
	return nil
}

// fail persists the terminal failure before reporting it.
func (o *Owner) fail(ctx context.Context, st *entity.JobState, reason string) error {
	if err := st.Fail(reason, o.now()); err != nil {
		return err
	}
	if err := o.save(ctx, st); err != nil {
		return err
	}
	o.retired.Store(true)
	o.log.Warn("job failed", "reason", reason, "completed", len(st.CompletedItems), "tokens", st.TokensUsed)
	o.notify(st, entity.Failed(st.JobID, reason))
	return nil
}

// save persists st even if ctx was cancelled mid-drive, so the last
// checkpoint survives a shutdown or a stall deadline.
func (o *Owner) save(ctx context.Context, st *entity.JobState) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := o.deps.Store.Save(ctx, st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (o *Owner) notify(st *entity.JobState, update entity.StatusUpdate) {
	if o.deps.Notifier == nil {
		return
	}
	o.deps.Notifier.Notify(st.Job.CallbackURL, update)
}

// stepContext bounds a single collaborator call by the stall threshold: a
// call that runs longer has made no progress for that long.
func (o *Owner) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.deps.Config.StallThreshold)
}

func (o *Owner) now() time.Time { return o.deps.Clock.Now() }
