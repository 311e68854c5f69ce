// Package owner implements the per-job actor. Every job id maps to exactly
// one Owner in the process; the Owner's semaphore is the only lock a job's state
// ever needs.
package owner

import (
	"context"
	"sync"

	"build-orchestrator/internal/entity"
)

// Registry routes calls to the Owner for a job id, creating it on demand.
type Registry struct {
	deps Deps

	mu     sync.Mutex
	owners map[string]*Owner
}

func NewRegistry(deps Deps) *Registry {
	deps.defaults()
	return &Registry{
		deps:   deps,
		owners: make(map[string]*Owner),
	}
}

func (r *Registry) get(jobID string) *Owner {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.owners[jobID]
	if !ok {
		o = newOwner(jobID, &r.deps)
		r.owners[jobID] = o
	}
	o.refs++
	return o
}

// release drops the caller's reference. An owner whose job is terminal or
// unknown is evicted once nobody references it; while any caller holds it,
// it stays the only owner for its id.
func (r *Registry) release(o *Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o.refs--
	if o.refs == 0 && o.retired.Load() && r.owners[o.jobID] == o {
		delete(r.owners, o.jobID)
	}
}

// Len reports how many owners are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

// StartJob validates job and hands it to its owner. Malformed jobs never
// create an owner.
func (r *Registry) StartJob(ctx context.Context, job entity.BuildJob) (StartResult, error) {
	if v := r.deps.Gate.ValidateJob(job); !v.Allowed {
		return StartResult{Category: entity.CategoryMalformed, Reason: v.Reason}, nil
	}
	o := r.get(job.JobID)
	defer r.release(o)
	return o.StartJob(ctx, job)
}

// Wake runs the owner's wake-up handler, waiting for the owner if it is busy.
func (r *Registry) Wake(ctx context.Context, jobID string) error {
	o := r.get(jobID)
	defer r.release(o)
	return o.Wake(ctx)
}

// TryWake is Wake that skips owners already running. It reports whether the
// handler ran.
func (r *Registry) TryWake(ctx context.Context, jobID string) (bool, error) {
	o := r.get(jobID)
	defer r.release(o)
	return o.TryWake(ctx)
}

// Approve unblocks a paused job.
func (r *Registry) Approve(ctx context.Context, jobID string) error {
	o := r.get(jobID)
	defer r.release(o)
	return o.Approve(ctx)
}
