package owner

import (
	"context"
	"fmt"

	"build-orchestrator/internal/entity"
)

// runSteps applies the plan item by item within the current wake-up.
//
// Budget is checked before every step, not after, so an exhausted job never
// pays for one more item. Items already in CompletedItems are skipped, which
// makes a re-drive after a crash idempotent. If ctx is cancelled (shutdown)
// the job is left running with its last checkpoint; the next wake-up resumes
// or, past the stall threshold, fails it.
func (o *Owner) runSteps(ctx context.Context, st *entity.JobState) error {
	plan := st.Plan
	repo := st.Job.Repo()
	gate := o.deps.Gate

	if !st.BranchCreated {
		if v := gate.CheckBranchSafety(plan.Branch); !v.Allowed {
			return o.fail(ctx, st, v.Reason)
		}
		if res := o.createBranch(ctx, repo, plan.Branch); !res.OK {
			return o.fail(ctx, st, fmt.Sprintf("create branch %s: %s", plan.Branch, res.Error))
		}
		st.BranchCreated = true
		st.Touch(o.now())
		if err := o.save(ctx, st); err != nil {
			return err
		}
	}

	spec := entity.SpecContext{
		JobID:        st.JobID,
		Title:        plan.Title,
		Summary:      plan.Summary,
		SpecMarkdown: st.Job.SpecMarkdown,
		Repo:         repo,
		Branch:       plan.Branch,
	}

	for i := range plan.Items {
		step := i + 1
		if st.IsCompleted(plan.Items[i].Path) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if v := gate.CheckBudget(st.TokensUsed, st.CostEstimate, st.Job.Budget); !v.Allowed {
			return o.fail(ctx, st, v.Reason)
		}
		o.notify(st, entity.Writing(st.JobID, step, plan.Items[i].Path))

		if o.deps.Generator != nil && !plan.Items[i].Generated {
			if err := o.generate(ctx, st, i, spec); err != nil {
				return err
			}
			// Generation spend may have crossed the limit; stop before the write.
			if v := gate.CheckBudget(st.TokensUsed, st.CostEstimate, st.Job.Budget); !v.Allowed {
				return o.fail(ctx, st, v.Reason)
			}
		}
		item := plan.Items[i]

		if !st.Approved {
			if v := gate.CheckDestructiveOps([]entity.WorkItem{item}); !v.Allowed {
				return o.pause(ctx, st, v)
			}
		}

		msg := fmt.Sprintf("%s (%d/%d): %s", plan.Title, step, len(plan.Items), item.Path)
		if res := o.writeFile(ctx, repo, plan.Branch, item, msg); !res.OK {
			return o.fail(ctx, st, fmt.Sprintf("write %s: %s", item.Path, res.Error))
		}

		st.MarkCompleted(item.Path, o.now())
		if err := o.save(ctx, st); err != nil {
			return err
		}
		o.log.Info("item written", "step", step, "path", item.Path, "tokens", st.TokensUsed)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	res := o.openResult(ctx, repo, plan.Branch, plan)
	if !res.OK {
		return o.fail(ctx, st, "open pull request: "+res.Error)
	}

	st.ResultRef = res.URL
	if err := st.Transition(entity.StatusComplete, o.now()); err != nil {
		return err
	}
	if err := o.save(ctx, st); err != nil {
		return err
	}
	o.retired.Store(true)

	o.log.Info("job complete", "pr", res.URL, "items", len(st.CompletedItems), "tokens", st.TokensUsed, "cost", st.CostEstimate)
	o.notify(st, entity.PROpen(st.JobID, res.URL))
	o.notify(st, entity.Complete(st.JobID, res.URL))
	return nil
}

// generate fills plan item i with generated content and records the spend.
// A generation failure is not fatal: the placeholder content stays.
func (o *Owner) generate(ctx context.Context, st *entity.JobState, i int, spec entity.SpecContext) error {
	item := &st.Plan.Items[i]

	stepCtx, cancel := o.stepContext(ctx)
	gen, err := o.deps.Generator.Generate(stepCtx, *item, spec)
	cancel()

	st.TokensUsed += gen.TokensIn + gen.TokensOut
	st.CostEstimate += o.deps.Config.Pricing.Cost(gen)
	if err != nil {
		o.log.Warn("generation failed, keeping placeholder", "path", item.Path, "error", err)
		st.AddWarning(fmt.Sprintf("generation failed for %s: %v", item.Path, err))
		st.Touch(o.now())
		return o.save(ctx, st)
	}

	item.Content = gen.Content
	item.Generated = true
	st.Touch(o.now())
	return o.save(ctx, st)
}

func (o *Owner) createBranch(ctx context.Context, repo entity.RepoRef, branch string) entity.WriteResult {
	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()
	return o.deps.Writer.CreateBranch(stepCtx, repo, branch)
}

func (o *Owner) writeFile(ctx context.Context, repo entity.RepoRef, branch string, item entity.WorkItem, msg string) entity.WriteResult {
	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()
	return o.deps.Writer.WriteFile(stepCtx, repo, branch, item, msg)
}

func (o *Owner) openResult(ctx context.Context, repo entity.RepoRef, branch string, plan *entity.WorkPlan) entity.WriteResult {
	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()
	return o.deps.Writer.OpenResult(stepCtx, repo, branch, plan)
}
