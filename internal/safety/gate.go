// Package safety holds the pure checks run before a job does expensive or
// destructive work. Every check is deterministic for identical inputs so a
// resumed job re-evaluates to the same verdict.
package safety

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"build-orchestrator/internal/entity"
)

// Verdict is the result of a single check.
type Verdict struct {
	Allowed      bool     `json:"allowed"`
	Reason       string   `json:"reason,omitempty"`
	FlaggedItems []string `json:"flaggedItems,omitempty"`
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(format string, args ...any) Verdict {
	return Verdict{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateJob rejects structurally invalid jobs. A rejection is final: the
// message is malformed, not transiently failing.
func ValidateJob(job entity.BuildJob) Verdict {
	err := validate.Struct(job)
	if err == nil {
		return allow()
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return deny("invalid job: %v", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}
	return deny("invalid job: %s", strings.Join(fields, "; "))
}

// CheckBudget rejects once either running total meets or exceeds its limit.
func CheckBudget(tokensUsed int64, costEstimate float64, limits entity.BudgetLimits) Verdict {
	if tokensUsed >= limits.MaxTokens {
		return deny("budget exceeded: tokens %d >= limit %d", tokensUsed, limits.MaxTokens)
	}
	if costEstimate >= limits.MaxDollars {
		return deny("budget exceeded: cost $%.4f >= limit $%.2f", costEstimate, limits.MaxDollars)
	}
	return allow()
}

// Gate carries the configurable part of the checks: the protected branch
// list. The zero value uses DefaultProtectedBranches.
type Gate struct {
	protected []string
}

func NewGate(protected []string) *Gate {
	if len(protected) == 0 {
		protected = DefaultProtectedBranches
	}
	return &Gate{protected: protected}
}

func (g *Gate) ValidateJob(job entity.BuildJob) Verdict { return ValidateJob(job) }

func (g *Gate) CheckBudget(tokensUsed int64, costEstimate float64, limits entity.BudgetLimits) Verdict {
	return CheckBudget(tokensUsed, costEstimate, limits)
}

func (g *Gate) CheckDestructiveOps(items []entity.WorkItem) Verdict {
	return CheckDestructiveOps(items)
}

func (g *Gate) CheckBranchSafety(branch string) Verdict {
	protected := DefaultProtectedBranches
	if g != nil && len(g.protected) > 0 {
		protected = g.protected
	}
	return checkBranch(branch, protected)
}
