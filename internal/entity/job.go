package entity

import "strings"

// Priority selects the delivery lane of a build job message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Lane maps a priority onto the queue lane index: 0=low, 1=normal, 2=high.
// Unknown values land in the normal lane.
func (p Priority) Lane() int {
	switch Priority(strings.ToLower(string(p))) {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

const DefaultBranchPrefix = "ai-build/"

// BudgetLimits caps the spend of one job.
type BudgetLimits struct {
	MaxTokens  int64   `json:"maxTokens" validate:"gte=0"`
	MaxDollars float64 `json:"maxDollars" validate:"gte=0"`
}

// BuildJob is the immutable request produced upstream. Its JSON form is the
// queue message body.
type BuildJob struct {
	JobID           string       `json:"jobId" validate:"required"`
	SpecID          string       `json:"specId" validate:"required"`
	UserID          string       `json:"userId"`
	TargetRepoType  string       `json:"targetRepoType"`
	RepoOwner       string       `json:"repoOwner" validate:"required"`
	RepoName        string       `json:"repoName" validate:"required"`
	BaseBranch      string       `json:"baseBranch"`
	BranchPrefix    string       `json:"branchPrefix"`
	SpecMarkdown    string       `json:"specMarkdown" validate:"required"`
	EstimatedEffort string       `json:"estimatedEffort"`
	Priority        Priority     `json:"priority"`
	CallbackURL     string       `json:"callbackUrl" validate:"required,http_url"`
	Budget          BudgetLimits `json:"budget"`
	TrustLevel      *int         `json:"trustLevel,omitempty" validate:"omitempty,min=0,max=5"`
}

// RepoRef identifies the repository a job writes to.
type RepoRef struct {
	Owner      string
	Name       string
	BaseBranch string
}

func (j BuildJob) Repo() RepoRef {
	base := j.BaseBranch
	if base == "" {
		base = "main"
	}
	return RepoRef{Owner: j.RepoOwner, Name: j.RepoName, BaseBranch: base}
}

// BranchName is the working branch of the job. It is derived only from the
// job itself so every re-evaluation yields the same name.
func (j BuildJob) BranchName() string {
	prefix := j.BranchPrefix
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	if !strings.HasSuffix(prefix, "/") && !strings.HasSuffix(prefix, "-") {
		prefix += "/"
	}
	return prefix + "job-" + j.JobID
}
