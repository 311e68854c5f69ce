package entity

import (
	"fmt"
	"slices"
	"time"
)

type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusRunning  JobStatus = "running"
	StatusPaused   JobStatus = "paused"
	StatusComplete JobStatus = "complete"
	StatusFailed   JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// allowed lists legal successor states. Terminal states have none.
var allowed = map[JobStatus][]JobStatus{
	StatusQueued:  {StatusRunning, StatusFailed},
	StatusRunning: {StatusRunning, StatusPaused, StatusComplete, StatusFailed},
	StatusPaused:  {StatusRunning, StatusFailed},
}

// JobState is the authoritative mutable record of one job. Only the job's
// owner mutates it.
type JobState struct {
	JobID              string    `json:"jobId"`
	Status             JobStatus `json:"status"`
	Job                BuildJob  `json:"job"`
	Plan               *WorkPlan `json:"plan,omitempty"`
	CompletedItems     []string  `json:"completedItems"`
	ResultRef          string    `json:"resultRef,omitempty"`
	Error              string    `json:"error,omitempty"`
	TokensUsed         int64     `json:"tokensUsed"`
	CostEstimate       float64   `json:"costEstimate"`
	StartedAt          time.Time `json:"startedAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
	Approved           bool      `json:"approved,omitempty"`
	ValidationWarnings []string  `json:"validationWarnings,omitempty"`

	BranchCreated bool     `json:"branchCreated,omitempty"`
	FlaggedItems  []string `json:"flaggedItems,omitempty"`
	WakeCount     int      `json:"wakeCount"`
}

func NewJobState(job BuildJob, now time.Time) *JobState {
	return &JobState{
		JobID:          job.JobID,
		Status:         StatusQueued,
		Job:            job,
		CompletedItems: []string{},
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// Transition moves the state to next, refreshing UpdatedAt.
func (s *JobState) Transition(next JobStatus, now time.Time) error {
	if !slices.Contains(allowed[s.Status], next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}

// Fail moves the state to failed and records reason.
func (s *JobState) Fail(reason string, now time.Time) error {
	if err := s.Transition(StatusFailed, now); err != nil {
		return err
	}
	s.Error = reason
	return nil
}

func (s *JobState) Touch(now time.Time) { s.UpdatedAt = now }

func (s *JobState) IsCompleted(path string) bool {
	return slices.Contains(s.CompletedItems, path)
}

func (s *JobState) MarkCompleted(path string, now time.Time) {
	if !s.IsCompleted(path) {
		s.CompletedItems = append(s.CompletedItems, path)
	}
	s.UpdatedAt = now
}

func (s *JobState) AddWarning(w string) {
	if !slices.Contains(s.ValidationWarnings, w) {
		s.ValidationWarnings = append(s.ValidationWarnings, w)
	}
}

// StalledAt reports whether a running job has made no progress for longer
// than threshold.
func (s *JobState) StalledAt(now time.Time, threshold time.Duration) bool {
	return s.Status == StatusRunning && now.Sub(s.UpdatedAt) > threshold
}
