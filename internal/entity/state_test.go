package entity_test

import (
	"errors"
	"testing"
	"time"

	"build-orchestrator/internal/entity"
)

func TestJobState_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		from, to entity.JobStatus
		ok       bool
	}{
		{entity.StatusQueued, entity.StatusRunning, true},
		{entity.StatusQueued, entity.StatusPaused, false},
		{entity.StatusRunning, entity.StatusPaused, true},
		{entity.StatusPaused, entity.StatusRunning, true},
		{entity.StatusPaused, entity.StatusComplete, false},
		{entity.StatusRunning, entity.StatusComplete, true},
		{entity.StatusComplete, entity.StatusRunning, false},
		{entity.StatusFailed, entity.StatusQueued, false},
		{entity.StatusComplete, entity.StatusFailed, false},
	}

	for _, tc := range cases {
		st := &entity.JobState{Status: tc.from}
		err := st.Transition(tc.to, now)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: expected ok, got %v", tc.from, tc.to, err)
		}
		if !tc.ok {
			if !errors.Is(err, entity.ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
			}
			if st.Status != tc.from {
				t.Fatalf("%s -> %s: status changed on rejected transition", tc.from, tc.to)
			}
		}
		if tc.ok && !st.UpdatedAt.Equal(now) {
			t.Fatalf("expected UpdatedAt refreshed")
		}
	}
}

func TestJobState_StalledAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := &entity.JobState{Status: entity.StatusRunning, UpdatedAt: now.Add(-20 * time.Minute)}

	if !st.StalledAt(now, 15*time.Minute) {
		t.Fatalf("expected stalled")
	}
	st.Status = entity.StatusPaused
	if st.StalledAt(now, 15*time.Minute) {
		t.Fatalf("paused job must never count as stalled")
	}
}

func TestWorkPlan_ValidateRejectsDuplicatePaths(t *testing.T) {
	p := entity.WorkPlan{Items: []entity.WorkItem{{Path: "a.go"}, {Path: "b.go"}, {Path: "a.go"}}}
	if err := p.Validate(); !errors.Is(err, entity.ErrDuplicatePath) {
		t.Fatalf("expected ErrDuplicatePath, got %v", err)
	}
}

func TestBuildJob_BranchName(t *testing.T) {
	j := entity.BuildJob{JobID: "42"}
	if got := j.BranchName(); got != "ai-build/job-42" {
		t.Fatalf("expected default prefix, got %s", got)
	}
	j.BranchPrefix = "feature"
	if got := j.BranchName(); got != "feature/job-42" {
		t.Fatalf("expected separator appended, got %s", got)
	}
}

func TestPriority_Lane(t *testing.T) {
	if entity.Priority("HIGH").Lane() != 2 {
		t.Fatalf("expected high lane")
	}
	if entity.Priority("whatever").Lane() != 1 {
		t.Fatalf("expected unknown priority in normal lane")
	}
}
