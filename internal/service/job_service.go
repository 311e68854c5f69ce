package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"build-orchestrator/internal/entity"
	"build-orchestrator/internal/safety"
)

var ErrInvalidJob = errors.New("invalid job")

// StateReader reads job state (implementation: postgresql.JobStateRepository).
type StateReader interface {
	Load(ctx context.Context, jobID string) (*entity.JobState, error)
}

// DeadLetterReader lists dead letters (implementation:
// postgresql.DeadLetterRepository).
type DeadLetterReader interface {
	ListByJob(ctx context.Context, jobID string) ([]entity.DeadLetterRecord, error)
}

// Approver unblocks paused jobs (implementation: owner.Registry).
type Approver interface {
	Approve(ctx context.Context, jobID string) error
}

// JobQueue is the enqueue side of Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, body []byte, priority entity.Priority) (string, error)
}

// BuildService is the API-facing side of the orchestrator. Submitted jobs go
// through the queue like any other producer's.
type BuildService struct {
	states      StateReader
	deadLetters DeadLetterReader
	approver    Approver
	queue       JobQueue
}

func NewBuildService(states StateReader, deadLetters DeadLetterReader, approver Approver, queue JobQueue) *BuildService {
	return &BuildService{states: states, deadLetters: deadLetters, approver: approver, queue: queue}
}

// Submit validates job and enqueues it. It returns the queue message id.
func (s *BuildService) Submit(ctx context.Context, job entity.BuildJob) (string, error) {
	if v := safety.ValidateJob(job); !v.Allowed {
		return "", fmt.Errorf("%w: %s", ErrInvalidJob, v.Reason)
	}
	if job.Priority == "" {
		job.Priority = entity.PriorityNormal
	}

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	id, err := s.queue.Enqueue(ctx, body, job.Priority)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *BuildService) Get(ctx context.Context, jobID string) (*entity.JobState, error) {
	return s.states.Load(ctx, jobID)
}

func (s *BuildService) Approve(ctx context.Context, jobID string) error {
	return s.approver.Approve(ctx, jobID)
}

func (s *BuildService) DeadLetters(ctx context.Context, jobID string) ([]entity.DeadLetterRecord, error) {
	return s.deadLetters.ListByJob(ctx, jobID)
}
