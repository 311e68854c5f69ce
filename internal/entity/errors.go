package entity

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotPaused         = errors.New("job is not paused")
	ErrDuplicatePath     = errors.New("duplicate work item path")
)
