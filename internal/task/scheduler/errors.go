package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTask    = errors.New("scheduler: invalid task")
	ErrDuplicateTask  = errors.New("scheduler: task already pending")
	ErrTaskCompleted  = errors.New("scheduler: task already completed")
	ErrStepInProgress = errors.New("scheduler: step already in progress")
	ErrNameRequired   = errors.New("scheduler: name required")
)

// TaskError reports a failed task action. The task is still retired.
type TaskError struct {
	ID   TaskID
	Name string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s): %v", e.ID, e.Name, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
