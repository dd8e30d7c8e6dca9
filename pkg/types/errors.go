package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrPoolNotStarted indicates the pool has not been started yet
	ErrPoolNotStarted = errors.New("pool is not started")

	// ErrPoolRunning indicates the pool is already running
	ErrPoolRunning = errors.New("pool is already running")

	// ErrPoolClosed indicates the pool has been shut down
	ErrPoolClosed = errors.New("pool is closed")

	// ErrTaskTimeout indicates a task exceeded its allotted duration.
	// The message text is part of the wire contract with callers.
	ErrTaskTimeout = errors.New("task timeout")

	// ErrReadyTimeout indicates a spawned worker never reported ready in time
	ErrReadyTimeout = errors.New("worker ready timeout")

	// ErrWorkerCrash indicates a worker process exited while holding a task
	ErrWorkerCrash = errors.New("worker crashed")
)

// TaskError represents a task-level failure attributed to a specific worker
type TaskError struct {
	// TaskID is the failed task's id
	TaskID string

	// WorkerID is the worker the failure is attributed to; empty when the
	// task never reached a worker
	WorkerID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *TaskError) Error() string {
	if e.WorkerID == "" {
		return fmt.Sprintf("task %s: %v", e.TaskID, e.Cause)
	}
	return fmt.Sprintf("task %s on %s: %v", e.TaskID, e.WorkerID, e.Cause)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// NewTaskError creates a new task error
func NewTaskError(taskID, workerID string, cause error) *TaskError {
	return &TaskError{
		TaskID:   taskID,
		WorkerID: workerID,
		Cause:    cause,
	}
}
