package pool

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// taskIDCounter is the global task ID counter
var taskIDCounter int64

// TaskSpec describes one task submission
type TaskSpec struct {
	// Type selects the handler on the worker side
	Type string

	// Payload is opaque data handed to the worker
	Payload json.RawMessage

	// Priority orders dispatch; higher dispatches first
	Priority int

	// Timeout overrides the pool-wide task timeout when positive
	Timeout time.Duration

	// Retries overrides the pool-wide retry budget when non-nil
	Retries *int
}

// task is the pool's internal view of a submitted task. A task lives either
// in the queue or in the active map, never both.
type task struct {
	id       string
	taskType string
	payload  json.RawMessage
	priority int
	timeout  time.Duration

	retriesLeft int
	attempt     int64
	submitted   time.Time

	// worker holds the record currently executing the task; nil while queued
	worker *workerRecord

	// timerStop cancels the timeout watcher for the current attempt
	timerStop chan struct{}
}

// newTask admits a spec, generating the task id and resolving defaults
func (p *Pool) newTask(spec TaskSpec) *task {
	retries := p.cfg.Retries
	if spec.Retries != nil {
		retries = *spec.Retries
	}
	return &task{
		id:          fmt.Sprintf("task-%d", atomic.AddInt64(&taskIDCounter, 1)),
		taskType:    spec.Type,
		payload:     spec.Payload,
		priority:    spec.Priority,
		timeout:     spec.Timeout,
		retriesLeft: retries,
		submitted:   p.clock.Now(),
	}
}
