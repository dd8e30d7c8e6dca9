package pool

import (
	"time"

	"github.com/kzhao17/procpool/pkg/proc"
)

// workerState defines the state of a pooled worker process
type workerState int32

const (
	// workerStarting means the process is launched but not yet ready
	workerStarting workerState = iota
	// workerIdle means the worker is ready and holds no task
	workerIdle
	// workerBusy means the worker is executing a task
	workerBusy
)

// String returns the string representation of workerState
func (s workerState) String() string {
	switch s {
	case workerStarting:
		return "starting"
	case workerIdle:
		return "idle"
	case workerBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// workerRecord is the supervisor's bookkeeping for one worker process. All
// fields are owned by the supervisor loop.
type workerRecord struct {
	id string
	tr proc.Transport

	state    workerState
	draining bool

	tasksCompleted int64
	errorCount     int

	startedAt    time.Time
	lastActivity time.Time

	// current is the task the worker is executing; nil unless busy
	current *task

	// readyCh, when non-nil, is closed on the ready signal so Start can wait
	// for the initial workers
	readyCh chan struct{}
}

// registered reports whether w is still in the registry. Restart paths
// deregister records before the exit notification arrives, so exit handling
// must check.
func (p *Pool) registered(w *workerRecord) bool {
	for _, r := range p.workers {
		if r == w {
			return true
		}
	}
	return false
}

// removeWorker deregisters w and emits the exit event
func (p *Pool) removeWorker(w *workerRecord, err error) {
	for i, r := range p.workers {
		if r == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	p.emitWorkerExited(w.id, err)
}
