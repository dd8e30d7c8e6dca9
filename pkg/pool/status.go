package pool

import (
	"sync/atomic"
	"time"
)

// WorkerStatus is a point-in-time view of one worker
type WorkerStatus struct {
	ID             string
	Pid            int
	State          string
	Draining       bool
	TasksCompleted int64
	ErrorCount     int
	LastActivity   time.Time
}

// Status is a point-in-time snapshot of the pool
type Status struct {
	MinWorkers int
	MaxWorkers int
	Strategy   Strategy

	Workers        []WorkerStatus
	QueueSize      int
	ActiveTasks    int
	TotalCompleted int64
	TotalErrors    int64
}

// Status returns a snapshot of the pool. After shutdown the worker list is
// empty but lifetime totals remain available.
func (p *Pool) Status() Status {
	st := Status{
		MinWorkers:     p.cfg.MinWorkers,
		MaxWorkers:     p.cfg.MaxWorkers,
		Strategy:       p.cfg.PoolingStrategy,
		TotalCompleted: atomic.LoadInt64(&p.totalCompleted),
		TotalErrors:    atomic.LoadInt64(&p.totalErrors),
	}
	if atomic.LoadInt32(&p.state) != 1 {
		return st
	}

	done := make(chan struct{})
	p.post(func() {
		defer close(done)
		st.QueueSize = p.queue.len()
		st.ActiveTasks = len(p.active)
		for _, w := range p.workers {
			st.Workers = append(st.Workers, WorkerStatus{
				ID:             w.id,
				Pid:            w.tr.Pid(),
				State:          w.state.String(),
				Draining:       w.draining,
				TasksCompleted: w.tasksCompleted,
				ErrorCount:     w.errorCount,
				LastActivity:   w.lastActivity,
			})
		}
	})
	select {
	case <-done:
	case <-p.loopCtx.Done():
	}
	return st
}
