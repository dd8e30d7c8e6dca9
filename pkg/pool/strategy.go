package pool

import (
	"math/rand"
)

// pickIdle selects an idle worker per the configured pooling strategy, or nil
// when no worker is idle. Draining workers are never selected.
func (p *Pool) pickIdle() *workerRecord {
	switch p.cfg.PoolingStrategy {
	case StrategyRoundRobin:
		return p.pickRoundRobin()
	case StrategyRandom:
		return p.pickRandom()
	default:
		return p.pickLeastBusy()
	}
}

func selectable(w *workerRecord) bool {
	return w.state == workerIdle && !w.draining
}

// pickRoundRobin cycles through the registry in a fixed rotation, resuming
// after the last worker it handed out
func (p *Pool) pickRoundRobin() *workerRecord {
	n := len(p.workers)
	for off := 1; off <= n; off++ {
		i := (p.rrCursor + off) % n
		if selectable(p.workers[i]) {
			p.rrCursor = i
			return p.workers[i]
		}
	}
	return nil
}

// pickLeastBusy picks the idle worker with the fewest completed tasks,
// breaking ties by registry order
func (p *Pool) pickLeastBusy() *workerRecord {
	var best *workerRecord
	for _, w := range p.workers {
		if !selectable(w) {
			continue
		}
		if best == nil || w.tasksCompleted < best.tasksCompleted {
			best = w
		}
	}
	return best
}

// pickRandom picks a uniformly random idle worker
func (p *Pool) pickRandom() *workerRecord {
	var idle []*workerRecord
	for _, w := range p.workers {
		if selectable(w) {
			idle = append(idle, w)
		}
	}
	if len(idle) == 0 {
		return nil
	}
	return idle[rand.Intn(len(idle))]
}
