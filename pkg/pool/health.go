package pool

import (
	"time"

	"go.uber.org/zap"

	"github.com/kzhao17/procpool/pkg/proc"
)

// healthLoop drives the periodic health sweep until the pool closes
func (p *Pool) healthLoop() {
	ticker := p.clock.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			p.post(func() { p.sweep() })
		case <-p.loopCtx.Done():
			return
		}
	}
}

// sweep restarts unhealthy workers, tops the registry back up to MinWorkers,
// and cooperatively retires excess idle capacity. Loop-owned.
func (p *Pool) sweep() {
	if p.shuttingDown {
		return
	}
	now := p.clock.Now()

	// Restarts mutate the registry, so walk a snapshot.
	snapshot := append([]*workerRecord(nil), p.workers...)
	for _, w := range snapshot {
		if !p.registered(w) {
			continue
		}
		switch {
		case w.errorCount > p.cfg.ErrorThreshold:
			p.restartWorker(w, "error threshold exceeded")
		case w.state == workerStarting && now.Sub(w.startedAt) > p.cfg.ReadyTimeout:
			p.restartWorker(w, "never became ready")
		case w.state == workerIdle && !w.draining && now.Sub(w.lastActivity) > p.cfg.StaleAfter:
			p.restartWorker(w, "stale idle worker")
		}
	}

	// A failed replacement launch can leave the pool short; top it up here.
	for len(p.workers) < p.cfg.MinWorkers {
		if _, err := p.createWorker(); err != nil {
			break
		}
	}

	p.scaleDown(now)
}

// scaleDown retires the single oldest-idle worker when the pool holds more
// idle workers than MinWorkers and no work is queued. Retirement is
// cooperative: the worker gets a shutdown message and leaves on its own.
func (p *Pool) scaleDown(now time.Time) {
	if p.queue.len() > 0 {
		return
	}

	var idle []*workerRecord
	for _, w := range p.workers {
		if w.state == workerIdle && !w.draining {
			idle = append(idle, w)
		}
	}
	if len(idle) <= p.cfg.MinWorkers {
		return
	}

	oldest := idle[0]
	for _, w := range idle[1:] {
		if w.lastActivity.Before(oldest.lastActivity) {
			oldest = w
		}
	}

	oldest.draining = true
	p.log.Info("scaling down idle worker",
		zap.String("worker", oldest.id),
		zap.Duration("idle", now.Sub(oldest.lastActivity)))
	if err := oldest.tr.Send(proc.Message{Type: proc.MessageShutdown}); err != nil {
		p.log.Debug("scale-down send failed",
			zap.String("worker", oldest.id), zap.Error(err))
	}
}
