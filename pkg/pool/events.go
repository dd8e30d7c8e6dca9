package pool

import (
	"encoding/json"
)

// Event callbacks run on the supervisor loop, so handlers must not block and
// must not call back into the pool. Emit helpers tolerate unset callbacks.

func (p *Pool) emitWorkerCreated(workerID string) {
	if p.cfg.OnWorkerCreated != nil {
		p.cfg.OnWorkerCreated(workerID)
	}
}

func (p *Pool) emitWorkerReady(workerID string) {
	if p.cfg.OnWorkerReady != nil {
		p.cfg.OnWorkerReady(workerID)
	}
}

func (p *Pool) emitWorkerError(workerID string, err error) {
	if p.cfg.OnWorkerError != nil {
		p.cfg.OnWorkerError(workerID, err)
	}
}

func (p *Pool) emitWorkerExited(workerID string, err error) {
	if p.cfg.OnWorkerExited != nil {
		p.cfg.OnWorkerExited(workerID, err)
	}
}

func (p *Pool) emitTaskCompleted(taskID string, result json.RawMessage) {
	if p.cfg.OnTaskCompleted != nil {
		p.cfg.OnTaskCompleted(taskID, result)
	}
}

func (p *Pool) emitTaskFailed(taskID string, err error) {
	if p.cfg.OnTaskFailed != nil {
		p.cfg.OnTaskFailed(taskID, err)
	}
}
