package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kzhao17/procpool/pkg/proc"
	"github.com/kzhao17/procpool/pkg/types"
)

// Pool supervises a bounded set of out-of-process workers. All registry and
// queue state is owned by a single event loop goroutine; worker processes
// interact with it only through messages, so no state here needs a lock.
type Pool struct {
	cfg   *Config
	clock types.Clock
	log   *zap.Logger

	// state: 0 new, 1 running, 2 closed
	state int32

	calls      chan func()
	loopCtx    context.Context
	loopCancel context.CancelFunc

	// Loop-owned state. Touch only from functions posted to the loop.
	queue        *taskQueue
	workers      []*workerRecord
	active       map[string]*task
	shuttingDown bool
	rrCursor     int

	nextWorkerID   int64
	totalCompleted int64
	totalErrors    int64
}

// New creates a pool from the given configuration. Zero-valued fields take
// defaults; Launcher is required.
func New(cfg *Config) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Pool{
		cfg:    cfg,
		clock:  cfg.Clock,
		log:    cfg.Logger,
		calls:  make(chan func(), 256),
		queue:  newTaskQueue(),
		active: make(map[string]*task),
	}, nil
}

// Start spawns the minimum worker set, waiting for each to report ready
// within ReadyTimeout, then begins the health sweep. It is the only blocking
// call in the pool's surface; it fails if any initial worker never readies.
func (p *Pool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, 0, 1) {
		if atomic.LoadInt32(&p.state) == 2 {
			return types.ErrPoolClosed
		}
		return types.ErrPoolRunning
	}

	p.loopCtx, p.loopCancel = context.WithCancel(context.Background())
	go p.run()

	for i := 0; i < p.cfg.MinWorkers; i++ {
		if err := p.spawnInitial(ctx); err != nil {
			p.terminate()
			return fmt.Errorf("start pool: %w", err)
		}
	}

	go p.healthLoop()

	p.log.Info("pool started",
		zap.Int("minWorkers", p.cfg.MinWorkers),
		zap.Int("maxWorkers", p.cfg.MaxWorkers),
		zap.String("strategy", string(p.cfg.PoolingStrategy)))
	return nil
}

// AddTask admits a task and returns its generated id immediately. Execution
// is asynchronous; outcomes surface through OnTaskCompleted/OnTaskFailed.
// Admission never rejects on queue depth.
func (p *Pool) AddTask(spec TaskSpec) (string, error) {
	switch atomic.LoadInt32(&p.state) {
	case 0:
		return "", types.ErrPoolNotStarted
	case 2:
		return "", types.ErrPoolClosed
	}
	if spec.Type == "" {
		return "", fmt.Errorf("task type must not be empty")
	}

	t := p.newTask(spec)
	p.post(func() {
		if p.shuttingDown {
			p.emitTaskFailed(t.id, types.ErrPoolClosed)
			return
		}
		p.queue.enqueue(t)
		p.processQueue()
	})
	return t.id, nil
}

// Shutdown broadcasts a shutdown message to every live worker, waits up to
// ShutdownGrace for cooperative exit, then force-terminates survivors.
// Pending and in-flight tasks fail with ErrPoolClosed.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, 1, 2) {
		if atomic.LoadInt32(&p.state) == 2 {
			return nil
		}
		return types.ErrPoolNotStarted
	}
	p.log.Info("pool shutting down")

	p.post(func() {
		p.shuttingDown = true
		p.failPending(types.ErrPoolClosed)
		for _, w := range p.workers {
			if err := w.tr.Send(proc.Message{Type: proc.MessageShutdown}); err != nil {
				p.log.Debug("shutdown send failed",
					zap.String("worker", w.id), zap.Error(err))
			}
		}
	})

	deadline := p.clock.NewTimer(p.cfg.ShutdownGrace)
	defer deadline.Stop()
	poll := p.clock.NewTicker(20 * time.Millisecond)
	defer poll.Stop()

	for p.liveWorkers() > 0 {
		select {
		case <-poll.C():
		case <-deadline.C():
			err := p.killRemaining()
			p.loopCancel()
			return err
		case <-ctx.Done():
			err := multierr.Append(ctx.Err(), p.killRemaining())
			p.loopCancel()
			return err
		}
	}

	p.loopCancel()
	return nil
}

// run is the supervisor event loop. Handlers execute one at a time, so they
// never race with each other.
func (p *Pool) run() {
	for {
		select {
		case fn := <-p.calls:
			fn()
		case <-p.loopCtx.Done():
			return
		}
	}
}

// post hands fn to the event loop
func (p *Pool) post(fn func()) {
	select {
	case p.calls <- fn:
	case <-p.loopCtx.Done():
	}
}

// spawnInitial creates one worker on the loop and blocks until it reports
// ready, its launch fails, or the readiness timeout fires
func (p *Pool) spawnInitial(ctx context.Context) error {
	readyCh := make(chan struct{})
	errCh := make(chan error, 1)
	p.post(func() {
		w, err := p.createWorker()
		if err != nil {
			errCh <- err
			return
		}
		w.readyCh = readyCh
	})

	timer := p.clock.NewTimer(p.cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-readyCh:
		return nil
	case err := <-errCh:
		return err
	case <-timer.C():
		return types.ErrReadyTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// createWorker launches a process, registers its record as starting, and
// begins pumping its messages into the loop. Loop-owned.
func (p *Pool) createWorker() (*workerRecord, error) {
	tr, err := p.cfg.Launcher.Launch()
	if err != nil {
		p.log.Error("worker launch failed", zap.Error(err))
		return nil, fmt.Errorf("launch worker: %w", err)
	}

	now := p.clock.Now()
	w := &workerRecord{
		id:           fmt.Sprintf("worker-%d", atomic.AddInt64(&p.nextWorkerID, 1)),
		tr:           tr,
		state:        workerStarting,
		startedAt:    now,
		lastActivity: now,
	}
	p.workers = append(p.workers, w)
	p.emitWorkerCreated(w.id)
	p.log.Debug("worker created",
		zap.String("worker", w.id), zap.Int("pid", tr.Pid()))

	go p.pump(w)
	return w, nil
}

// pump relays one worker's messages into the loop until the process exits
func (p *Pool) pump(w *workerRecord) {
	for {
		msg, err := w.tr.Recv()
		if err != nil {
			p.post(func() { p.handleExit(w, err) })
			return
		}
		m := msg
		p.post(func() { p.handleMessage(w, m) })
	}
}

// handleMessage routes one worker-to-supervisor frame. Loop-owned.
func (p *Pool) handleMessage(w *workerRecord, msg proc.Message) {
	if !p.registered(w) {
		return
	}
	switch msg.Type {
	case proc.MessageReady:
		p.handleReady(w)
	case proc.MessageResult:
		p.handleResult(w, msg)
	case proc.MessageError:
		p.handleTaskError(w, msg.TaskID, errors.New(msg.Error))
	default:
		p.log.Warn("unexpected frame from worker",
			zap.String("worker", w.id), zap.String("type", string(msg.Type)))
	}
}

func (p *Pool) handleReady(w *workerRecord) {
	w.state = workerIdle
	w.lastActivity = p.clock.Now()
	if w.readyCh != nil {
		close(w.readyCh)
		w.readyCh = nil
	}
	p.emitWorkerReady(w.id)
	p.log.Debug("worker ready", zap.String("worker", w.id))
	p.processQueue()
}

func (p *Pool) handleResult(w *workerRecord, msg proc.Message) {
	w.state = workerIdle
	w.current = nil
	w.lastActivity = p.clock.Now()

	t, ok := p.active[msg.TaskID]
	if !ok || t.worker != w {
		// Late reply for a task already abandoned (timeout or shutdown).
		p.log.Debug("stale result", zap.String("task", msg.TaskID))
		p.processQueue()
		return
	}

	delete(p.active, msg.TaskID)
	p.stopTimer(t)
	w.tasksCompleted++
	atomic.AddInt64(&p.totalCompleted, 1)

	p.emitTaskCompleted(t.id, msg.Result)
	p.log.Debug("task completed",
		zap.String("task", t.id), zap.String("worker", w.id))
	p.processQueue()
}

// handleTaskError processes a worker-reported failure for one task
func (p *Pool) handleTaskError(w *workerRecord, taskID string, cause error) {
	w.state = workerIdle
	w.current = nil
	w.errorCount++
	w.lastActivity = p.clock.Now()
	atomic.AddInt64(&p.totalErrors, 1)
	p.emitWorkerError(w.id, cause)

	if t, ok := p.active[taskID]; ok && t.worker == w {
		delete(p.active, taskID)
		p.stopTimer(t)
		t.worker = nil
		p.routeFailure(t, types.NewTaskError(taskID, w.id, cause))
	}

	if w.errorCount > p.cfg.ErrorThreshold {
		p.restartWorker(w, "error threshold exceeded")
	}
	p.processQueue()
}

// handleTimeout fires when a dispatched task outlives its deadline. The
// attempt guard discards timers from earlier attempts of a retried task.
func (p *Pool) handleTimeout(taskID string, attempt int64) {
	t, ok := p.active[taskID]
	if !ok || t.attempt != attempt {
		return
	}
	w := t.worker

	p.log.Warn("task timeout",
		zap.String("task", t.id), zap.String("worker", w.id))

	delete(p.active, taskID)
	t.timerStop = nil
	t.worker = nil
	w.current = nil
	w.errorCount++
	atomic.AddInt64(&p.totalErrors, 1)
	p.emitWorkerError(w.id, types.ErrTaskTimeout)

	p.routeFailure(t, types.NewTaskError(taskID, w.id, types.ErrTaskTimeout))

	// The worker is still grinding on the abandoned task; replace it.
	p.restartWorker(w, "task timeout")
	p.processQueue()
}

// handleExit processes an unsolicited process exit. Forced restarts
// deregister first, so this is a no-op for them.
func (p *Pool) handleExit(w *workerRecord, cause error) {
	if !p.registered(w) {
		return
	}
	if errors.Is(cause, io.EOF) {
		cause = nil
	}
	p.log.Info("worker exited",
		zap.String("worker", w.id), zap.Error(cause))

	if t := w.current; t != nil {
		delete(p.active, t.id)
		p.stopTimer(t)
		t.worker = nil
		w.current = nil
		p.routeFailure(t, types.NewTaskError(t.id, w.id, types.ErrWorkerCrash))
	}

	p.removeWorker(w, cause)

	if !p.shuttingDown && len(p.workers) < p.cfg.MinWorkers {
		if _, err := p.createWorker(); err != nil {
			p.log.Error("replacement launch failed", zap.Error(err))
		}
	}
	p.processQueue()
}

// routeFailure applies the retry policy: decrement the budget and requeue at
// the front, or fail terminally once the budget is spent. Loop-owned.
func (p *Pool) routeFailure(t *task, err error) {
	if t.retriesLeft > 0 {
		t.retriesLeft--
		p.queue.requeueFront(t)
		p.log.Debug("task requeued for retry",
			zap.String("task", t.id), zap.Int("retriesLeft", t.retriesLeft))
		return
	}
	p.emitTaskFailed(t.id, err)
	p.log.Debug("task failed", zap.String("task", t.id), zap.Error(err))
}

// processQueue drains the queue onto idle workers. When none is idle and the
// registry is below MaxWorkers it requests one new worker instead of
// blocking; at MaxWorkers tasks simply wait. Loop-owned.
func (p *Pool) processQueue() {
	if p.shuttingDown {
		return
	}
	for p.queue.len() > 0 {
		w := p.pickIdle()
		if w == nil {
			if len(p.workers) < p.cfg.MaxWorkers {
				if _, err := p.createWorker(); err != nil {
					p.log.Error("scale-up launch failed", zap.Error(err))
				}
			}
			return
		}
		t, _ := p.queue.dequeue()
		p.dispatch(w, t)
	}
}

// dispatch sends a task to a worker and arms its timeout. Loop-owned.
func (p *Pool) dispatch(w *workerRecord, t *task) {
	t.attempt++
	t.worker = w
	w.current = t
	w.state = workerBusy
	w.lastActivity = p.clock.Now()
	p.active[t.id] = t

	err := w.tr.Send(proc.Message{
		Type:     proc.MessageDispatch,
		TaskID:   t.id,
		TaskType: t.taskType,
		Payload:  t.payload,
	})
	if err != nil {
		// The pipe is broken; the exit pump will reap the worker itself.
		p.log.Warn("dispatch failed",
			zap.String("worker", w.id), zap.String("task", t.id), zap.Error(err))
		delete(p.active, t.id)
		t.worker = nil
		w.current = nil
		w.errorCount++
		atomic.AddInt64(&p.totalErrors, 1)
		p.emitWorkerError(w.id, err)
		p.routeFailure(t, types.NewTaskError(t.id, w.id, err))
		return
	}

	p.armTimeout(t)
	p.log.Debug("task dispatched",
		zap.String("task", t.id), zap.String("worker", w.id),
		zap.Int("priority", t.priority))
}

// armTimeout starts the timeout watcher for the task's current attempt
func (p *Pool) armTimeout(t *task) {
	d := t.timeout
	if d <= 0 {
		d = p.cfg.TaskTimeout
	}
	stop := make(chan struct{})
	t.timerStop = stop

	// Create the timer here, not in the goroutine, so the deadline is armed
	// before dispatch returns.
	timer := p.clock.NewTimer(d)

	id, attempt := t.id, t.attempt
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C():
			p.post(func() { p.handleTimeout(id, attempt) })
		case <-stop:
		case <-p.loopCtx.Done():
		}
	}()
}

func (p *Pool) stopTimer(t *task) {
	if t.timerStop != nil {
		close(t.timerStop)
		t.timerStop = nil
	}
}

// restartWorker kills a worker, re-routes any task it holds, and spawns a
// replacement. Loop-owned.
func (p *Pool) restartWorker(w *workerRecord, reason string) {
	if !p.registered(w) {
		return
	}
	p.log.Warn("restarting worker",
		zap.String("worker", w.id), zap.String("reason", reason))

	if t := w.current; t != nil {
		delete(p.active, t.id)
		p.stopTimer(t)
		t.worker = nil
		w.current = nil
		p.routeFailure(t, types.NewTaskError(t.id, w.id, types.ErrWorkerCrash))
	}

	p.removeWorker(w, fmt.Errorf("restarted: %s", reason))
	if err := w.tr.Kill(); err != nil {
		p.log.Debug("kill failed", zap.String("worker", w.id), zap.Error(err))
	}

	if !p.shuttingDown {
		if _, err := p.createWorker(); err != nil {
			p.log.Error("replacement launch failed", zap.Error(err))
		}
	}
}

// failPending fails every queued and in-flight task with err. Loop-owned,
// shutdown path only.
func (p *Pool) failPending(err error) {
	for id, t := range p.active {
		p.stopTimer(t)
		if t.worker != nil {
			t.worker.current = nil
			t.worker = nil
		}
		delete(p.active, id)
		p.emitTaskFailed(id, err)
	}
	for {
		t, ok := p.queue.dequeue()
		if !ok {
			break
		}
		p.emitTaskFailed(t.id, err)
	}
}

// liveWorkers asks the loop for the registry size
func (p *Pool) liveWorkers() int {
	ch := make(chan int, 1)
	p.post(func() { ch <- len(p.workers) })
	select {
	case n := <-ch:
		return n
	case <-p.loopCtx.Done():
		return 0
	}
}

// killRemaining force-terminates every worker still registered
func (p *Pool) killRemaining() error {
	errCh := make(chan error, 1)
	p.post(func() {
		var err error
		for _, w := range p.workers {
			p.log.Warn("force-killing worker", zap.String("worker", w.id))
			if kerr := w.tr.Kill(); kerr != nil {
				err = multierr.Append(err, fmt.Errorf("kill %s: %w", w.id, kerr))
			}
			p.emitWorkerExited(w.id, types.ErrPoolClosed)
		}
		p.workers = nil
		errCh <- err
	})
	select {
	case err := <-errCh:
		return err
	case <-p.loopCtx.Done():
		return nil
	}
}

// terminate tears the pool down after a failed Start
func (p *Pool) terminate() {
	atomic.StoreInt32(&p.state, 2)
	p.post(func() { p.shuttingDown = true })
	_ = p.killRemaining()
	p.loopCancel()
}
