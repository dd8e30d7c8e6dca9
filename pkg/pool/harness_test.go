package pool

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/kzhao17/procpool/pkg/proc"
)

// fakeHandler produces the worker's reply to a dispatch frame; nil means the
// worker stays silent (simulates a hung task)
type fakeHandler func(t *fakeTransport, msg proc.Message) *proc.Message

// fakeLauncher hands out in-memory transports driven by a scripted worker
// loop, standing in for real child processes
type fakeLauncher struct {
	mu         sync.Mutex
	workers    []*fakeTransport
	dispatches []proc.Message
	launchErr  error
	killCount  int

	// handler decides dispatch replies; defaults to echoing the payload back
	// as a successful result
	handler fakeHandler

	// silentStart suppresses the automatic ready frame
	silentStart bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{}
}

func (l *fakeLauncher) Launch() (proc.Transport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	t := &fakeTransport{
		launcher: l,
		pid:      1000 + len(l.workers),
		toSup:    make(chan proc.Message, 32),
		fromSup:  make(chan proc.Message, 32),
		done:     make(chan struct{}),
	}
	l.workers = append(l.workers, t)
	go l.serve(t)
	return t, nil
}

// serve is the scripted worker side of one transport
func (l *fakeLauncher) serve(t *fakeTransport) {
	l.mu.Lock()
	silent := l.silentStart
	l.mu.Unlock()

	if !silent {
		t.push(proc.Message{Type: proc.MessageReady})
	}

	for {
		select {
		case msg := <-t.fromSup:
			switch msg.Type {
			case proc.MessageShutdown:
				t.exit()
				return
			case proc.MessageDispatch:
				l.mu.Lock()
				l.dispatches = append(l.dispatches, msg)
				handler := l.handler
				l.mu.Unlock()

				var reply *proc.Message
				if handler != nil {
					reply = handler(t, msg)
				} else {
					reply = &proc.Message{
						Type:   proc.MessageResult,
						TaskID: msg.TaskID,
						Result: msg.Payload,
					}
				}
				if reply != nil {
					t.push(*reply)
				}
			}
		case <-t.done:
			return
		}
	}
}

func (l *fakeLauncher) launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.workers)
}

func (l *fakeLauncher) dispatched() []proc.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]proc.Message(nil), l.dispatches...)
}

func (l *fakeLauncher) kills() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.killCount
}

func (l *fakeLauncher) setHandler(h fakeHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

func (l *fakeLauncher) setSilentStart(silent bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.silentStart = silent
}

func (l *fakeLauncher) setLaunchErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launchErr = err
}

func (l *fakeLauncher) worker(i int) *fakeTransport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workers[i]
}

// fakeTransport is the supervisor-facing half of a scripted worker
type fakeTransport struct {
	launcher *fakeLauncher
	pid      int
	toSup    chan proc.Message
	fromSup  chan proc.Message
	done     chan struct{}
	once     sync.Once
}

func (t *fakeTransport) Send(msg proc.Message) error {
	select {
	case t.fromSup <- msg:
		return nil
	case <-t.done:
		return errors.New("worker process gone")
	}
}

func (t *fakeTransport) Recv() (proc.Message, error) {
	select {
	case msg := <-t.toSup:
		return msg, nil
	case <-t.done:
		return proc.Message{}, io.EOF
	}
}

func (t *fakeTransport) Pid() int { return t.pid }

func (t *fakeTransport) Kill() error {
	t.launcher.mu.Lock()
	t.launcher.killCount++
	t.launcher.mu.Unlock()
	t.exit()
	return nil
}

// push delivers a frame to the supervisor unless the worker is dead
func (t *fakeTransport) push(msg proc.Message) {
	select {
	case t.toSup <- msg:
	case <-t.done:
	}
}

// exit simulates process termination: Recv starts failing with EOF
func (t *fakeTransport) exit() {
	t.once.Do(func() { close(t.done) })
}

// eventRecorder captures pool events for assertions
type eventRecorder struct {
	mu            sync.Mutex
	created       []string
	ready         []string
	exited        []string
	workerErrors  []error
	completed     []string
	completedData map[string]json.RawMessage
	failed        map[string]error
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		completedData: make(map[string]json.RawMessage),
		failed:        make(map[string]error),
	}
}

// install wires the recorder into a config
func (r *eventRecorder) install(cfg *Config) {
	cfg.OnWorkerCreated = func(id string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.created = append(r.created, id)
	}
	cfg.OnWorkerReady = func(id string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ready = append(r.ready, id)
	}
	cfg.OnWorkerExited = func(id string, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.exited = append(r.exited, id)
	}
	cfg.OnWorkerError = func(id string, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.workerErrors = append(r.workerErrors, err)
	}
	cfg.OnTaskCompleted = func(id string, result json.RawMessage) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.completed = append(r.completed, id)
		r.completedData[id] = result
	}
	cfg.OnTaskFailed = func(id string, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.failed[id] = err
	}
}

func (r *eventRecorder) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

func (r *eventRecorder) failedErr(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed[taskID]
}

func (r *eventRecorder) failedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failed)
}

func (r *eventRecorder) readyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}

func intPtr(n int) *int { return &n }
