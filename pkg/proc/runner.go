package proc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
)

// HandlerFunc executes one task type inside a worker process
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Runner is the worker-side message loop. A worker executable registers one
// handler per task type and calls Run; the runner announces readiness,
// executes dispatched tasks one at a time, and exits on a shutdown frame or
// when its stdin closes.
type Runner struct {
	handlers map[string]HandlerFunc
	in       io.Reader
	out      io.Writer
}

// NewRunner creates a runner bound to the process stdio pipes
func NewRunner() *Runner {
	return NewRunnerWithIO(os.Stdin, os.Stdout)
}

// NewRunnerWithIO creates a runner bound to explicit streams
func NewRunnerWithIO(in io.Reader, out io.Writer) *Runner {
	return &Runner{
		handlers: make(map[string]HandlerFunc),
		in:       in,
		out:      out,
	}
}

// Handle registers the handler for a task type. Registration must happen
// before Run; the mapping is fixed afterwards.
func (r *Runner) Handle(taskType string, fn HandlerFunc) {
	r.handlers[taskType] = fn
}

// Run announces readiness and processes frames until shutdown or EOF
func (r *Runner) Run(ctx context.Context) error {
	enc := json.NewEncoder(r.out)
	dec := json.NewDecoder(r.in)

	if err := enc.Encode(Message{Type: MessageReady}); err != nil {
		return fmt.Errorf("announce ready: %w", err)
	}

	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode frame: %w", err)
		}

		switch msg.Type {
		case MessageShutdown:
			return nil

		case MessageDispatch:
			reply := r.execute(ctx, msg)
			if err := enc.Encode(reply); err != nil {
				return fmt.Errorf("encode reply: %w", err)
			}

		default:
			// Unknown frames are ignored so protocol additions do not
			// kill older workers.
		}
	}
}

// execute runs the handler for one dispatch frame with panic recovery
func (r *Runner) execute(ctx context.Context, msg Message) Message {
	fn, ok := r.handlers[msg.TaskType]
	if !ok {
		return Message{
			Type:   MessageError,
			TaskID: msg.TaskID,
			Error:  fmt.Sprintf("no handler for task type %q", msg.TaskType),
		}
	}

	result, err := r.invoke(ctx, fn, msg.Payload)
	if err != nil {
		return Message{Type: MessageError, TaskID: msg.TaskID, Error: err.Error()}
	}
	return Message{Type: MessageResult, TaskID: msg.TaskID, Result: result}
}

// invoke calls a handler with panic recovery support
func (r *Runner) invoke(ctx context.Context, fn HandlerFunc, payload json.RawMessage) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)
			err = fmt.Errorf("panic: %v\n%s", rec, buf[:n])
		}
	}()

	return fn(ctx, payload)
}
