package proc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runnerHarness drives a Runner over in-memory pipes, playing the
// supervisor's side of the protocol.
type runnerHarness struct {
	enc   *json.Encoder
	dec   *json.Decoder
	close func() error
	errCh chan error
}

func startRunner(t *testing.T, setup func(r *Runner)) *runnerHarness {
	t.Helper()

	workerIn, supOut := io.Pipe()
	supIn, workerOut := io.Pipe()

	r := NewRunnerWithIO(workerIn, workerOut)
	if setup != nil {
		setup(r)
	}

	h := &runnerHarness{
		enc:   json.NewEncoder(supOut),
		dec:   json.NewDecoder(supIn),
		close: supOut.Close,
		errCh: make(chan error, 1),
	}
	go func() { h.errCh <- r.Run(context.Background()) }()

	t.Cleanup(func() {
		h.close()
		select {
		case <-h.errCh:
		case <-time.After(3 * time.Second):
			t.Error("runner did not stop")
		}
	})
	return h
}

func (h *runnerHarness) send(t *testing.T, msg Message) {
	t.Helper()
	require.NoError(t, h.enc.Encode(msg))
}

func (h *runnerHarness) recv(t *testing.T) Message {
	t.Helper()
	var msg Message
	require.NoError(t, h.dec.Decode(&msg))
	return msg
}

func (h *runnerHarness) waitExit(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errCh:
		h.errCh <- err
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not exit")
		return nil
	}
}

func TestRunnerAnnouncesReady(t *testing.T) {
	h := startRunner(t, nil)
	assert.Equal(t, MessageReady, h.recv(t).Type)
}

func TestRunnerDispatchesToHandler(t *testing.T) {
	h := startRunner(t, func(r *Runner) {
		r.Handle("crawl", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			var req struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, err
			}
			return json.Marshal(map[string]string{"fetched": req.URL})
		})
	})
	require.Equal(t, MessageReady, h.recv(t).Type)

	h.send(t, Message{
		Type:     MessageDispatch,
		TaskID:   "task-1",
		TaskType: "crawl",
		Payload:  json.RawMessage(`{"url":"https://a.example"}`),
	})

	reply := h.recv(t)
	assert.Equal(t, MessageResult, reply.Type)
	assert.Equal(t, "task-1", reply.TaskID)
	assert.JSONEq(t, `{"fetched":"https://a.example"}`, string(reply.Result))
}

func TestRunnerReportsHandlerError(t *testing.T) {
	h := startRunner(t, func(r *Runner) {
		r.Handle("crawl", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("connection refused")
		})
	})
	require.Equal(t, MessageReady, h.recv(t).Type)

	h.send(t, Message{Type: MessageDispatch, TaskID: "task-2", TaskType: "crawl"})

	reply := h.recv(t)
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, "task-2", reply.TaskID)
	assert.Equal(t, "connection refused", reply.Error)
}

func TestRunnerRecoversHandlerPanic(t *testing.T) {
	h := startRunner(t, func(r *Runner) {
		r.Handle("crawl", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			panic("nil page handle")
		})
	})
	require.Equal(t, MessageReady, h.recv(t).Type)

	h.send(t, Message{Type: MessageDispatch, TaskID: "task-3", TaskType: "crawl"})

	reply := h.recv(t)
	assert.Equal(t, MessageError, reply.Type)
	assert.Contains(t, reply.Error, "panic: nil page handle")

	// The loop survives the panic and still answers the next frame.
	h.send(t, Message{Type: MessageDispatch, TaskID: "task-4", TaskType: "crawl"})
	assert.Equal(t, "task-4", h.recv(t).TaskID)
}

func TestRunnerRejectsUnknownTaskType(t *testing.T) {
	h := startRunner(t, nil)
	require.Equal(t, MessageReady, h.recv(t).Type)

	h.send(t, Message{Type: MessageDispatch, TaskID: "task-5", TaskType: "render"})

	reply := h.recv(t)
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, `no handler for task type "render"`, reply.Error)
}

func TestRunnerIgnoresUnknownFrames(t *testing.T) {
	h := startRunner(t, func(r *Runner) {
		r.Handle("crawl", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`"ok"`), nil
		})
	})
	require.Equal(t, MessageReady, h.recv(t).Type)

	h.send(t, Message{Type: MessageType("heartbeat")})
	h.send(t, Message{Type: MessageDispatch, TaskID: "task-6", TaskType: "crawl"})

	reply := h.recv(t)
	assert.Equal(t, MessageResult, reply.Type)
	assert.Equal(t, "task-6", reply.TaskID)
}

func TestRunnerStopsOnShutdown(t *testing.T) {
	h := startRunner(t, nil)
	require.Equal(t, MessageReady, h.recv(t).Type)

	h.send(t, Message{Type: MessageShutdown})
	assert.NoError(t, h.waitExit(t))
}

func TestRunnerStopsOnClosedInput(t *testing.T) {
	h := startRunner(t, nil)
	require.Equal(t, MessageReady, h.recv(t).Type)

	require.NoError(t, h.close())
	assert.NoError(t, h.waitExit(t))
}

func TestCommandLauncherMissingBinary(t *testing.T) {
	l := NewCommandLauncher("/nonexistent/worker-binary")
	_, err := l.Launch()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start worker")
}
