package proc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Transport is the supervisor's handle on one worker process. Send and Recv
// cross the process boundary; Recv returns an error once the process exits.
type Transport interface {
	// Send writes one frame to the worker
	Send(msg Message) error

	// Recv blocks for the next frame from the worker
	Recv() (Message, error)

	// Pid returns the worker's OS process id
	Pid() int

	// Kill force-terminates the worker process
	Kill() error
}

// Launcher spawns worker processes. The pool resolves its launcher once at
// construction; implementations other than CommandLauncher exist for tests.
type Launcher interface {
	Launch() (Transport, error)
}

// CommandLauncher launches workers as child processes speaking the stdio
// protocol. The entry point is resolved once; every worker runs the same
// command.
type CommandLauncher struct {
	// Path is the worker executable
	Path string

	// Args are passed to every worker
	Args []string

	// Env is the child environment; nil inherits the parent's
	Env []string
}

// NewCommandLauncher creates a launcher for the given worker command
func NewCommandLauncher(path string, args ...string) *CommandLauncher {
	return &CommandLauncher{Path: path, Args: args}
}

// Launch starts one worker process and wires its stdio pipes
func (l *CommandLauncher) Launch() (Transport, error) {
	cmd := exec.Command(l.Path, l.Args...)
	if l.Env != nil {
		cmd.Env = l.Env
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", l.Path, err)
	}

	return &cmdTransport{
		cmd:   cmd,
		stdin: stdin,
		enc:   json.NewEncoder(stdin),
		dec:   json.NewDecoder(bufio.NewReader(stdout)),
	}, nil
}

// cmdTransport frames messages over a child process's stdio pipes
type cmdTransport struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	sendMu sync.Mutex
	enc    *json.Encoder
	dec    *json.Decoder

	waitOnce sync.Once
	waitErr  error
}

func (t *cmdTransport) Send(msg Message) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.enc.Encode(msg)
}

func (t *cmdTransport) Recv() (Message, error) {
	var msg Message
	if err := t.dec.Decode(&msg); err != nil {
		// The pipe is gone; reap the child so it does not linger as a zombie.
		t.reap()
		return Message{}, err
	}
	return msg, nil
}

func (t *cmdTransport) Pid() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

func (t *cmdTransport) Kill() error {
	if t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Kill()
}

// reap waits for the child exactly once to release its process entry
func (t *cmdTransport) reap() {
	t.waitOnce.Do(func() {
		t.waitErr = t.cmd.Wait()
	})
}
