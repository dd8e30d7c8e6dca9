// Package proc implements the process boundary between the pool supervisor
// and its worker executables
package proc

import (
	"encoding/json"
)

// MessageType identifies a protocol message
type MessageType string

const (
	// MessageReady is sent by a worker once it can accept work
	MessageReady MessageType = "ready"

	// MessageDispatch carries a task from the supervisor to a worker
	MessageDispatch MessageType = "dispatch"

	// MessageResult reports successful task completion
	MessageResult MessageType = "result"

	// MessageError reports task failure
	MessageError MessageType = "error"

	// MessageShutdown asks a worker to exit; no reply is expected
	MessageShutdown MessageType = "shutdown"
)

// Message is the single frame type exchanged in both directions. Frames are
// newline-delimited JSON on the worker's stdio pipes.
type Message struct {
	Type MessageType `json:"type"`

	// TaskID identifies the task for dispatch/result/error frames
	TaskID string `json:"taskId,omitempty"`

	// TaskType selects the worker-side handler on dispatch
	TaskType string `json:"taskType,omitempty"`

	// Payload is the opaque task payload on dispatch
	Payload json.RawMessage `json:"payload,omitempty"`

	// Result is the opaque task result on result frames
	Result json.RawMessage `json:"result,omitempty"`

	// Error is the failure description on error frames
	Error string `json:"error,omitempty"`
}
