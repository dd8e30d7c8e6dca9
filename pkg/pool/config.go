package pool

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kzhao17/procpool/pkg/proc"
	"github.com/kzhao17/procpool/pkg/types"
)

// Strategy selects which idle worker receives the next dispatched task
type Strategy string

const (
	// StrategyRoundRobin cycles through idle workers in a fixed rotation
	StrategyRoundRobin Strategy = "round-robin"

	// StrategyLeastBusy picks the idle worker with the fewest completed tasks
	StrategyLeastBusy Strategy = "least-busy"

	// StrategyRandom picks a uniformly random idle worker
	StrategyRandom Strategy = "random"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastBusy, StrategyRandom:
		return true
	}
	return false
}

// Config contains configuration for the worker pool
type Config struct {
	// Launcher spawns worker processes. Required. The worker entry point is
	// resolved once here; the pool never branches on task type when spawning.
	Launcher proc.Launcher

	// MinWorkers is the number of workers kept alive at all times
	MinWorkers int

	// MaxWorkers is the hard ceiling the pool scales up to under load
	MaxWorkers int

	// TaskTimeout is the default per-task execution deadline
	TaskTimeout time.Duration

	// Retries is the default retry budget for a task after its first failure
	Retries int

	// PoolingStrategy picks idle workers for dispatch
	PoolingStrategy Strategy

	// ReadyTimeout bounds how long a spawned worker may take to report ready
	ReadyTimeout time.Duration

	// HealthInterval is the period of the health sweep
	HealthInterval time.Duration

	// StaleAfter is how long an idle worker may sit without activity before
	// the health sweep restarts it
	StaleAfter time.Duration

	// ShutdownGrace is how long Shutdown waits for cooperative worker exit
	// before force-terminating survivors
	ShutdownGrace time.Duration

	// ErrorThreshold is the cumulative error count past which a worker is
	// forcibly restarted
	ErrorThreshold int

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Logger for pool internals (optional, defaults to a no-op logger)
	Logger *zap.Logger

	// OnWorkerCreated fires when a worker process is launched
	OnWorkerCreated func(workerID string)

	// OnWorkerReady fires when a worker reports it can accept work
	OnWorkerReady func(workerID string)

	// OnWorkerError fires when a worker reports or causes a task failure
	OnWorkerError func(workerID string, err error)

	// OnWorkerExited fires when a worker leaves the registry; err is nil on
	// clean exit
	OnWorkerExited func(workerID string, err error)

	// OnTaskCompleted fires exactly once per successful task
	OnTaskCompleted func(taskID string, result json.RawMessage)

	// OnTaskFailed fires exactly once per task whose retry budget is exhausted
	OnTaskFailed func(taskID string, err error)
}

// DefaultConfig returns default configuration. Launcher must still be set by
// the caller.
func DefaultConfig() *Config {
	return &Config{
		MinWorkers:      2,
		MaxWorkers:      8,
		TaskTimeout:     30 * time.Second,
		Retries:         2,
		PoolingStrategy: StrategyRoundRobin,
		ReadyTimeout:    30 * time.Second,
		HealthInterval:  30 * time.Second,
		StaleAfter:      5 * time.Minute,
		ShutdownGrace:   5 * time.Second,
		ErrorThreshold:  5,
		Clock:           types.NewRealClock(),
	}
}

// withDefaults fills zero-valued fields from DefaultConfig
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	out := *c
	if out.MinWorkers == 0 {
		out.MinWorkers = def.MinWorkers
	}
	if out.MaxWorkers == 0 {
		out.MaxWorkers = def.MaxWorkers
	}
	if out.TaskTimeout == 0 {
		out.TaskTimeout = def.TaskTimeout
	}
	if out.Retries == 0 {
		out.Retries = def.Retries
	}
	if out.PoolingStrategy == "" {
		out.PoolingStrategy = def.PoolingStrategy
	}
	if out.ReadyTimeout == 0 {
		out.ReadyTimeout = def.ReadyTimeout
	}
	if out.HealthInterval == 0 {
		out.HealthInterval = def.HealthInterval
	}
	if out.StaleAfter == 0 {
		out.StaleAfter = def.StaleAfter
	}
	if out.ShutdownGrace == 0 {
		out.ShutdownGrace = def.ShutdownGrace
	}
	if out.ErrorThreshold == 0 {
		out.ErrorThreshold = def.ErrorThreshold
	}
	if out.Clock == nil {
		out.Clock = types.NewRealClock()
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}

// validate checks configuration consistency
func (c *Config) validate() error {
	if c.Launcher == nil {
		return fmt.Errorf("launcher is required")
	}
	if c.MinWorkers <= 0 {
		return fmt.Errorf("min workers must be positive, got %d", c.MinWorkers)
	}
	if c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("max workers (%d) must be >= min workers (%d)",
			c.MaxWorkers, c.MinWorkers)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if !c.PoolingStrategy.valid() {
		return fmt.Errorf("unknown pooling strategy %q", c.PoolingStrategy)
	}
	return nil
}
