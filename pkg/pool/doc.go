/*
Package pool supervises a bounded pool of isolated out-of-process workers
executing long-running automation tasks.

# Overview

The pool owns task admission, prioritized scheduling, load balancing across
workers, fault isolation, automatic worker replacement, and bounded retry of
failed tasks:
- Tasks carry a type tag, opaque payload, priority, timeout, and retry budget
- Queued tasks dispatch in descending priority; equal priorities keep FIFO order
- Idle workers are chosen per a configurable pooling strategy
- The pool scales between MinWorkers and MaxWorkers under load
- A periodic health sweep evicts stale and error-prone workers

# Core Components

## Pool

The supervisor. A single event-loop goroutine owns the worker registry and the
task queue; worker processes interact with it only through messages, so the
pool needs no locking of shared state.

## Task Queue

In-memory, priority-ordered holding area for tasks awaiting a worker. Retried
tasks re-enter at the front so they dispatch before fresh work.

## Health Sweep

A fixed-interval check that restarts idle workers gone stale, restarts workers
past the error threshold, and cooperatively retires the oldest idle worker
when the pool is over MinWorkers with an empty queue.

# Usage

	launcher := proc.NewCommandLauncher("./crawl-worker")
	p, err := pool.New(&pool.Config{
		Launcher:   launcher,
		MinWorkers: 2,
		MaxWorkers: 6,
		OnTaskCompleted: func(taskID string, result json.RawMessage) {
			// consume result
		},
		OnTaskFailed: func(taskID string, err error) {
			// retries exhausted
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := p.Start(ctx); err != nil {
		log.Fatal(err)
	}
	id, _ := p.AddTask(pool.TaskSpec{Type: "crawl", Payload: payload, Priority: 5})
	_ = id
	defer p.Shutdown(context.Background())

Callers observe exactly two task outcomes, OnTaskCompleted or OnTaskFailed;
worker identity and restarts are not part of the observable contract.
*/
package pool
