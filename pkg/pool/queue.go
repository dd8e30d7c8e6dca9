package pool

import (
	"sort"
)

// taskQueue holds tasks awaiting a worker in descending priority order.
// Equal priorities keep submission order. The queue is owned by the
// supervisor loop and is deliberately unbounded.
type taskQueue struct {
	items []*task
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

// enqueue inserts a task and stably re-sorts by descending priority
func (q *taskQueue) enqueue(t *task) {
	q.items = append(q.items, t)
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].priority > q.items[j].priority
	})
}

// requeueFront re-inserts a retried task at the head of the queue so retries
// dispatch before fresh work of the same priority
func (q *taskQueue) requeueFront(t *task) {
	q.items = append([]*task{t}, q.items...)
}

// dequeue removes and returns the highest-priority task
func (q *taskQueue) dequeue() (*task, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t, true
}

func (q *taskQueue) len() int {
	return len(q.items)
}
