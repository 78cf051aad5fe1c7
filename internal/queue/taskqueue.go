// Package queue implements the queue daemon's core: a two-stage task
// queue with worker leases, a confirmation map for unverified requests,
// durable snapshots and the sweeper that reclaims work from dead
// workers.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/numerus/internal/task"
)

// ErrUnknownTask marks operations against a task id not currently held
// in the in-flight stage.
var ErrUnknownTask = errors.New("unknown task id")

// VersionKey identifies one loadable model version.
type VersionKey struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (k VersionKey) String() string {
	return fmt.Sprintf("%s@%s", k.Name, k.Version)
}

type inflight struct {
	task    *task.Task
	touched time.Time
}

// TaskQueue holds confirmed work in two stages: pending tasks awaiting a
// worker, and in-flight tasks leased to a worker and kept alive by
// heartbeats. A lease that goes quiet is reclaimed by the sweeper.
type TaskQueue struct {
	mu       sync.Mutex
	pending  []*task.Task
	inflight []inflight
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Put appends a task to the pending stage.
func (q *TaskQueue) Put(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, t)
}

// PutInflight moves a task into the in-flight stage with a fresh
// heartbeat timestamp.
func (q *TaskQueue) PutInflight(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight = append(q.inflight, inflight{task: t, touched: time.Now()})
}

// PullNextVersioned removes and returns the oldest pending task whose
// model version the worker can load. Returns nil when no pending task
// matches.
func (q *TaskQueue) PullNextVersioned(supported map[VersionKey]bool) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.pending {
		k := VersionKey{Name: t.Definition.ShortName, Version: t.Definition.Version}
		if supported[k] {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return t
		}
	}
	return nil
}

// Touch refreshes the heartbeat timestamp of an in-flight task.
func (q *TaskQueue) Touch(taskID uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.inflight {
		if q.inflight[i].task.TaskID == taskID {
			q.inflight[i].touched = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrUnknownTask, taskID)
}

// HasInflight reports whether a task id is currently leased.
func (q *TaskQueue) HasInflight(taskID uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.inflight {
		if q.inflight[i].task.TaskID == taskID {
			return true
		}
	}
	return false
}

// PullInflight removes and returns a leased task by id.
func (q *TaskQueue) PullInflight(taskID uint64) (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.inflight {
		if q.inflight[i].task.TaskID == taskID {
			t := q.inflight[i].task
			q.inflight = append(q.inflight[:i], q.inflight[i+1:]...)
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownTask, taskID)
}

// PullInflightOlderThan removes and returns every leased task whose last
// heartbeat is at or before the cutoff.
func (q *TaskQueue) PullInflightOlderThan(cutoff time.Time) []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stale []*task.Task
	kept := q.inflight[:0]
	for _, entry := range q.inflight {
		if !entry.touched.After(cutoff) {
			stale = append(stale, entry.task)
		} else {
			kept = append(kept, entry)
		}
	}
	q.inflight = kept
	return stale
}

// IsEmpty reports whether the pending stage is empty.
func (q *TaskQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}

// Lengths reports the pending and in-flight stage sizes.
func (q *TaskQueue) Lengths() (pending, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.inflight)
}

// All returns every task in both stages, pending first. Used when
// snapshotting: in-flight leases are flattened back into pending form.
func (q *TaskQueue) All() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := make([]*task.Task, 0, len(q.pending)+len(q.inflight))
	all = append(all, q.pending...)
	for _, entry := range q.inflight {
		all = append(all, entry.task)
	}
	return all
}
