package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relayops/agent-runtime/internal/domain"
)

// mirrorPriorityWeight is large enough that priority always dominates submit
// time in mirror scores.
const mirrorPriorityWeight = 1e12

// MirrorScore orders durable mirror entries by (priority, submit time).
func MirrorScore(priority int, submitTimeMs int64) float64 {
	return float64(priority)*mirrorPriorityWeight + float64(submitTimeMs)
}

type item struct {
	task *domain.AgentTask
	seq  uint64
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// TaskQueue is an in-memory priority queue with FIFO tie-break and an optional
// durable mirror for crash recovery. Dequeue order is a total order over
// (priority, sequence); the mirror is never consulted for live ordering.
type TaskQueue struct {
	mu          sync.Mutex
	items       itemHeap
	seq         uint64
	notEmpty    chan struct{}
	mirror      domain.TaskMirror
	outstanding sync.WaitGroup
}

// New builds a queue. A nil mirror disables durable mirroring.
func New(mirror domain.TaskMirror) *TaskQueue {
	return &TaskQueue{
		notEmpty: make(chan struct{}),
		mirror:   mirror,
	}
}

// Put inserts a task keyed by (priority, sequence) and mirrors it durably.
// The mirror write is best-effort: a failure is logged, never returned.
func (q *TaskQueue) Put(ctx context.Context, task *domain.AgentTask) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &item{task: task, seq: q.seq})
	q.outstanding.Add(1)
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
	q.mu.Unlock()

	if q.mirror != nil {
		score := MirrorScore(task.Priority, time.Now().UTC().UnixMilli())
		if err := q.mirror.Add(ctx, task, score); err != nil {
			slog.Error("Failed to write task to the durable mirror", "task_id", task.TaskID, "error", err.Error())
		}
	}
}

// Get blocks until a task is available or ctx is done and pops the
// lowest-ordered entry. The caller must call TaskDone once the dequeued task's
// lifecycle completes.
func (q *TaskQueue) Get(ctx context.Context) (*domain.AgentTask, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			it := heap.Pop(&q.items).(*item)
			q.mu.Unlock()
			return it.task, nil
		}
		ready := q.notEmpty
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ready:
		}
	}
}

// TaskDone marks one previously dequeued task as fully processed. It is a
// back-pressure signal for Wait, not required for ordering correctness.
func (q *TaskQueue) TaskDone() {
	q.outstanding.Done()
}

// Wait blocks until every task that was ever put has been marked done.
func (q *TaskQueue) Wait() {
	q.outstanding.Wait()
}

// Len returns the current queue depth.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Recover drains the durable mirror into the queue in recorded order and
// returns the number of recovered tasks. Stale entries left by a crash are
// simply re-enqueued; task execution must be safe to repeat.
func (q *TaskQueue) Recover(ctx context.Context) (int, error) {
	if q.mirror == nil {
		return 0, nil
	}

	tasks, err := q.mirror.Entries(ctx)
	if err != nil {
		return 0, err
	}

	for _, task := range tasks {
		task.Status = domain.Queued
		q.Put(ctx, task)
	}

	return len(tasks), nil
}

// RemovePersisted deletes the task's durable mirror entry once it is terminal.
// Failures are logged, not raised: a stale entry is re-enqueued on a future
// recovery and executed again.
func (q *TaskQueue) RemovePersisted(ctx context.Context, task *domain.AgentTask) {
	if q.mirror == nil {
		return
	}

	if err := q.mirror.Remove(ctx, task.TaskID); err != nil {
		slog.Error("Failed to remove task from the durable mirror", "task_id", task.TaskID, "error", err.Error())
	}
}
