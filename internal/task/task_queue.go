package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// TaskQueue is a bounded FIFO of tasks waiting for a worker. Enqueue never
// blocks; a full queue rejects the task.
type TaskQueue struct {
	mu     sync.RWMutex
	ch     chan Task
	closed bool
	logger *slog.Logger
}

// NewTaskQueue creates a queue holding at most capacity pending tasks.
func NewTaskQueue(capacity int, logger *slog.Logger) *TaskQueue {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		ch:     make(chan Task, capacity),
		logger: logger.With(slog.String("component", "task_queue")),
	}
}

// Enqueue adds task to the queue.
func (q *TaskQueue) Enqueue(task Task) error {
	// Senders hold the read lock so Close cannot close the channel under them.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- task:
	default:
		return fmt.Errorf("%w: %d tasks pending", ErrQueueFull, cap(q.ch))
	}
	q.logger.Debug("task enqueued",
		slog.String("task_id", task.ID().String()),
		slog.String("task_type", task.Type()),
		slog.Int("pending", len(q.ch)))
	return nil
}

// Pending reports how many tasks are waiting for a worker.
func (q *TaskQueue) Pending() int {
	return len(q.ch)
}

// Close rejects further tasks. Tasks already queued are still delivered.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
	q.logger.Info("task queue closed", slog.Int("pending", len(q.ch)))
}

// Tasks returns the channel workers consume from. It is closed by Close.
func (q *TaskQueue) Tasks() <-chan Task {
	return q.ch
}
