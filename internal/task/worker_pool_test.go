package task

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// mockTaskQueue implements TaskQueueReader for testing
type mockTaskQueue struct {
	ch chan Task
}

func newMockTaskQueue() *mockTaskQueue {
	return &mockTaskQueue{
		ch: make(chan Task, 10),
	}
}

func (m *mockTaskQueue) Tasks() <-chan Task {
	return m.ch
}

func TestNewWorkerPool(t *testing.T) {
	t.Parallel()
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()
	noop := func(context.Context, Task) {}

	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 5}, noop, logger)
	assert.Equal(t, 5, pool.workerCount)
	assert.Equal(t, taskQueue, pool.taskQueue)

	// Invalid worker counts default to 1
	pool = NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 0}, noop, logger)
	assert.Equal(t, 1, pool.workerCount)
	pool = NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: -5}, noop, nil)
	assert.Equal(t, 1, pool.workerCount)
}

func TestWorkerPoolDrainsQueue(t *testing.T) {
	t.Parallel()
	taskQueue := newMockTaskQueue()

	var mu sync.Mutex
	seen := make(map[uuid.UUID]bool)
	pool := NewWorkerPool(taskQueue, DefaultWorkerPoolConfig(), func(_ context.Context, task Task) {
		mu.Lock()
		defer mu.Unlock()
		seen[task.ID()] = true
	}, setupTestLogger())
	pool.Start(context.Background())

	ids := make([]uuid.UUID, 0, 5)
	for i := 0; i < 5; i++ {
		task := newMockTask()
		ids = append(ids, task.ID())
		taskQueue.ch <- task
	}
	close(taskQueue.ch)
	pool.Wait()

	for _, id := range ids {
		assert.True(t, seen[id])
	}
}
