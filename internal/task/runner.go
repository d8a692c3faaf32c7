package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/redact"
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// JobRetention is how long finished task records stay queryable
	JobRetention time.Duration

	// JanitorInterval defines how often finished records are pruned
	// If zero, defaults to one minute
	JanitorInterval time.Duration
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:     2,
		QueueSize:       100,
		JobRetention:    time.Hour,
		JanitorInterval: time.Minute,
	}
}

// job tracks the cancellation state of a task that has not finished.
type job struct {
	cancel    context.CancelFunc
	cancelled bool
}

// TaskRunner manages background task processing
type TaskRunner struct {
	store  Store
	queue  *TaskQueue
	pool   *WorkerPool
	config TaskRunnerConfig
	logger *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	janitor    sync.WaitGroup

	mu   sync.Mutex
	jobs map[uuid.UUID]*job
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(store Store, config TaskRunnerConfig, logger *slog.Logger) *TaskRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if config.JanitorInterval == 0 {
		config.JanitorInterval = time.Minute
	}
	logger = logger.With(slog.String("component", "task_runner"))

	ctx, cancel := context.WithCancel(context.Background())
	r := &TaskRunner{
		store:      store,
		queue:      NewTaskQueue(config.QueueSize, logger),
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancelFunc: cancel,
		jobs:       make(map[uuid.UUID]*job),
	}
	r.pool = NewWorkerPool(r.queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, r.processTask, logger)
	return r
}

// Submit records a task as pending and queues it for processing.
func (r *TaskRunner) Submit(ctx context.Context, task Task) (Record, error) {
	if task == nil {
		return Record{}, ErrNilTask
	}
	if task.UserID() == uuid.Nil {
		return Record{}, ErrInvalidOwner
	}

	rec := Record{
		ID:     task.ID(),
		Type:   task.Type(),
		UserID: task.UserID(),
		Status: StatusPending,
	}
	if err := r.store.Save(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("failed to save task: %w", err)
	}

	r.mu.Lock()
	r.jobs[rec.ID] = &job{}
	r.mu.Unlock()

	if err := r.queue.Enqueue(task); err != nil {
		r.forget(rec.ID)
		r.discard(task)
		if updateErr := r.store.UpdateStatus(ctx, rec.ID, StatusFailed, err.Error(), nil); updateErr != nil {
			r.logger.Error("failed to mark rejected task", "task_id", rec.ID, "error", updateErr)
		}
		return Record{}, err
	}

	return r.store.Get(ctx, rec.ID)
}

// Get returns the record of a task submitted by userID.
func (r *TaskRunner) Get(ctx context.Context, id, userID uuid.UUID) (Record, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.UserID != userID {
		return Record{}, ErrTaskNotFound
	}
	return rec, nil
}

// Cancel stops a task submitted by userID. A pending task never runs; a
// running task has its context cancelled and is recorded as cancelled once
// it returns.
func (r *TaskRunner) Cancel(ctx context.Context, id, userID uuid.UUID) error {
	rec, err := r.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	if rec.Status.Finished() {
		return ErrTaskFinished
	}

	r.mu.Lock()
	if j, ok := r.jobs[id]; ok {
		j.cancelled = true
		if j.cancel != nil {
			j.cancel()
		}
	}
	r.mu.Unlock()

	if rec.Status == StatusPending {
		err := r.store.UpdateStatus(ctx, id, StatusCancelled, "", nil)
		if err != nil && !errors.Is(err, ErrTaskFinished) {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
	}
	r.logger.Info("task cancelled", "task_id", id)
	return nil
}

// Start begins processing queued tasks
func (r *TaskRunner) Start() {
	r.pool.Start(r.ctx)

	r.janitor.Add(1)
	go r.runJanitor()
}

// Stop closes the queue and waits for queued and running tasks to finish.
// Tasks still running when ctx is done are cancelled.
func (r *TaskRunner) Stop(ctx context.Context) error {
	r.logger.Info("stopping task runner", slog.Int("pending", r.queue.Pending()))
	r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.pool.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("stop deadline reached, cancelling running tasks")
		err = ctx.Err()
	}
	r.cancelFunc()
	<-done
	r.janitor.Wait()
	return err
}

func (r *TaskRunner) forget(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// processTask handles execution of a single task
func (r *TaskRunner) processTask(base context.Context, task Task) {
	logger := r.logger.With("task_id", task.ID(), "task_type", task.Type())
	defer r.forget(task.ID())

	r.mu.Lock()
	j, ok := r.jobs[task.ID()]
	if !ok || j.cancelled {
		r.mu.Unlock()
		logger.Debug("skipping cancelled task")
		r.discard(task)
		return
	}
	ctx, cancel := context.WithCancel(base)
	defer cancel()
	j.cancel = cancel
	r.mu.Unlock()

	if err := r.store.UpdateStatus(ctx, task.ID(), StatusProcessing, "", nil); err != nil {
		logger.Debug("task no longer runnable", "error", err)
		r.discard(task)
		return
	}

	logger.Info("processing task")
	start := time.Now()
	err := task.Execute(ctx)

	// Final status updates must land even when the task context is gone.
	record := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		var result any
		if rt, ok := task.(ResultTask); ok {
			result = rt.Result()
		}
		logger.Info("task completed successfully", "duration", time.Since(start))
		r.setStatus(record, logger, task.ID(), StatusCompleted, "", result)
	case r.wasCancelled(task.ID()):
		logger.Info("task cancelled while running")
		r.setStatus(record, logger, task.ID(), StatusCancelled, "", nil)
	case base.Err() != nil:
		logger.Warn("task interrupted by shutdown", "error", redact.Error(err))
		r.setStatus(record, logger, task.ID(), StatusFailed, "interrupted by shutdown", nil)
	default:
		msg := redact.Error(err)
		logger.Error("task execution failed", "error", msg)
		r.setStatus(record, logger, task.ID(), StatusFailed, msg, nil)
	}
}

// discarder is implemented by tasks holding resources that must be released
// when they never run.
type discarder interface {
	Discard() error
}

func (r *TaskRunner) discard(task Task) {
	if d, ok := task.(discarder); ok {
		if err := d.Discard(); err != nil {
			r.logger.Warn("failed to discard task resources", "task_id", task.ID(), "error", redact.Error(err))
		}
	}
}

func (r *TaskRunner) wasCancelled(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return ok && j.cancelled
}

func (r *TaskRunner) setStatus(ctx context.Context, logger *slog.Logger, id uuid.UUID, status Status, msg string, result any) {
	if err := r.store.UpdateStatus(ctx, id, status, msg, result); err != nil {
		logger.Error("failed to update task status", "status", status, "error", err)
	}
}

// runJanitor periodically forgets finished tasks older than the retention
func (r *TaskRunner) runJanitor() {
	defer r.janitor.Done()

	ticker := time.NewTicker(r.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.prune(time.Now())
		}
	}
}

func (r *TaskRunner) prune(now time.Time) {
	if r.config.JobRetention <= 0 {
		return
	}
	n, err := r.store.DeleteFinishedBefore(r.ctx, now.Add(-r.config.JobRetention))
	if err != nil {
		r.logger.Error("failed to prune finished tasks", "error", err)
		return
	}
	if n > 0 {
		r.logger.Debug("pruned finished tasks", "count", n)
	}
}
