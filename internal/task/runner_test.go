package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, config TaskRunnerConfig) (*TaskRunner, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	runner := NewTaskRunner(store, config, setupTestLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = runner.Stop(ctx)
	})
	return runner, store
}

func waitForStatus(t *testing.T, runner *TaskRunner, task Task, want Status) Record {
	t.Helper()
	var rec Record
	require.Eventually(t, func() bool {
		var err error
		rec, err = runner.Get(context.Background(), task.ID(), task.UserID())
		return err == nil && rec.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task never reached %s", want)
	return rec
}

func TestTaskRunner_CompletesWithResult(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t, DefaultTaskRunnerConfig())
	runner.Start()

	task := newMockTask()
	task.result = "archive.zip"

	rec, err := runner.Submit(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "mock", rec.Type)

	rec = waitForStatus(t, runner, task, StatusCompleted)
	assert.Equal(t, "archive.zip", rec.Result)
	assert.Empty(t, rec.Error)

	_, err = runner.Get(context.Background(), task.ID(), uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskRunner_RecordsFailure(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t, DefaultTaskRunnerConfig())
	runner.Start()

	task := newMockTask()
	task.execFn = func(context.Context) error { return errors.New("box has no cards") }

	_, err := runner.Submit(context.Background(), task)
	require.NoError(t, err)

	rec := waitForStatus(t, runner, task, StatusFailed)
	assert.Contains(t, rec.Error, "box has no cards")
	assert.Nil(t, rec.Result)
}

func TestTaskRunner_CancelRunning(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t, DefaultTaskRunnerConfig())
	runner.Start()

	started := make(chan struct{})
	task := newMockTask()
	task.execFn = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := runner.Submit(context.Background(), task)
	require.NoError(t, err)
	<-started

	assert.ErrorIs(t, runner.Cancel(context.Background(), task.ID(), uuid.New()), ErrTaskNotFound)
	require.NoError(t, runner.Cancel(context.Background(), task.ID(), task.UserID()))
	waitForStatus(t, runner, task, StatusCancelled)

	assert.ErrorIs(t, runner.Cancel(context.Background(), task.ID(), task.UserID()), ErrTaskFinished)
}

func TestTaskRunner_CancelPendingNeverRuns(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t, DefaultTaskRunnerConfig())

	var ran atomic.Bool
	task := newMockTask()
	task.execFn = func(context.Context) error {
		ran.Store(true)
		return nil
	}

	_, err := runner.Submit(context.Background(), task)
	require.NoError(t, err)
	require.NoError(t, runner.Cancel(context.Background(), task.ID(), task.UserID()))

	runner.Start()
	require.NoError(t, runner.Stop(context.Background()))

	assert.False(t, ran.Load())
	rec, err := runner.Get(context.Background(), task.ID(), task.UserID())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
}

func TestTaskRunner_QueueFull(t *testing.T) {
	t.Parallel()
	config := DefaultTaskRunnerConfig()
	config.QueueSize = 1
	runner, store := newTestRunner(t, config)

	_, err := runner.Submit(context.Background(), newMockTask())
	require.NoError(t, err)

	rejected := newMockTask()
	_, err = runner.Submit(context.Background(), rejected)
	assert.ErrorIs(t, err, ErrQueueFull)

	rec, err := store.Get(context.Background(), rejected.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
}

func TestTaskRunner_SubmitValidation(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t, DefaultTaskRunnerConfig())

	_, err := runner.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilTask)

	task := newMockTask()
	task.userID = uuid.Nil
	_, err = runner.Submit(context.Background(), task)
	assert.ErrorIs(t, err, ErrInvalidOwner)
}

func TestTaskRunner_StopDeadlineInterruptsTasks(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	runner := NewTaskRunner(store, DefaultTaskRunnerConfig(), setupTestLogger())
	runner.Start()

	started := make(chan struct{})
	task := newMockTask()
	task.execFn = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	_, err := runner.Submit(context.Background(), task)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, runner.Stop(ctx), context.DeadlineExceeded)

	rec, err := store.Get(context.Background(), task.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "interrupted by shutdown", rec.Error)

	_, err = runner.Submit(context.Background(), newMockTask())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestTaskRunner_PrunesFinishedRecords(t *testing.T) {
	t.Parallel()
	config := DefaultTaskRunnerConfig()
	config.JobRetention = time.Minute
	runner, _ := newTestRunner(t, config)
	runner.Start()

	task := newMockTask()
	_, err := runner.Submit(context.Background(), task)
	require.NoError(t, err)
	waitForStatus(t, runner, task, StatusCompleted)

	runner.prune(time.Now())
	_, err = runner.Get(context.Background(), task.ID(), task.UserID())
	require.NoError(t, err)

	runner.prune(time.Now().Add(2 * time.Minute))
	_, err = runner.Get(context.Background(), task.ID(), task.UserID())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
