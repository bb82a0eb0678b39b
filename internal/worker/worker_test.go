package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/queue/memory"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
	storemem "github.com/JakeFAU/scholarship-crawler/internal/storage/memory"
)

type fakeIndexer struct {
	mu     sync.Mutex
	calls  int
	fails  int
	panics bool
	added  int
}

func (f *fakeIndexer) Index(_ context.Context, sources []scholarship.IndexSource) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("index corrupted")
	}
	if f.calls <= f.fails {
		return 0, errors.New("embedding service unavailable")
	}
	return f.added + len(sources), nil
}

func (f *fakeIndexer) Search(context.Context, string, int) ([]scholarship.SearchHit, error) {
	return nil, nil
}

func (f *fakeIndexer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func setup(t *testing.T, indexer scholarship.Indexer, cfg Config) (*storemem.TaskStore, *memory.Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tasks := storemem.NewTaskStore()
	queue := memory.NewQueue(4)
	require.NoError(t, tasks.CreateTask(ctx, scholarship.IndexTask{ID: "task-1", Status: scholarship.TaskQueued}))
	require.NoError(t, queue.Enqueue(ctx, scholarship.IndexJob{
		TaskID:  "task-1",
		Attempt: 1,
		Sources: []scholarship.IndexSource{{Text: "a"}, {Text: "b"}},
	}))

	w := New(queue, tasks, indexer, cfg, zap.NewNop())
	go w.Run(ctx)
	return tasks, queue
}

func taskStatus(t *testing.T, tasks *storemem.TaskStore) scholarship.IndexTask {
	t.Helper()
	task, err := tasks.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	return task
}

func TestWorkerSuccess(t *testing.T) {
	t.Parallel()

	indexer := &fakeIndexer{added: 10}
	tasks, _ := setup(t, indexer, Config{})

	require.Eventually(t, func() bool {
		return taskStatus(t, tasks).Status == scholarship.TaskSucceeded
	}, time.Second, 5*time.Millisecond)

	task := taskStatus(t, tasks)
	assert.Equal(t, 12, task.Chunks)
	assert.Equal(t, 1, task.Attempts)
	assert.NotNil(t, task.Started)
	assert.NotNil(t, task.Finished)
}

func TestWorkerRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	indexer := &fakeIndexer{fails: 2}
	tasks, _ := setup(t, indexer, Config{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	require.Eventually(t, func() bool {
		return taskStatus(t, tasks).Status == scholarship.TaskSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	task := taskStatus(t, tasks)
	assert.Equal(t, 3, task.Attempts)
	assert.Empty(t, task.Error)
	assert.Equal(t, 3, indexer.callCount())
}

func TestWorkerGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	indexer := &fakeIndexer{fails: 10}
	tasks, _ := setup(t, indexer, Config{MaxAttempts: 2, RetryBackoff: time.Millisecond})

	require.Eventually(t, func() bool {
		return taskStatus(t, tasks).Status == scholarship.TaskFailed
	}, 2*time.Second, 5*time.Millisecond)

	task := taskStatus(t, tasks)
	assert.Equal(t, 2, task.Attempts)
	assert.Contains(t, task.Error, "embedding service unavailable")
	assert.Equal(t, 2, indexer.callCount())
}

func TestWorkerRecoversPanics(t *testing.T) {
	t.Parallel()

	indexer := &fakeIndexer{panics: true}
	tasks, _ := setup(t, indexer, Config{MaxAttempts: 1})

	require.Eventually(t, func() bool {
		return taskStatus(t, tasks).Status == scholarship.TaskFailed
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, taskStatus(t, tasks).Error, "index corrupted")
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(1)
	w := New(queue, storemem.NewTaskStore(), &fakeIndexer{}, Config{}, nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestBackoffDoubles(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil, Config{RetryBackoff: 100 * time.Millisecond}, nil)
	assert.Equal(t, 100*time.Millisecond, w.backoff(1))
	assert.Equal(t, 200*time.Millisecond, w.backoff(2))
	assert.Equal(t, 400*time.Millisecond, w.backoff(3))
}
