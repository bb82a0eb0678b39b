// Package worker runs deferred index tasks taken from the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/metrics"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts bounds how often one task runs, counting the first try.
	MaxAttempts int
	// RetryBackoff is the wait before the second attempt; it doubles after that.
	RetryBackoff time.Duration
	// TaskTimeout caps a single attempt.
	TaskTimeout time.Duration
}

// Worker consumes index jobs and records their outcome on the task store.
// Failed attempts are re-enqueued until MaxAttempts, so a task may run more
// than once; the indexer skips hashes it already holds.
type Worker struct {
	queue   scholarship.Queue
	tasks   scholarship.TaskStore
	indexer scholarship.Indexer
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	queue scholarship.Queue,
	tasks scholarship.TaskStore,
	indexer scholarship.Indexer,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		tasks:   tasks,
		indexer: indexer,
		cfg:     cfg,
		logger:  logger.Named("worker"),
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, scholarship.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued index job", zap.String("task_id", job.TaskID), zap.Int("attempt", job.Attempt))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job scholarship.IndexJob) {
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	err := w.tasks.UpdateTask(ctx, job.TaskID, func(t *scholarship.IndexTask) {
		t.Status = scholarship.TaskRunning
		t.Attempts = job.Attempt
	})
	if err != nil {
		w.logger.Error("update task status failed", zap.String("task_id", job.TaskID), zap.Error(err))
		return
	}

	added, runErr := w.runIndex(ctx, job)
	if runErr == nil {
		w.finish(ctx, job.TaskID, func(t *scholarship.IndexTask) {
			t.Status = scholarship.TaskSucceeded
			t.Chunks = added
			t.Error = ""
		})
		metrics.ObserveIndexTask(string(scholarship.TaskSucceeded))
		w.logger.Info("index task succeeded",
			zap.String("task_id", job.TaskID),
			zap.Int("attempt", job.Attempt),
			zap.Int("chunks_added", added))
		return
	}

	if job.Attempt >= w.cfg.MaxAttempts || ctx.Err() != nil {
		w.fail(ctx, job, runErr)
		return
	}
	w.finish(ctx, job.TaskID, func(t *scholarship.IndexTask) {
		t.Status = scholarship.TaskQueued
		t.Error = runErr.Error()
	})
	metrics.ObserveIndexTask("retried")
	delay := w.backoff(job.Attempt)
	w.logger.Warn("index task failed, retrying",
		zap.String("task_id", job.TaskID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("wait", delay),
		zap.Error(runErr))
	next := job
	next.Attempt++
	go w.requeue(ctx, next, delay)
}

// runIndex calls the indexer under the attempt timeout and turns panics into errors.
func (w *Worker) runIndex(ctx context.Context, job scholarship.IndexJob) (added int, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("index task panicked",
				zap.String("task_id", job.TaskID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			added, err = 0, fmt.Errorf("index task panicked: %v", r)
		}
	}()
	return w.indexer.Index(ctx, job.Sources)
}

func (w *Worker) requeue(ctx context.Context, job scholarship.IndexJob, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		w.fail(context.WithoutCancel(ctx), job, ctx.Err())
		return
	case <-timer.C:
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.fail(context.WithoutCancel(ctx), job, fmt.Errorf("requeue: %w", err))
	}
}

func (w *Worker) fail(ctx context.Context, job scholarship.IndexJob, cause error) {
	w.finish(ctx, job.TaskID, func(t *scholarship.IndexTask) {
		t.Status = scholarship.TaskFailed
		t.Error = cause.Error()
	})
	metrics.ObserveIndexTask(string(scholarship.TaskFailed))
	w.logger.Error("index task failed",
		zap.String("task_id", job.TaskID),
		zap.Int("attempt", job.Attempt),
		zap.Error(cause))
}

func (w *Worker) finish(ctx context.Context, taskID string, update func(*scholarship.IndexTask)) {
	if err := w.tasks.UpdateTask(ctx, taskID, update); err != nil {
		w.logger.Error("final task status update failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
