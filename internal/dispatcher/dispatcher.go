// Package dispatcher submits index tasks and fans queue work out to workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
	"github.com/JakeFAU/scholarship-crawler/internal/worker"
)

// Dispatcher records index tasks, enqueues them and runs the worker pool.
type Dispatcher struct {
	queue   scholarship.Queue
	tasks   scholarship.TaskStore
	ids     scholarship.IDGenerator
	clock   scholarship.Clock
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(
	queue scholarship.Queue,
	tasks scholarship.TaskStore,
	ids scholarship.IDGenerator,
	clock scholarship.Clock,
	workers []*worker.Worker,
) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		tasks:   tasks,
		ids:     ids,
		clock:   clock,
		workers: workers,
	}
}

// Submit records a queued task for sources and enqueues its first attempt.
// It returns as soon as the job is queued.
func (d *Dispatcher) Submit(ctx context.Context, sources []scholarship.IndexSource) (scholarship.IndexTask, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return scholarship.IndexTask{}, fmt.Errorf("generate task id: %w", err)
	}
	task := scholarship.IndexTask{
		ID:        id,
		Status:    scholarship.TaskQueued,
		Sources:   len(sources),
		Submitted: d.clock.Now(),
	}
	if err := d.tasks.CreateTask(ctx, task); err != nil {
		return scholarship.IndexTask{}, fmt.Errorf("create task: %w", err)
	}
	job := scholarship.IndexJob{TaskID: id, Attempt: 1, Sources: sources}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		cause := fmt.Errorf("queue enqueue: %w", err)
		_ = d.tasks.UpdateTask(context.WithoutCancel(ctx), id, func(t *scholarship.IndexTask) {
			t.Status = scholarship.TaskFailed
			t.Error = cause.Error()
		})
		return scholarship.IndexTask{}, cause
	}
	return task, nil
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
