package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

func TestTaskStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	task := scholarship.IndexTask{ID: "task-1", Status: scholarship.TaskQueued, Sources: 2}

	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CreateTask(ctx, task); err == nil {
		t.Fatal("expected duplicate task error")
	}
	err := store.UpdateTask(ctx, task.ID, func(tk *scholarship.IndexTask) {
		tk.Status = scholarship.TaskRunning
		tk.Attempts++
	})
	if err != nil {
		t.Fatalf("UpdateTask running error = %v", err)
	}
	running, _ := store.GetTask(ctx, task.ID)
	if running.Started == nil || running.Finished != nil {
		t.Fatalf("expected only start time, got %+v", running)
	}

	err = store.UpdateTask(ctx, task.ID, func(tk *scholarship.IndexTask) {
		tk.Status = scholarship.TaskSucceeded
		tk.Chunks = 7
	})
	if err != nil {
		t.Fatalf("UpdateTask succeeded error = %v", err)
	}
	final, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if final.Started == nil || final.Finished == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.Chunks != 7 || final.Attempts != 1 || final.Sources != 2 {
		t.Fatalf("expected counters to persist, got %+v", final)
	}
}

func TestTaskStoreMissing(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	if _, err := store.GetTask(context.Background(), "nope"); !errors.Is(err, scholarship.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err := store.UpdateTask(context.Background(), "nope", func(*scholarship.IndexTask) {})
	if !errors.Is(err, scholarship.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
