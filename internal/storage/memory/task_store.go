package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// TaskStore keeps index task state in-memory. Task history does not survive a restart.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]scholarship.IndexTask
	now   func() time.Time
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]scholarship.IndexTask),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateTask stores a new task.
func (s *TaskStore) CreateTask(_ context.Context, task scholarship.IndexTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return errors.New("task already exists")
	}
	s.tasks[task.ID] = task
	return nil
}

// UpdateTask applies update to the stored task under the store lock and stamps
// the start and finish times on status transitions.
func (s *TaskStore) UpdateTask(_ context.Context, id string, update func(*scholarship.IndexTask)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, scholarship.ErrNotFound)
	}
	update(&task)
	now := s.now()
	if task.Status == scholarship.TaskRunning && task.Started == nil {
		task.Started = pointerTime(now)
	}
	if task.Status.IsTerminal() && task.Finished == nil {
		task.Finished = pointerTime(now)
	}
	s.tasks[id] = task
	return nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, id string) (scholarship.IndexTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return scholarship.IndexTask{}, fmt.Errorf("task %s: %w", id, scholarship.ErrNotFound)
	}
	return task, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
