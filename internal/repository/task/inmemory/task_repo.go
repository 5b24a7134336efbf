package inmemory

import (
	"context"
	"sync"
	"time"

	"taskReminder/internal/logger"
	"taskReminder/internal/models/reminder"
	"taskReminder/internal/models/task"
	repo "taskReminder/internal/repository"

	"go.uber.org/zap"
)

type TaskStorage struct {
	storage   map[int64]task.Task
	reminders map[int64]reminder.Record
	mtx       *sync.RWMutex
	// ids хранит порядок вставки
	ids    []int64
	lastID int64
}

var _ repo.Store = (*TaskStorage)(nil)

func NewTaskStorage() *TaskStorage {
	return &TaskStorage{
		storage:   make(map[int64]task.Task),
		reminders: make(map[int64]reminder.Record),
		mtx:       &sync.RWMutex{},
		ids:       []int64{},
	}
}

func (s *TaskStorage) HealthCheck(ctx context.Context) error {
	logger.Debug("Repository: Соединение стабильно", zap.String("backend", "inmemory"))
	return nil
}

func (s *TaskStorage) Close() {}

func (s *TaskStorage) Insert(ctx context.Context, taskToCreate *task.Task) (int64, error) {
	if err := taskToCreate.Validate(); err != nil {
		return 0, err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	// id никогда не переиспользуется, даже после удаления
	s.lastID++
	taskToCreate.ID = s.lastID

	s.storage[taskToCreate.ID] = *taskToCreate
	s.ids = append(s.ids, taskToCreate.ID)
	return taskToCreate.ID, nil
}

func (s *TaskStorage) Update(ctx context.Context, taskToUpdate *task.Task) error {
	if err := taskToUpdate.Validate(); err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.storage[taskToUpdate.ID]; !ok {
		return repo.ErrNotFound
	}
	s.storage[taskToUpdate.ID] = *taskToUpdate

	return nil
}

func (s *TaskStorage) GetByID(ctx context.Context, id int64) (*task.Task, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	taskToGet, ok := s.storage[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &taskToGet, nil
}

// полное удаление вместе с записью о напоминании
func (s *TaskStorage) Delete(ctx context.Context, taskToDelete *task.Task) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.storage[taskToDelete.ID]; !ok {
		return repo.ErrNotFound
	}

	delete(s.storage, taskToDelete.ID)
	delete(s.reminders, taskToDelete.ID)
	for ind, val := range s.ids {
		if val == taskToDelete.ID {
			s.ids = append(s.ids[:ind], s.ids[ind+1:]...)
			break
		}
	}
	return nil
}

func (s *TaskStorage) List(ctx context.Context, q repo.Query) ([]task.Task, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := make([]task.Task, 0, len(s.ids))
	for _, id := range s.ids {
		res = append(res, s.storage[id])
	}

	return q.Apply(res), nil
}

func (s *TaskStorage) SaveReminder(ctx context.Context, r reminder.Record) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.storage[r.TaskID]; !ok {
		return repo.ErrNotFound
	}
	s.reminders[r.TaskID] = r
	return nil
}

func (s *TaskStorage) GetReminder(ctx context.Context, taskID int64) (*reminder.Record, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	r, ok := s.reminders[taskID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &r, nil
}

func (s *TaskStorage) MarkReminderFired(ctx context.Context, taskID int64, firedAt time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	r, ok := s.reminders[taskID]
	if !ok {
		return repo.ErrNotFound
	}
	r.FiredAt = &firedAt
	s.reminders[taskID] = r
	return nil
}

func (s *TaskStorage) DeleteReminder(ctx context.Context, taskID int64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	delete(s.reminders, taskID)
	return nil
}
