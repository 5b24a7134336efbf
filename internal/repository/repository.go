package repository

import (
	"context"
	"time"

	"taskReminder/internal/models/reminder"
	"taskReminder/internal/models/task"
)

// TaskRepository — контракт хранилища задач. Update перезаписывает запись
// целиком, Delete на отсутствующий id возвращает ErrNotFound.
type TaskRepository interface {
	Insert(ctx context.Context, t *task.Task) (int64, error)
	Update(ctx context.Context, t *task.Task) error
	Delete(ctx context.Context, t *task.Task) error
	GetByID(ctx context.Context, id int64) (*task.Task, error)
	List(ctx context.Context, q Query) ([]task.Task, error)
	HealthCheck(ctx context.Context) error
}

// ReminderLedger хранит состояние напоминаний рядом с задачами
type ReminderLedger interface {
	SaveReminder(ctx context.Context, r reminder.Record) error
	GetReminder(ctx context.Context, taskID int64) (*reminder.Record, error)
	MarkReminderFired(ctx context.Context, taskID int64, firedAt time.Time) error
	DeleteReminder(ctx context.Context, taskID int64) error
}

// Store — то, что реализует каждый бэкенд
type Store interface {
	TaskRepository
	ReminderLedger
	Close()
}
