package handlers

import (
	"context"

	"taskReminder/internal/models/task"
	"taskReminder/internal/repository"
	"taskReminder/internal/repository/live"
	"taskReminder/internal/service"
)

// Service — то, что HTTP-слою нужно от service.TaskService
type Service interface {
	HealthCheck(ctx context.Context) error
	Insert(ctx context.Context, t task.Task) (<-chan service.Result, error)
	Update(ctx context.Context, t task.Task) (<-chan service.Result, error)
	Edit(ctx context.Context, id int64, opts ...task.TaskOption) (<-chan service.Result, error)
	Delete(ctx context.Context, t task.Task) (<-chan service.Result, error)
	Get(ctx context.Context, id int64) (task.Task, error)
	Snapshot(ctx context.Context, view repository.View) ([]task.Task, error)
	Watch(ctx context.Context, view repository.View) (*live.Subscription, error)
}

type Preferences interface {
	Locale() string
	SetLocale(code string) error
}

var _ Service = (*service.TaskService)(nil)
