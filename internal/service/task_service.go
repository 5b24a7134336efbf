package service

import (
	"context"
	"errors"
	"fmt"

	"taskReminder/internal/logger"
	"taskReminder/internal/models/task"
	"taskReminder/internal/repository"
	"taskReminder/internal/repository/live"
	"taskReminder/internal/worker"

	"go.uber.org/zap"
)

// здесь происходит проверка ошибок бизнес-логики

// Store — хранилище с живыми видами
type Store interface {
	repository.TaskRepository
	Watch(ctx context.Context, view repository.View) (*live.Subscription, error)
}

// Queue — единственный фоновый исполнитель мутаций
type Queue interface {
	Submit(ctx context.Context, job worker.Job) error
}

// Reminders — планировщик напоминаний
type Reminders interface {
	Sync(ctx context.Context, t task.Task) error
	Disarm(ctx context.Context, taskID int64) error
	Restore(ctx context.Context, tasks []task.Task) (int, error)
}

// Result — итог мутации, выполненной в очереди
type Result struct {
	Task task.Task
	Err  error
}

type TaskService struct {
	store     Store
	queue     Queue
	reminders Reminders
}

func NewTaskService(store Store, queue Queue, reminders Reminders) *TaskService {
	return &TaskService{
		store:     store,
		queue:     queue,
		reminders: reminders,
	}
}

func (s *TaskService) HealthCheck(ctx context.Context) error {
	if err := s.store.HealthCheck(ctx); err != nil {
		return FromError(err)
	}
	return nil
}

// Insert проверяет задачу сразу и ставит вставку в очередь. Канал
// получает ровно один Result; читать его не обязательно.
func (s *TaskService) Insert(ctx context.Context, t task.Task) (<-chan Result, error) {
	if err := t.Validate(); err != nil {
		return nil, FromError(err)
	}
	t.ID = 0
	t.DueAt = task.EndOfDay(t.DueAt)

	return s.submit(ctx, "insert", func(ctx context.Context) Result {
		if _, err := s.store.Insert(ctx, &t); err != nil {
			return Result{Err: FromError(err)}
		}
		s.syncReminder(ctx, t)
		logger.Info("Service: Задача создана", zap.Int64("task_id", t.ID))
		return Result{Task: t}
	})
}

// Update перезаписывает задачу целиком
func (s *TaskService) Update(ctx context.Context, t task.Task) (<-chan Result, error) {
	if err := t.Validate(); err != nil {
		return nil, FromError(err)
	}
	t.DueAt = task.EndOfDay(t.DueAt)

	return s.submit(ctx, "update", func(ctx context.Context) Result {
		if err := s.store.Update(ctx, &t); err != nil {
			return Result{Task: t, Err: notFound(t.ID, err)}
		}
		s.syncReminder(ctx, t)
		return Result{Task: t}
	})
}

// Delete удаляет задачу; напоминание снимается при любом исходе
func (s *TaskService) Delete(ctx context.Context, t task.Task) (<-chan Result, error) {
	return s.submit(ctx, "delete", func(ctx context.Context) Result {
		err := s.store.Delete(ctx, &t)
		if rerr := s.reminders.Disarm(ctx, t.ID); rerr != nil {
			logger.Warn("Service: Не удалось снять напоминание", zap.Int64("task_id", t.ID), zap.Error(rerr))
		}
		if err != nil {
			return Result{Task: t, Err: notFound(t.ID, err)}
		}
		logger.Info("Service: Задача удалена", zap.Int64("task_id", t.ID))
		return Result{Task: t}
	})
}

// Edit применяет опции к текущей записи. Опции проверяются сразу на
// текущей копии, а в очереди запись перечитывается, чтобы не затереть
// мутации, стоящие раньше.
func (s *TaskService) Edit(ctx context.Context, id int64, opts ...task.TaskOption) (<-chan Result, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(id, err)
	}
	if err := current.Apply(opts...).Validate(); err != nil {
		return nil, FromError(err)
	}

	return s.submit(ctx, "edit", func(ctx context.Context) Result {
		fresh, err := s.store.GetByID(ctx, id)
		if err != nil {
			return Result{Err: notFound(id, err)}
		}
		edited := fresh.Apply(opts...)
		if err := s.store.Update(ctx, &edited); err != nil {
			return Result{Task: edited, Err: notFound(id, err)}
		}
		s.syncReminder(ctx, edited)
		return Result{Task: edited}
	})
}

func (s *TaskService) submit(ctx context.Context, op string, fn func(ctx context.Context) Result) (<-chan Result, error) {
	res := make(chan Result, 1)
	err := s.queue.Submit(ctx, func(jobCtx context.Context) {
		var r Result
		// канал получает ответ и закрывается даже при панике в fn
		defer func() {
			if p := recover(); p != nil {
				panicErr := fmt.Errorf("паника в мутации %s: %v", op, p)
				logger.Error("Service: Мутация прервана", panicErr, zap.String("op", op))
				r = Result{Err: FromError(panicErr)}
			}
			res <- r
			close(res)
		}()

		r = fn(jobCtx)
		if r.Err != nil {
			logger.Warn("Service: Мутация не выполнена", zap.String("op", op), zap.Int64("task_id", r.Task.ID), zap.Error(r.Err))
		}
	})
	if err != nil {
		logger.Warn("Service: Мутация не поставлена в очередь", zap.String("op", op), zap.Error(err))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, FromError(err)
	}
	return res, nil
}

// ошибки планировщика не откатывают мутацию
func (s *TaskService) syncReminder(ctx context.Context, t task.Task) {
	if err := s.reminders.Sync(ctx, t); err != nil {
		logger.Warn("Service: Не удалось обновить напоминание", zap.Int64("task_id", t.ID), zap.Error(err))
	}
}

// Wait дожидается результата мутации
func Wait(ctx context.Context, res <-chan Result) (task.Task, error) {
	select {
	case r, ok := <-res:
		if !ok {
			return task.Task{}, FromError(worker.ErrQueueClosed)
		}
		return r.Task, r.Err
	case <-ctx.Done():
		return task.Task{}, ctx.Err()
	}
}

func (s *TaskService) Get(ctx context.Context, id int64) (task.Task, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Info("Service: Задача не найдена", zap.Int64("target_id", id))
		}
		return task.Task{}, notFound(id, err)
	}
	return *t, nil
}

// Snapshot — текущее содержимое вида без подписки
func (s *TaskService) Snapshot(ctx context.Context, view repository.View) ([]task.Task, error) {
	tasks, err := s.store.List(ctx, view.Query())
	if err != nil {
		return nil, FromError(err)
	}
	return tasks, nil
}

// Watch открывает живой вид; подписку обязательно закрыть
func (s *TaskService) Watch(ctx context.Context, view repository.View) (*live.Subscription, error) {
	sub, err := s.store.Watch(ctx, view)
	if err != nil {
		return nil, FromError(err)
	}
	return sub, nil
}

func (s *TaskService) All(ctx context.Context) (*live.Subscription, error) {
	return s.Watch(ctx, repository.ViewAll)
}

func (s *TaskService) ByDate(ctx context.Context) (*live.Subscription, error) {
	return s.Watch(ctx, repository.ViewByDate)
}

func (s *TaskService) ByPriority(ctx context.Context) (*live.Subscription, error) {
	return s.Watch(ctx, repository.ViewByPriority)
}

func (s *TaskService) Pending(ctx context.Context) (*live.Subscription, error) {
	return s.Watch(ctx, repository.ViewPending)
}

func (s *TaskService) Completed(ctx context.Context) (*live.Subscription, error) {
	return s.Watch(ctx, repository.ViewCompleted)
}

// RestoreReminders перевзводит напоминания незавершённых задач при старте
func (s *TaskService) RestoreReminders(ctx context.Context) (int, error) {
	tasks, err := s.store.List(ctx, repository.ViewPending.Query())
	if err != nil {
		return 0, FromError(err)
	}
	restored, err := s.reminders.Restore(ctx, tasks)
	if err != nil {
		logger.Warn("Service: Часть напоминаний не восстановлена", zap.Error(err))
	}
	return restored, err
}
