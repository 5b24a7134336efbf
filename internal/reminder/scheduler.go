// Package reminder держит по одному одноразовому триггеру на id задачи.
// Состояния: unarmed -> armed -> (fired) -> unarmed; повторное взведение
// сначала отменяет предыдущий триггер.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskReminder/internal/logger"
	rmodel "taskReminder/internal/models/reminder"
	"taskReminder/internal/models/task"
	"taskReminder/internal/repository"

	"go.uber.org/zap"
)

// Notifier — внешняя служба "доставить в момент T"
type Notifier interface {
	ScheduleOneShot(taskID int64, fireAt time.Time, p rmodel.Payload) (rmodel.Handle, error)
	Cancel(h rmodel.Handle) error
}

// Renderer показывает сработавшее напоминание пользователю
type Renderer interface {
	Render(ctx context.Context, p rmodel.Payload)
}

type armed struct {
	handle rmodel.Handle
	fireAt time.Time
}

type Scheduler struct {
	notifier Notifier
	ledger   repository.ReminderLedger
	renderer Renderer
	lead     time.Duration
	now      func() time.Time

	mu    sync.Mutex
	armed map[int64]armed
}

type Option func(*Scheduler)

// WithLeadTime сдвигает срабатывание раньше срока задачи
func WithLeadTime(lead time.Duration) Option {
	return func(s *Scheduler) {
		if lead > 0 {
			s.lead = lead
		}
	}
}

// WithClock подменяет часы; для тестов
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler: ledger и renderer могут быть nil
func NewScheduler(notifier Notifier, ledger repository.ReminderLedger, renderer Renderer, opts ...Option) *Scheduler {
	s := &Scheduler{
		notifier: notifier,
		ledger:   ledger,
		renderer: renderer,
		now:      time.Now,
		armed:    make(map[int64]armed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FireTime — момент срабатывания для задачи
func (s *Scheduler) FireTime(t task.Task) time.Time {
	return t.DueAt.Add(-s.lead)
}

// Arm взводит (или перевзводит) триггер. Весь обмен с notifier идёт под
// блокировкой, поэтому двух живых триггеров на один id не бывает.
func (s *Scheduler) Arm(ctx context.Context, taskID int64, title, description string, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.armed[taskID]; ok {
		if err := s.notifier.Cancel(prev.handle); err != nil {
			logger.Warn("Reminder: Не удалось отменить прежний триггер", zap.Int64("task_id", taskID), zap.Error(err))
		}
		delete(s.armed, taskID)
	}

	h, err := s.notifier.ScheduleOneShot(taskID, fireAt, rmodel.Payload{
		TaskID:      taskID,
		Title:       title,
		Description: description,
	})
	if err != nil {
		logger.Error("Reminder: Служба уведомлений отклонила триггер", err, zap.Int64("task_id", taskID))
		return fmt.Errorf("регистрация триггера %d: %w", taskID, err)
	}
	s.armed[taskID] = armed{handle: h, fireAt: fireAt}

	if s.ledger != nil {
		rec := rmodel.Record{TaskID: taskID, FireAt: fireAt, ArmedAt: s.now()}
		if err := s.ledger.SaveReminder(ctx, rec); err != nil {
			logger.Warn("Reminder: Не удалось записать напоминание в журнал", zap.Int64("task_id", taskID), zap.Error(err))
		}
	}

	logger.Debug("Reminder: Напоминание взведено", zap.Int64("task_id", taskID), zap.Time("fire_at", fireAt))
	return nil
}

// Disarm отменяет триггер; если его нет, ничего не делает
func (s *Scheduler) Disarm(ctx context.Context, taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if prev, ok := s.armed[taskID]; ok {
		if err := s.notifier.Cancel(prev.handle); err != nil {
			errs = append(errs, fmt.Errorf("отмена триггера %d: %w", taskID, err))
		}
		delete(s.armed, taskID)
		logger.Debug("Reminder: Напоминание снято", zap.Int64("task_id", taskID))
	}

	if s.ledger != nil {
		if err := s.ledger.DeleteReminder(ctx, taskID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sync приводит триггер к состоянию задачи: незавершённая взведена на
// FireTime, завершённая снята
func (s *Scheduler) Sync(ctx context.Context, t task.Task) error {
	if t.Completed {
		return s.Disarm(ctx, t.ID)
	}
	return s.Arm(ctx, t.ID, t.Title, t.Description, s.FireTime(t))
}

// Deliver вызывается службой уведомлений при срабатывании. Хендл, который
// уже заменён или снят, игнорируется.
func (s *Scheduler) Deliver(ctx context.Context, h rmodel.Handle, p rmodel.Payload) {
	s.mu.Lock()
	cur, ok := s.armed[p.TaskID]
	if !ok || cur.handle != h {
		s.mu.Unlock()
		logger.Debug("Reminder: Устаревший триггер проигнорирован", zap.Int64("task_id", p.TaskID))
		return
	}
	delete(s.armed, p.TaskID)
	if s.ledger != nil {
		if err := s.ledger.MarkReminderFired(ctx, p.TaskID, s.now()); err != nil {
			logger.Warn("Reminder: Не удалось отметить срабатывание", zap.Int64("task_id", p.TaskID), zap.Error(err))
		}
	}
	s.mu.Unlock()

	if s.renderer != nil {
		s.renderer.Render(ctx, p)
	}
}

// Restore взводит напоминания после перезапуска. Если журнал показывает,
// что на этот же момент напоминание уже сработало, повторно не взводим.
func (s *Scheduler) Restore(ctx context.Context, tasks []task.Task) (int, error) {
	restored := 0
	var errs []error
	for _, t := range tasks {
		if t.Completed {
			continue
		}
		fireAt := s.FireTime(t)

		if s.ledger != nil {
			rec, err := s.ledger.GetReminder(ctx, t.ID)
			switch {
			case err == nil && rec.Fired(fireAt):
				continue
			case err != nil && !errors.Is(err, repository.ErrNotFound):
				errs = append(errs, err)
				continue
			}
		}

		if err := s.Arm(ctx, t.ID, t.Title, t.Description, fireAt); err != nil {
			errs = append(errs, err)
			continue
		}
		restored++
	}

	logger.Info("Reminder: Напоминания восстановлены", zap.Int("restored", restored), zap.Int("tasks", len(tasks)))
	return restored, errors.Join(errs...)
}

func (s *Scheduler) State(taskID int64) rmodel.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.armed[taskID]; ok {
		return rmodel.StateArmed
	}
	return rmodel.StateUnarmed
}

// Armed — число живых триггеров
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

// FireAt — момент, на который взведён триггер
func (s *Scheduler) FireAt(taskID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.armed[taskID]
	return a.fireAt, ok
}
