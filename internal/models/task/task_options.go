package task

import (
	"strings"
	"time"
)

// TaskOption правит копию задачи; обновление в хранилище всегда полное,
// поэтому частичные правки собираются опциями поверх текущей записи
type TaskOption func(*Task)

func WithTitle(title string) TaskOption {
	return func(task *Task) {
		task.Title = strings.TrimSpace(title)
	}
}

func WithDescription(description string) TaskOption {
	return func(task *Task) {
		task.Description = strings.TrimSpace(description)
	}
}

func WithPriority(priority Priority) TaskOption {
	return func(task *Task) {
		task.Priority = priority
	}
}

// WithDueDate нормализует выбранный день до 23:59:59
func WithDueDate(dueDate time.Time) TaskOption {
	if dueDate.IsZero() {
		return nil
	}
	return func(task *Task) {
		task.DueAt = EndOfDay(dueDate)
	}
}

func WithCompleted(completed bool) TaskOption {
	return func(task *Task) {
		task.Completed = completed
	}
}

// Apply возвращает изменённую копию, исходная задача не трогается.
// nil-опции пропускаются.
func (t Task) Apply(opts ...TaskOption) Task {
	edited := t
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&edited)
	}
	return edited
}
