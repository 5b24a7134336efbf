package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Task — единственная сущность хранилища. ID назначает хранилище при вставке,
// до этого у задачи нет идентичности.
type Task struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Priority    Priority  `json:"priority" db:"priority"`
	DueAt       time.Time `json:"due_at" db:"due_at"`
	Completed   bool      `json:"completed" db:"completed"`
}

type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "priority(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParsePriority принимает имя (low/medium/high) или порядковый номер (1..3)
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "1":
		return PriorityLow, nil
	case "medium", "2":
		return PriorityMedium, nil
	case "high", "3":
		return PriorityHigh, nil
	}
	return 0, &ValidationError{Field: "priority", Reason: fmt.Sprintf("неизвестный приоритет %q", s)}
}

// EndOfDay возвращает последнюю секунду (23:59:59) локального дня, в который
// попадает t. Срок из другой зоны сначала переводится в местное время.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.In(time.Local).Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.Local)
}

// New собирает новую несохранённую задачу. Нулевая дата означает "сегодня".
func New(title, description string, priority Priority, dueDate time.Time) (Task, error) {
	if dueDate.IsZero() {
		dueDate = time.Now()
	}

	t := Task{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Priority:    priority,
		DueAt:       EndOfDay(dueDate),
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "название не может быть пустым"}
	}
	if !t.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("допустимы значения 1..3, получено %d", t.Priority)}
	}
	if t.DueAt.IsZero() {
		return &ValidationError{Field: "due_at", Reason: "дата должна быть задана"}
	}
	return nil
}

// Equal сравнивает задачи по значению, время сравнивается через time.Equal
func (t Task) Equal(other Task) bool {
	return t.ID == other.ID &&
		t.Title == other.Title &&
		t.Description == other.Description &&
		t.Priority == other.Priority &&
		t.DueAt.Equal(other.DueAt) &&
		t.Completed == other.Completed
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("неверное значение поля '%s': %s", e.Field, e.Reason)
}
