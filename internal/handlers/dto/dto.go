package dto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"taskReminder/internal/models/task"
)

const DateLayout = "2006-01-02"

// Priority принимает в JSON и число 1..3, и имя low/medium/high
type Priority task.Priority

func (p *Priority) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	if raw == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	parsed, err := task.ParsePriority(raw)
	if err != nil {
		return err
	}
	*p = Priority(parsed)
	return nil
}

// Date — календарный день: "2006-01-02" в локальном поясе или RFC3339
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.ParseInLocation(DateLayout, s, time.Local); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return &task.ValidationError{Field: "due_date", Reason: "ожидается YYYY-MM-DD или RFC3339"}
	}
	d.Time = t
	return nil
}

type CreateTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	DueDate     Date     `json:"due_date"`
}

// UpdateTaskRequest — PUT, запись перезаписывается целиком
type UpdateTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	DueDate     Date     `json:"due_date"`
	Completed   bool     `json:"completed"`
}

// PatchTaskRequest — PATCH, меняются только переданные поля
type PatchTaskRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	DueDate     *Date     `json:"due_date,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
}

func (p PatchTaskRequest) Options() []task.TaskOption {
	var opts []task.TaskOption
	if p.Title != nil {
		opts = append(opts, task.WithTitle(*p.Title))
	}
	if p.Description != nil {
		opts = append(opts, task.WithDescription(*p.Description))
	}
	if p.Priority != nil {
		opts = append(opts, task.WithPriority(task.Priority(*p.Priority)))
	}
	if p.DueDate != nil {
		opts = append(opts, task.WithDueDate(p.DueDate.Time))
	}
	if p.Completed != nil {
		opts = append(opts, task.WithCompleted(*p.Completed))
	}
	return opts
}

type LocaleRequest struct {
	Locale string `json:"locale"`
}

type LocaleResponse struct {
	Locale string `json:"locale"`
}

type TaskResponse struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Priority     int       `json:"priority"`
	PriorityName string    `json:"priority_name"`
	DueAt        time.Time `json:"due_at"`
	Completed    bool      `json:"completed"`
	IsOverdue    bool      `json:"is_overdue"`
}

func FromTask(t task.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		Priority:     int(t.Priority),
		PriorityName: t.Priority.String(),
		DueAt:        t.DueAt,
		Completed:    t.Completed,
		IsOverdue:    !t.Completed && t.DueAt.Before(time.Now()),
	}
}

func FromTaskList(tasks []task.Task) []TaskResponse {
	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = FromTask(t)
	}
	return result
}
