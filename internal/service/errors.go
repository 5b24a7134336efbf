package service

import (
	"errors"
	"fmt"

	"taskReminder/internal/models/task"
	"taskReminder/internal/repository"
	"taskReminder/internal/worker"
)

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeQueueClosed      = "QUEUE_CLOSED"
	CodeInternal         = "INTERNAL_ERROR"
)

type BusinessError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

type Detail struct {
	Key     string
	Payload any
}

func (b *BusinessError) Error() string {
	if b.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", b.Code, b.Message, b.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", b.Code, b.Message)
}

// Unwrap даёт errors.Is дойти до сигнальной ошибки хранилища или очереди
func (b *BusinessError) Unwrap() error {
	return b.Err
}

func ToDetail(key string, payload any) Detail {
	return Detail{
		Key:     key,
		Payload: payload,
	}
}

func NewBusinessError(code string, message string, details ...Detail) *BusinessError {
	busErr := &BusinessError{
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}

	for _, detail := range details {
		busErr.Details[detail.Key] = detail.Payload
	}

	return busErr
}

func NewNotFound(id int64) *BusinessError {
	return &BusinessError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("задача %d не найдена", id),
		Details: map[string]any{
			"resource": "task",
			"id":       id,
		},
		Err: repository.ErrNotFound,
	}
}

func NewValidationError(field, reason string) *BusinessError {
	return &BusinessError{
		Code:    CodeValidation,
		Message: fmt.Sprintf("Неверное значение поля '%s': %s", field, reason),
		Details: map[string]any{
			"field":  field,
			"reason": reason,
		},
		Err: &task.ValidationError{Field: field, Reason: reason},
	}
}

// FromError переводит ошибку нижних слоёв в бизнес-ошибку
func FromError(err error) error {
	if err == nil {
		return nil
	}

	var busErr *BusinessError
	if errors.As(err, &busErr) {
		return busErr
	}

	var verr *task.ValidationError
	switch {
	case errors.As(err, &verr):
		return NewValidationError(verr.Field, verr.Reason)
	case errors.Is(err, repository.ErrNotFound):
		return &BusinessError{Code: CodeNotFound, Message: "задача не найдена", Details: map[string]any{}, Err: err}
	case errors.Is(err, repository.ErrUnavailable):
		return &BusinessError{Code: CodeStoreUnavailable, Message: "хранилище недоступно", Details: map[string]any{}, Err: err}
	case errors.Is(err, worker.ErrQueueClosed):
		return &BusinessError{Code: CodeQueueClosed, Message: "сервис останавливается", Details: map[string]any{}, Err: err}
	default:
		return &BusinessError{Code: CodeInternal, Message: "внутренняя ошибка", Details: map[string]any{}, Err: err}
	}
}

// notFound уточняет NOT_FOUND идентификатором задачи
func notFound(id int64, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return NewNotFound(id)
	}
	return FromError(err)
}
