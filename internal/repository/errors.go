package repository

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("запись не найдена")
	// ErrUnavailable — отказ движка хранения, операция не повторяется
	ErrUnavailable = errors.New("хранилище недоступно")
)

// StoreError оборачивает ошибку драйвера; errors.Is(err, ErrUnavailable) == true
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrUnavailable, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

func Unavailable(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
