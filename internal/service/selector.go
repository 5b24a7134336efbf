package service

import (
	"context"
	"sync"

	"taskReminder/internal/logger"
	"taskReminder/internal/repository"
	"taskReminder/internal/repository/live"

	"go.uber.org/zap"
)

// Watcher открывает живые виды
type Watcher interface {
	Watch(ctx context.Context, view repository.View) (*live.Subscription, error)
}

// Selector — единственная точка выбора текущего вида: при смене старая
// подписка закрывается до открытия новой.
type Selector struct {
	watcher Watcher

	mu      sync.Mutex
	current *live.Subscription
}

func NewSelector(w Watcher) *Selector {
	return &Selector{watcher: w}
}

func (s *Selector) Select(ctx context.Context, view repository.View) (*live.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		logger.Debug("Service: Смена вида", zap.Stringer("from", s.current.View()), zap.Stringer("to", view))
		s.current.Close()
		s.current = nil
	}

	sub, err := s.watcher.Watch(ctx, view)
	if err != nil {
		return nil, err
	}
	s.current = sub
	return sub, nil
}

// Current — активная подписка или nil
func (s *Selector) Current() *live.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Selector) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}
