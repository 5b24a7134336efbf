// Package live превращает хранилище задач в набор живых представлений:
// после каждой зафиксированной мутации активные подписки получают полный
// свежий снимок своего вида.
package live

import (
	"context"
	"slices"
	"sync"
	"time"

	"taskReminder/internal/logger"
	"taskReminder/internal/models/reminder"
	"taskReminder/internal/models/task"
	repo "taskReminder/internal/repository"

	"go.uber.org/zap"
)

type Store struct {
	repo repo.Store

	// mu разделяет фиксацию (Lock) и вычисление снимков (RLock),
	// поэтому снимок никогда не видит недописанную мутацию
	mu  sync.RWMutex
	gen uint64

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
}

var _ repo.Store = (*Store)(nil)

func New(r repo.Store) *Store {
	return &Store{
		repo: r,
		subs: make(map[*Subscription]struct{}),
	}
}

func (s *Store) Insert(ctx context.Context, t *task.Task) (int64, error) {
	s.mu.Lock()
	id, err := s.repo.Insert(ctx, t)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	gen := s.commit()
	s.mu.Unlock()

	s.publish(ctx, gen)
	return id, nil
}

func (s *Store) Update(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	if err := s.repo.Update(ctx, t); err != nil {
		s.mu.Unlock()
		return err
	}
	gen := s.commit()
	s.mu.Unlock()

	s.publish(ctx, gen)
	return nil
}

func (s *Store) Delete(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	if err := s.repo.Delete(ctx, t); err != nil {
		s.mu.Unlock()
		return err
	}
	gen := s.commit()
	s.mu.Unlock()

	s.publish(ctx, gen)
	return nil
}

// вызывается под s.mu.Lock
func (s *Store) commit() uint64 {
	s.gen++
	return s.gen
}

func (s *Store) GetByID(ctx context.Context, id int64) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.GetByID(ctx, id)
}

func (s *Store) List(ctx context.Context, q repo.Query) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.List(ctx, q)
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func (s *Store) SaveReminder(ctx context.Context, r reminder.Record) error {
	return s.repo.SaveReminder(ctx, r)
}

func (s *Store) GetReminder(ctx context.Context, taskID int64) (*reminder.Record, error) {
	return s.repo.GetReminder(ctx, taskID)
}

func (s *Store) MarkReminderFired(ctx context.Context, taskID int64, firedAt time.Time) error {
	return s.repo.MarkReminderFired(ctx, taskID, firedAt)
}

func (s *Store) DeleteReminder(ctx context.Context, taskID int64) error {
	return s.repo.DeleteReminder(ctx, taskID)
}

// Close закрывает все подписки и нижележащее хранилище
func (s *Store) Close() {
	s.CloseSubscriptions()
	s.repo.Close()
}

// CloseSubscriptions закрывает каналы всех открытых подписок, хранилище
// остаётся рабочим
func (s *Store) CloseSubscriptions() {
	for _, sub := range s.subscriptions() {
		sub.Close()
	}
}

// Active — число открытых подписок
func (s *Store) Active() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

// Watch открывает подписку на вид. Первый снимок уже лежит в канале.
// Отмена ctx закрывает подписку.
func (s *Store) Watch(ctx context.Context, view repo.View) (*Subscription, error) {
	s.mu.RLock()
	snap, err := s.repo.List(ctx, view.Query())
	if err != nil {
		s.mu.RUnlock()
		logger.Error("Live: Не удалось получить начальный снимок", err, zap.Stringer("view", view))
		return nil, err
	}

	sub := &Subscription{
		store: s,
		view:  view,
		ch:    make(chan []task.Task, 1),
		gen:   s.gen,
		last:  snap,
	}
	sub.ch <- slices.Clone(snap)

	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()
	s.mu.RUnlock()

	sub.mu.Lock()
	sub.stop = context.AfterFunc(ctx, sub.Close)
	sub.mu.Unlock()

	logger.Debug("Live: Новая подписка", zap.Stringer("view", view), zap.Int("active", s.Active()))
	return sub, nil
}

// publish пересчитывает каждый активный вид один раз. Если за это время
// зафиксирована более новая мутация, публиковать будет она.
func (s *Store) publish(ctx context.Context, gen uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gen != gen {
		return
	}

	ctx = context.WithoutCancel(ctx)
	snapshots := make(map[repo.View][]task.Task, len(repo.Views))
	for _, sub := range s.subscriptions() {
		snap, ok := snapshots[sub.view]
		if !ok {
			var err error
			snap, err = s.repo.List(ctx, sub.view.Query())
			if err != nil {
				logger.Error("Live: Не удалось пересчитать вид", err, zap.Stringer("view", sub.view))
				continue
			}
			snapshots[sub.view] = snap
		}
		sub.offer(gen, snap)
	}
}

func (s *Store) subscriptions() []*Subscription {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	res := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		res = append(res, sub)
	}
	return res
}

func (s *Store) remove(sub *Subscription) {
	s.subsMu.Lock()
	delete(s.subs, sub)
	s.subsMu.Unlock()
}

// Subscription — одна живая подписка на вид. Канал на один слот:
// если потребитель отстаёт, в нём остаётся только самый свежий снимок.
type Subscription struct {
	store *Store
	view  repo.View
	ch    chan []task.Task

	mu     sync.Mutex
	gen    uint64
	last   []task.Task
	closed bool
	stop   func() bool
}

func (s *Subscription) View() repo.View {
	return s.view
}

// Updates закрывается вместе с подпиской
func (s *Subscription) Updates() <-chan []task.Task {
	return s.ch
}

// Latest — последний отданный снимок
func (s *Subscription) Latest() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.last)
}

func (s *Subscription) offer(gen uint64, snap []task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen <= s.gen {
		return
	}
	s.gen = gen
	if slices.EqualFunc(s.last, snap, task.Task.Equal) {
		return
	}
	s.last = snap

	select {
	case <-s.ch:
	default:
	}
	s.ch <- slices.Clone(snap)
}

// Close синхронный и идемпотентный: после возврата снимков больше не будет
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	select {
	case <-s.ch:
	default:
	}
	close(s.ch)
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.store.remove(s)
	logger.Debug("Live: Подписка закрыта", zap.Stringer("view", s.view))
}
