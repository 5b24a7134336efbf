package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"taskReminder/internal/logger"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("очередь мутаций закрыта")

// Job — одна мутация. Получает контекст рабочего цикла.
type Job func(ctx context.Context)

// MutationQueue — единственный фоновый исполнитель мутаций: задания
// выполняются строго в порядке постановки, не более одного одновременно.
type MutationQueue struct {
	jobs chan Job

	// mu защищает закрытие jobs от параллельных Submit
	mu     sync.RWMutex
	closed bool

	quit      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
}

func NewMutationQueue(size int) *MutationQueue {
	if size <= 0 {
		size = 64
	}
	return &MutationQueue{
		jobs: make(chan Job, size),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start крутит цикл до Close или отмены ctx. После отмены ctx приём
// закрывается, а уже поставленные задания дописываются до конца.
func (q *MutationQueue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	defer close(q.done)

	logger.Info("Worker: Очередь мутаций запущена", zap.Int("capacity", cap(q.jobs)))
	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				logger.Info("Worker: Очередь мутаций остановлена")
				return
			}
			q.run(ctx, job)
		case <-ctx.Done():
			q.Close()
			q.drain(context.WithoutCancel(ctx))
			logger.Info("Worker: Очередь мутаций останавливается", zap.Error(ctx.Err()))
			return
		}
	}
}

func (q *MutationQueue) drain(ctx context.Context) {
	for job := range q.jobs {
		q.run(ctx, job)
	}
}

func (q *MutationQueue) run(ctx context.Context, job Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Worker: Паника в задании", zap.Any("panic", r))
		}
		logger.Debug("Worker: Задание выполнено", zap.Duration("ms", time.Since(start)))
	}()
	job(ctx)
}

// Submit ставит задание в очередь. Блокируется только пока буфер полон.
func (q *MutationQueue) Submit(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	case <-q.quit:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close прекращает приём заданий; уже поставленные будут выполнены
func (q *MutationQueue) Close() {
	q.closeOnce.Do(func() {
		// сначала будим Submit, ждущие места в буфере
		close(q.quit)

		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})
}

// Wait ждёт завершения цикла; без Start возвращается сразу
func (q *MutationQueue) Wait() {
	if !q.started.Load() {
		return
	}
	<-q.done
}

// Shutdown — Close и ожидание, пока очередь опустеет. Если цикл ещё не
// запущен, Shutdown занимает его место и дописывает задания сам, а
// опоздавший Start сразу возвращается.
func (q *MutationQueue) Shutdown() {
	q.Close()
	if q.started.CompareAndSwap(false, true) {
		q.drain(context.Background())
		close(q.done)
		return
	}
	q.Wait()
}
