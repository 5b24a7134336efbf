// Package notify — локальная служба одноразовых триггеров: доставляет
// напоминание в назначенный момент и умеет его отменять.
package notify

import (
	"errors"
	"sync"
	"time"

	"taskReminder/internal/logger"
	"taskReminder/internal/models/reminder"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("служба уведомлений остановлена")

// DeliverFunc вызывается при срабатывании триггера вне внутренних блокировок
type DeliverFunc func(h reminder.Handle, p reminder.Payload)

type trigger struct {
	timer   *time.Timer
	payload reminder.Payload
	fireAt  time.Time
}

// TimerNotifier держит по таймеру на каждый зарегистрированный триггер.
// Отменённый триггер не срабатывает никогда: перед доставкой проверяется
// регистрация под той же блокировкой, что и в Cancel.
type TimerNotifier struct {
	mu       sync.Mutex
	triggers map[reminder.Handle]*trigger
	deliver  DeliverFunc
	closed   bool
	wg       sync.WaitGroup
}

func New(deliver DeliverFunc) *TimerNotifier {
	return &TimerNotifier{
		triggers: make(map[reminder.Handle]*trigger),
		deliver:  deliver,
	}
}

// SetDeliver подменяет получателя; нужен, когда получатель создаётся позже
func (n *TimerNotifier) SetDeliver(deliver DeliverFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliver = deliver
}

// ScheduleOneShot регистрирует триггер. Время в прошлом срабатывает сразу.
func (n *TimerNotifier) ScheduleOneShot(taskID int64, fireAt time.Time, p reminder.Payload) (reminder.Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return uuid.Nil, ErrClosed
	}

	h := uuid.New()
	p.TaskID = taskID
	tr := &trigger{payload: p, fireAt: fireAt}
	n.triggers[h] = tr

	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	tr.timer = time.AfterFunc(delay, func() { n.fire(h) })

	logger.Debug("Notify: Триггер зарегистрирован",
		zap.Int64("task_id", taskID),
		zap.Time("fire_at", fireAt),
		zap.String("handle", h.String()),
	)
	return h, nil
}

// Cancel идемпотентен: неизвестный или уже сработавший хендл не ошибка
func (n *TimerNotifier) Cancel(h reminder.Handle) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	tr, ok := n.triggers[h]
	if !ok {
		return nil
	}
	tr.timer.Stop()
	delete(n.triggers, h)
	logger.Debug("Notify: Триггер отменён", zap.String("handle", h.String()))
	return nil
}

func (n *TimerNotifier) fire(h reminder.Handle) {
	n.mu.Lock()
	tr, ok := n.triggers[h]
	if !ok || n.closed {
		n.mu.Unlock()
		return
	}
	delete(n.triggers, h)
	deliver := n.deliver
	n.wg.Add(1)
	n.mu.Unlock()

	defer n.wg.Done()
	logger.Debug("Notify: Триггер сработал", zap.Int64("task_id", tr.payload.TaskID))
	if deliver != nil {
		deliver(h, tr.payload)
	}
}

// Pending — число зарегистрированных и ещё не сработавших триггеров
func (n *TimerNotifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.triggers)
}

// Close останавливает все таймеры и ждёт идущие доставки
func (n *TimerNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for h, tr := range n.triggers {
		tr.timer.Stop()
		delete(n.triggers, h)
	}
	n.mu.Unlock()

	n.wg.Wait()
	logger.Info("Notify: Служба уведомлений остановлена")
}
