package reminder

import (
	"time"

	"github.com/google/uuid"
)

// Handle идентифицирует зарегистрированный одноразовый триггер
type Handle = uuid.UUID

// Payload — то, что получает доставка уведомления
type Payload struct {
	TaskID      int64  `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Record — запись журнала напоминаний, переживает перезапуск процесса
type Record struct {
	TaskID  int64      `json:"task_id" db:"task_id"`
	FireAt  time.Time  `json:"fire_at" db:"fire_at"`
	ArmedAt time.Time  `json:"armed_at" db:"armed_at"`
	FiredAt *time.Time `json:"fired_at,omitempty" db:"fired_at"`
}

// Fired сообщает, сработало ли напоминание именно на момент fireAt
func (r Record) Fired(fireAt time.Time) bool {
	return r.FiredAt != nil && r.FireAt.Equal(fireAt)
}

type State string

const (
	StateUnarmed State = "unarmed"
	StateArmed   State = "armed"
)
