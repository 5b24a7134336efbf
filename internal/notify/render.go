package notify

import (
	"context"

	"taskReminder/internal/logger"
	"taskReminder/internal/models/reminder"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const reminderKey = "Reminder: %s"

func init() {
	_ = message.SetString(language.English, reminderKey, "Reminder: %s")
	_ = message.SetString(language.Portuguese, reminderKey, "Lembrete: %s")
}

// LocaleSource отдаёт текущую локаль пользователя
type LocaleSource interface {
	Tag() language.Tag
}

// LogRenderer показывает напоминание строкой лога на языке пользователя
type LogRenderer struct {
	locale LocaleSource
}

func NewLogRenderer(locale LocaleSource) *LogRenderer {
	return &LogRenderer{locale: locale}
}

// Headline — заголовок уведомления в текущей локали
func (r *LogRenderer) Headline(p reminder.Payload) string {
	tag := language.English
	if r.locale != nil {
		tag = r.locale.Tag()
	}
	return message.NewPrinter(tag).Sprintf(reminderKey, p.Title)
}

func (r *LogRenderer) Render(ctx context.Context, p reminder.Payload) {
	logger.Info("Notify: "+r.Headline(p),
		zap.Int64("task_id", p.TaskID),
		zap.String("description", p.Description),
	)
}
