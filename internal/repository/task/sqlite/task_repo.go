package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"taskReminder/internal/logger"
	"taskReminder/internal/models/reminder"
	"taskReminder/internal/models/task"
	repo "taskReminder/internal/repository"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const slowQuery = 50 * time.Millisecond

const taskColumns = `id, title, description, priority, due_at, completed`

// Storage — локальное реляционное хранилище задач на SQLite
type Storage struct {
	db *sql.DB
}

var _ repo.Store = (*Storage)(nil)

// New открывает (или создаёт) файл базы и применяет схему.
// ":memory:" поддерживается для тестов.
func New(ctx context.Context, path string) (*Storage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			logger.Error("Repository: Не удалось создать каталог базы", err, zap.String("path", path))
			return nil, fmt.Errorf("создание каталога: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("Repository: Не удалось открыть базу", err, zap.String("path", path))
		return nil, fmt.Errorf("открытие базы: %w", err)
	}
	// один писатель, иначе SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		logger.Error("Repository: Не удалось применить схему", err)
		return nil, fmt.Errorf("применение схемы: %w", err)
	}

	logger.Info("Repository: Успешное открытие SQLite", zap.String("path", path))
	return &Storage{db: db}, nil
}

func (s *Storage) Close() {
	if s.db == nil {
		return
	}
	s.db.Close()
	logger.Info("Repository: Закрытие базы SQLite")
}

func (s *Storage) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		logger.Error("Repository: Неудачная проверка ping", err)
		return repo.Unavailable("проверка соединения", err)
	}
	return nil
}

func (s *Storage) Insert(ctx context.Context, taskToCreate *task.Task) (int64, error) {
	if err := taskToCreate.Validate(); err != nil {
		return 0, err
	}
	start := time.Now()
	defer warnIfSlow("insert", start)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (title, description, priority, due_at, completed)
			VALUES (?, ?, ?, ?, ?)`,
		taskToCreate.Title,
		taskToCreate.Description,
		int(taskToCreate.Priority),
		taskToCreate.DueAt.UnixMilli(),
		taskToCreate.Completed,
	)
	if err != nil {
		logger.Error("Repository: Не удалось добавить задачу", err, zap.Duration("ms", time.Since(start)))
		return 0, repo.Unavailable("добавление задачи", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, repo.Unavailable("получение id", err)
	}
	taskToCreate.ID = id
	return id, nil
}

func (s *Storage) Update(ctx context.Context, taskToUpdate *task.Task) error {
	if err := taskToUpdate.Validate(); err != nil {
		return err
	}
	start := time.Now()
	defer warnIfSlow("update", start)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
			SET title = ?,
				description = ?,
				priority = ?,
				due_at = ?,
				completed = ?
			WHERE id = ?`,
		taskToUpdate.Title,
		taskToUpdate.Description,
		int(taskToUpdate.Priority),
		taskToUpdate.DueAt.UnixMilli(),
		taskToUpdate.Completed,
		taskToUpdate.ID,
	)
	if err != nil {
		logger.Error("Repository: Не удалось обновить задачу", err)
		return repo.Unavailable("обновление задачи", err)
	}
	return requireAffected(res, "обновление задачи")
}

func (s *Storage) Delete(ctx context.Context, taskToDelete *task.Task) error {
	start := time.Now()
	defer warnIfSlow("delete", start)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repo.Unavailable("удаление задачи", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE task_id = ?`, taskToDelete.ID); err != nil {
		return repo.Unavailable("удаление напоминания", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskToDelete.ID)
	if err != nil {
		logger.Error("Repository: Полное удаление задачи", err)
		return repo.Unavailable("удаление задачи", err)
	}
	if err := requireAffected(res, "удаление задачи"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return repo.Unavailable("удаление задачи", err)
	}
	return nil
}

func (s *Storage) GetByID(ctx context.Context, id int64) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, repo.Unavailable("получение задачи", err)
	}
	return &t, nil
}

func (s *Storage) List(ctx context.Context, q repo.Query) ([]task.Task, error) {
	start := time.Now()
	defer warnIfSlow("list", start)

	where, orderBy := q.SQL()
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+where+` `+orderBy)
	if err != nil {
		logger.Error("Repository: Не удалось получить задачи", err, zap.Duration("ms", time.Since(start)))
		return nil, repo.Unavailable("получение задач", err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, repo.Unavailable("сканирование задачи", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		logger.Error("Repository: Ошибка итерации по строкам", err)
		return nil, repo.Unavailable("итерация по строкам", err)
	}
	return tasks, nil
}

func (s *Storage) SaveReminder(ctx context.Context, r reminder.Record) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (task_id, fire_at, armed_at, fired_at)
			SELECT ?, ?, ?, NULL WHERE EXISTS (SELECT 1 FROM tasks WHERE id = ?)
			ON CONFLICT (task_id) DO UPDATE
			SET fire_at = excluded.fire_at,
				armed_at = excluded.armed_at,
				fired_at = NULL`,
		r.TaskID, r.FireAt.UnixMilli(), r.ArmedAt.UnixMilli(), r.TaskID,
	)
	if err != nil {
		return repo.Unavailable("сохранение напоминания", err)
	}
	return requireAffected(res, "сохранение напоминания")
}

func (s *Storage) GetReminder(ctx context.Context, taskID int64) (*reminder.Record, error) {
	var (
		fireAt, armedAt int64
		firedAt         sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fire_at, armed_at, fired_at FROM reminders WHERE task_id = ?`, taskID,
	).Scan(&fireAt, &armedAt, &firedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, repo.Unavailable("получение напоминания", err)
	}

	r := &reminder.Record{
		TaskID:  taskID,
		FireAt:  time.UnixMilli(fireAt),
		ArmedAt: time.UnixMilli(armedAt),
	}
	if firedAt.Valid {
		fired := time.UnixMilli(firedAt.Int64)
		r.FiredAt = &fired
	}
	return r, nil
}

func (s *Storage) MarkReminderFired(ctx context.Context, taskID int64, firedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET fired_at = ? WHERE task_id = ?`, firedAt.UnixMilli(), taskID)
	if err != nil {
		return repo.Unavailable("отметка напоминания", err)
	}
	return requireAffected(res, "отметка напоминания")
}

func (s *Storage) DeleteReminder(ctx context.Context, taskID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE task_id = ?`, taskID); err != nil {
		return repo.Unavailable("удаление напоминания", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (task.Task, error) {
	var (
		t        task.Task
		priority int
		dueAt    int64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &priority, &dueAt, &t.Completed); err != nil {
		return task.Task{}, err
	}
	t.Priority = task.Priority(priority)
	t.DueAt = time.UnixMilli(dueAt)
	return t, nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return repo.Unavailable(op, err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func warnIfSlow(op string, start time.Time) {
	if time.Since(start) > slowQuery {
		logger.Warn("Repository: Медленный запрос", zap.String("op", op), zap.Duration("ms", time.Since(start)))
	}
}
