package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskReminder/internal/logger"
	"taskReminder/internal/models/reminder"
	"taskReminder/internal/models/task"
	repo "taskReminder/internal/repository"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const taskColumns = `id, title, description, priority, due_at, completed`

// Config — параметры пула соединений
type Config struct {
	URL         string
	MaxConns    int32
	MinConns    int32
	IdleTimeout time.Duration
}

type Storage struct {
	pool *pgxpool.Pool
}

var _ repo.Store = (*Storage)(nil)

// New применяет миграции и поднимает пул
func New(ctx context.Context, cfg Config) (*Storage, error) {
	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		logger.Error("Repository: Ошибка загрузки конфига", err)
		return nil, fmt.Errorf("загрузка конфига: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnIdleTime = time.Minute * 5
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	if cfg.IdleTimeout > 0 {
		config.MaxConnIdleTime = cfg.IdleTimeout
	}

	if err := Migrate(cfg.URL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		logger.Error("Repository: Ошибка создания пула", err)
		return nil, fmt.Errorf("создание пула: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		logger.Error("Repository: Неудачная проверка ping", err)
		return nil, fmt.Errorf("проверка соединения ping: %w", err)
	}

	logger.Info("Repository: Успешное создание подключения к PostgreSQL")
	return &Storage{pool: pool}, nil
}

// Migrate накатывает встроенные миграции; ErrNoChange не ошибка
func Migrate(connString string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("источник миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(connString))
	if err != nil {
		logger.Error("Repository: Не удалось подготовить миграции", err)
		return fmt.Errorf("подготовка миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("Repository: Не удалось применить миграции", err)
		return fmt.Errorf("применение миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Repository: Миграции применены", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// драйвер pgx/v5 для migrate регистрируется под схемой pgx5
func migrateURL(connString string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(connString, prefix) {
			return "pgx5://" + strings.TrimPrefix(connString, prefix)
		}
	}
	return connString
}

func (s *Storage) Close() {
	s.pool.Close()
	logger.Info("Repository: Закрытие всех соединений PostgreSQL")
}

func (s *Storage) HealthCheck(ctx context.Context) error {
	err := s.pool.Ping(ctx)
	if err != nil {
		logger.Error("Repository: Неудачная проверка ping", err)
		return repo.Unavailable("проверка соединения ping", err)
	}
	logger.Debug("Repository: Соединение стабильно")
	return nil
}

func (s *Storage) Insert(ctx context.Context, taskToCreate *task.Task) (int64, error) {
	if err := taskToCreate.Validate(); err != nil {
		return 0, err
	}
	start := time.Now()

	query := `INSERT INTO tasks
				(title, description, priority, due_at, completed)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		taskToCreate.Title,
		taskToCreate.Description,
		int16(taskToCreate.Priority),
		taskToCreate.DueAt.UnixMilli(),
		taskToCreate.Completed,
	).Scan(&taskToCreate.ID)

	if err != nil {
		logger.Error("Repository: Не удалось добавить задачу", err, zap.Duration("ms", time.Since(start)))
		return 0, repo.Unavailable("добавление задачи", err)
	}

	warnIfSlow(start, time.Millisecond*50)
	return taskToCreate.ID, nil
}

func (s *Storage) Update(ctx context.Context, taskToUpdate *task.Task) error {
	if err := taskToUpdate.Validate(); err != nil {
		return err
	}
	start := time.Now()

	query := `UPDATE tasks
			SET title = $1,
				description = $2,
				priority = $3,
				due_at = $4,
				completed = $5
			WHERE id = $6`

	tag, err := s.pool.Exec(ctx, query,
		taskToUpdate.Title,
		taskToUpdate.Description,
		int16(taskToUpdate.Priority),
		taskToUpdate.DueAt.UnixMilli(),
		taskToUpdate.Completed,
		taskToUpdate.ID,
	)
	if err != nil {
		logger.Error("Repository: Не удалось обновить задачу", err)
		return repo.Unavailable("обновление задачи", err)
	}
	if tag.RowsAffected() == 0 {
		logger.Warn("Repository: Обновление отсутствующей задачи", zap.Int64("task_id", taskToUpdate.ID))
		return repo.ErrNotFound
	}

	warnIfSlow(start, time.Millisecond*100)
	return nil
}

// полное удаление из БД, напоминание уходит каскадом
func (s *Storage) Delete(ctx context.Context, taskToDelete *task.Task) error {
	start := time.Now()

	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskToDelete.ID)
	if err != nil {
		logger.Error("Repository: Полное удаление задачи", err, zap.Duration("ms", time.Since(start)))
		return repo.Unavailable("полное удаление", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}

	warnIfSlow(start, time.Millisecond*100)
	return nil
}

func (s *Storage) GetByID(ctx context.Context, id int64) (*task.Task, error) {
	start := time.Now()

	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	if err != nil {
		logger.Error("Repository: Не удалось получить задачу", err, zap.Duration("ms", time.Since(start)))
		return nil, repo.Unavailable("получение задачи", err)
	}

	t, err := pgx.CollectExactlyOneRow(rows, scanTask)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		logger.Error("Repository: Не удалось получить задачу", err, zap.Duration("ms", time.Since(start)))
		return nil, repo.Unavailable("получение задачи", err)
	}

	warnIfSlow(start, time.Millisecond*100)
	return &t, nil
}

func (s *Storage) List(ctx context.Context, q repo.Query) ([]task.Task, error) {
	start := time.Now()

	where, orderBy := q.SQL()
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks `+where+` `+orderBy)
	if err != nil {
		logger.Error("Repository: Не удалось получить задачи", err, zap.Duration("ms", time.Since(start)))
		return nil, repo.Unavailable("получение задач", err)
	}

	tasks, err := pgx.CollectRows(rows, scanTask)
	if err != nil {
		logger.Error("Repository: Ошибка итерации по строкам", err)
		return nil, repo.Unavailable("итерация по строкам", err)
	}

	warnIfSlow(start, time.Millisecond*50+time.Millisecond*time.Duration(len(tasks)))
	return tasks, nil
}

func (s *Storage) SaveReminder(ctx context.Context, r reminder.Record) error {
	query := `INSERT INTO reminders (task_id, fire_at, armed_at, fired_at)
				SELECT $1::BIGINT, $2::BIGINT, $3::BIGINT, NULL::BIGINT
				WHERE EXISTS (SELECT 1 FROM tasks WHERE id = $1)
				ON CONFLICT (task_id) DO UPDATE
				SET fire_at = EXCLUDED.fire_at,
					armed_at = EXCLUDED.armed_at,
					fired_at = NULL`

	tag, err := s.pool.Exec(ctx, query, r.TaskID, r.FireAt.UnixMilli(), r.ArmedAt.UnixMilli())
	if err != nil {
		var pgErr *pgconn.PgError
		// задачу удалили между EXISTS и вставкой
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return repo.ErrNotFound
		}
		logger.Error("Repository: Не удалось сохранить напоминание", err)
		return repo.Unavailable("сохранение напоминания", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Storage) GetReminder(ctx context.Context, taskID int64) (*reminder.Record, error) {
	var (
		fireAt, armedAt int64
		firedAt         *int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT fire_at, armed_at, fired_at FROM reminders WHERE task_id = $1`, taskID,
	).Scan(&fireAt, &armedAt, &firedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, repo.Unavailable("получение напоминания", err)
	}

	r := &reminder.Record{
		TaskID:  taskID,
		FireAt:  time.UnixMilli(fireAt),
		ArmedAt: time.UnixMilli(armedAt),
	}
	if firedAt != nil {
		fired := time.UnixMilli(*firedAt)
		r.FiredAt = &fired
	}
	return r, nil
}

func (s *Storage) MarkReminderFired(ctx context.Context, taskID int64, firedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reminders SET fired_at = $1 WHERE task_id = $2`, firedAt.UnixMilli(), taskID)
	if err != nil {
		return repo.Unavailable("отметка напоминания", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Storage) DeleteReminder(ctx context.Context, taskID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM reminders WHERE task_id = $1`, taskID); err != nil {
		return repo.Unavailable("удаление напоминания", err)
	}
	return nil
}

func scanTask(row pgx.CollectableRow) (task.Task, error) {
	var (
		t        task.Task
		priority int16
		dueAt    int64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &priority, &dueAt, &t.Completed); err != nil {
		return task.Task{}, err
	}
	t.Priority = task.Priority(priority)
	t.DueAt = time.UnixMilli(dueAt)
	return t, nil
}

func warnIfSlow(start time.Time, limit time.Duration) {
	if time.Since(start) > limit {
		logger.Warn("Repository: Медленный запрос", zap.Duration("ms", time.Since(start)))
	}
}
