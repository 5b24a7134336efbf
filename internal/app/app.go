package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"taskReminder/internal/config"
	"taskReminder/internal/handlers"
	"taskReminder/internal/logger"
	rmodel "taskReminder/internal/models/reminder"
	"taskReminder/internal/notify"
	"taskReminder/internal/preferences"
	"taskReminder/internal/reminder"
	"taskReminder/internal/repository"
	"taskReminder/internal/repository/live"
	"taskReminder/internal/repository/task/inmemory"
	"taskReminder/internal/repository/task/postgres"
	"taskReminder/internal/repository/task/sqlite"
	"taskReminder/internal/service"
	"taskReminder/internal/worker"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	server    *http.Server
	store     *live.Store
	queue     *worker.MutationQueue
	notifier  *notify.TimerNotifier
	scheduler *reminder.Scheduler
	prefs     *preferences.Store
	service   *service.TaskService
	shutdowns []func() // функции для graceful shutdown, выполняются в обратном порядке
}

func New(cfg *config.Config) *App {
	return &App{
		config:    cfg,
		shutdowns: make([]func(), 0),
	}
}

// Init собирает зависимости: хранилище, живые виды, очередь, напоминания,
// сервис и HTTP. При ошибке уже поднятое закрывается.
func (a *App) Init(ctx context.Context) (*App, error) {
	if err := logger.Init(a.config.Logging.Development); err != nil {
		return nil, fmt.Errorf("инициализация логгера: %w", err)
	}
	a.shutdowns = append(a.shutdowns, func() {
		logger.Info("App: Завершение работы логгирования...")
		logger.Sync()
	})

	repo, err := openStore(ctx, a.config)
	if err != nil {
		a.Shutdown()
		return nil, err
	}
	a.store = live.New(repo)
	a.shutdowns = append(a.shutdowns, a.store.Close)

	a.prefs, err = preferences.Load(a.config.Preferences.Path)
	if err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("настройки: %w", err)
	}

	a.notifier = notify.New(nil)
	a.shutdowns = append(a.shutdowns, a.notifier.Close)

	a.scheduler = reminder.NewScheduler(a.notifier, a.store, notify.NewLogRenderer(a.prefs),
		reminder.WithLeadTime(a.config.Reminder.LeadTime))
	a.notifier.SetDeliver(func(h rmodel.Handle, p rmodel.Payload) {
		a.scheduler.Deliver(context.Background(), h, p)
	})

	a.queue = worker.NewMutationQueue(a.config.Reminder.QueueSize)
	a.shutdowns = append(a.shutdowns, a.queue.Shutdown)

	a.service = service.NewTaskService(a.store, a.queue, a.scheduler)

	restored, err := a.service.RestoreReminders(ctx)
	if err != nil {
		logger.Warn("App: Напоминания восстановлены не полностью", zap.Error(err))
	}
	logger.Info("App: Напоминания восстановлены", zap.Int("armed", restored))

	handler := handlers.NewTaskHandler(a.service, a.prefs)
	a.server = &http.Server{
		Addr: a.config.GetServerAddr(),
		Handler: handlers.NewRouter(handler, handlers.RouterConfig{
			RequestTimeout: a.config.Server.RequestTimeout,
			RateLimit:      a.config.Server.RateLimit,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	// потоки SSE сами не завершаются, Shutdown иначе ждал бы их вечно
	a.server.RegisterOnShutdown(a.store.CloseSubscriptions)

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Repository.Type {
	case "sqlite":
		return sqlite.New(ctx, cfg.Database.Path)
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			URL:         cfg.Database.URL,
			MaxConns:    int32(cfg.Database.MaxConnections),
			MinConns:    int32(cfg.Database.MinConnections),
			IdleTimeout: cfg.Database.IdleTimeout,
		})
	case "inmemory":
		logger.Warn("App: Данные хранятся только в памяти и пропадут при остановке")
		return inmemory.NewTaskStorage(), nil
	default:
		return nil, fmt.Errorf("неизвестный тип репозитория %q", cfg.Repository.Type)
	}
}

// Handler — корневой HTTP-обработчик, пригодится тестам
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Service() *service.TaskService {
	return a.service
}

// Run держит сервер и очередь мутаций до отмены ctx или падения сервера.
// Очередь останавливается после сервера, чтобы дописать мутации последних
// запросов.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	queueCtx, stopQueue := context.WithCancel(context.WithoutCancel(ctx))

	g.Go(func() error {
		a.queue.Start(queueCtx)
		return nil
	})

	g.Go(func() error {
		logger.Info("App: Сервер запущен", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http сервер: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer stopQueue()
		<-gctx.Done()
		logger.Info("App: Остановка сервера...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("остановка сервера: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Shutdown освобождает ресурсы в обратном порядке: очередь дописывает
// мутации, затем гаснут таймеры, затем закрывается база, логгер последним.
func (a *App) Shutdown() {
	for i := len(a.shutdowns) - 1; i >= 0; i-- {
		a.shutdowns[i]()
	}
	a.shutdowns = nil
}
