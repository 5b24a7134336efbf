package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"taskReminder/internal/app"
	"taskReminder/internal/config"
	"taskReminder/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигу (по умолчанию TASKS_CONFIG или config.yml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "конфигурация:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg).Init(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "запуск:", err)
		os.Exit(1)
	}

	runErr := a.Run(ctx)
	if runErr != nil {
		logger.Error("App: Сервер остановлен с ошибкой", runErr)
	}
	a.Shutdown()

	if runErr != nil {
		os.Exit(1)
	}
}
