// Package main — точка входа сервиса.
// Загружает конфигурацию, инициализирует приложение и запускает.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/app"
	"serotonyl.ru/vpn-shop/internal/config"
)

// shutdownTimeout — сколько ждём незавершённые операции при остановке.
const shutdownTimeout = 30 * time.Second

func main() {
	// Настраиваем логирование
	setupLogging()

	log.Info("=== Сервис запускается ===")

	// Загружаем конфигурацию из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	// Устанавливаем уровень логирования из конфига
	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err == nil {
		log.SetLevel(level)
	}
	if cfg.AppEnv == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	// Контекст отменяется по Ctrl+C или docker stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}

	log.WithField("addr", cfg.HTTPAddr).Info("=== Сервис готов к работе ===")

	runErr := application.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("Сервис остановлен с ошибкой")
	} else {
		log.Info("Получен сигнал остановки, завершаем работу...")
	}

	// Отдельный контекст: родительский уже отменён
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	application.Shutdown(shutdownCtx)

	log.Info("=== Сервис остановлен ===")
	if runErr != nil {
		os.Exit(1)
	}
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
