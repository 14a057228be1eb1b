// Package main запускает HTTP-сервер сервиса начисления доходности.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/yieldmart/internal/accrual"
	"github.com/mmeshcher/yieldmart/internal/config"
	"github.com/mmeshcher/yieldmart/internal/events"
	"github.com/mmeshcher/yieldmart/internal/handler"
	"github.com/mmeshcher/yieldmart/internal/metrics"
	"github.com/mmeshcher/yieldmart/internal/middleware"
	"github.com/mmeshcher/yieldmart/internal/repository"
	"github.com/mmeshcher/yieldmart/internal/runlock"
	"github.com/mmeshcher/yieldmart/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		sugar.Warnw("failed to load .env", "error", err.Error())
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	m := metrics.New()
	opts := []accrual.Option{
		accrual.WithRecorder(m),
		accrual.WithConcurrency(cfg.AccrualConcurrency),
		accrual.WithTimeout(cfg.AccrualTimeout),
		accrual.WithStrict(cfg.AccrualStrict),
	}

	if cfg.RedisAddress != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()
		opts = append(opts, accrual.WithRunLock(runlock.NewRedis(rdb, cfg.AccrualTimeout+time.Minute, logger)))
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			sugar.Fatalw("kafka initialization error", "error", err.Error())
		}
		defer publisher.Close()
		opts = append(opts, accrual.WithPublisher(publisher))
	}

	engine := accrual.NewEngine(repo, logger, opts...)

	svc := service.NewService(repo, engine, logger)
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is empty, using a random key; issued tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, m, repo.Ping)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновое начисление по расписанию
	g.Go(func() error {
		svc.StartAccrualSchedule(ctx, cfg.AccrualInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting yieldmart server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
