package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mmeshcher/yieldmart/internal/accrual"
	"github.com/mmeshcher/yieldmart/internal/config"
	"github.com/mmeshcher/yieldmart/internal/events"
	"github.com/mmeshcher/yieldmart/internal/model"
	"github.com/mmeshcher/yieldmart/internal/repository"
	"github.com/mmeshcher/yieldmart/internal/runlock"
	"github.com/mmeshcher/yieldmart/internal/validation"
)

// Коды завершения команды run.
const (
	exitFatal   = 1
	exitPartial = 2
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)

	runCmd.Flags().String("date", "", "as-of date in YYYY-MM-DD format (default: today in UTC)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one daily earnings batch",
	Long: `Run one daily earnings batch and print the JSON report.
Exit code is 0 on full success, 1 on a fatal error and 2 when some positions failed.`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return err
		}
		defer repo.Close()

		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func runBatch(cmd *cobra.Command, args []string) error {
	rawDate, _ := cmd.Flags().GetString("date")

	var asOf *time.Time
	if rawDate != "" {
		day, err := validation.ParseAsOfDate(rawDate, time.Now())
		if err != nil {
			return err
		}
		asOf = &day
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	logger := newLogger()
	defer logger.Sync()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return err
	}
	defer repo.Close()

	opts := []accrual.Option{
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
			return err
		}
		defer publisher.Close()
		opts = append(opts, accrual.WithPublisher(publisher))
	}

	engine := accrual.NewEngine(repo, logger, opts...)

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var report *model.Report
	if asOf != nil {
		report, err = engine.Run(ctx, *asOf)
	} else {
		report, err = engine.RunToday(ctx)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if code := exitCode(report); code != 0 {
		return exitError{code: code}
	}
	return nil
}

func exitCode(report *model.Report) int {
	switch report.Outcome() {
	case model.OutcomeFatal:
		return exitFatal
	case model.OutcomePartial:
		return exitPartial
	default:
		return 0
	}
}

// contextOrBackground нужен, когда команда вызывается без Execute (в тестах).
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
