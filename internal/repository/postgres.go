// Package repository содержит реализацию хранилища позиций, кошельков и журнала в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/jackc/pgerrcode"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserNotFound возвращается, если профиль пользователя не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrPositionNotFound возвращается, если позиция не найдена.
	ErrPositionNotFound = errors.New("position not found")
	// ErrPositionNotEligible возвращается, если позиция уже не подлежит начислению за этот день.
	ErrPositionNotEligible = errors.New("position not eligible for accrual")
	// ErrProductNotFound возвращается, если продукт не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductInactive возвращается при попытке купить снятый с продажи продукт.
	ErrProductInactive = errors.New("product is not active")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// pgxPool описывает подмножество pgxpool.Pool, которым пользуется репозиторий.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// querier общий для пула и транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool      pgxPool
	retry     retrypolicy.RetryPolicy[any]
	readRetry retrypolicy.RetryPolicy[any]
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return newRepository(pool, time.Second, 5*time.Second, 3), nil
}

func newRepository(pool pgxPool, delay, maxDelay time.Duration, retries int) *PostgresRepository {
	return &PostgresRepository{
		pool:      pool,
		retry:     newRetryPolicy(delay, maxDelay, retries, isTxConflict),
		readRetry: newRetryPolicy(delay, maxDelay, retries, isTransient),
	}
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func newRetryPolicy(delay, maxDelay time.Duration, retries int, retryable func(error) bool) retrypolicy.RetryPolicy[any] {
	return retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && retryable(err)
		}).
		WithBackoff(delay, maxDelay).
		WithMaxRetries(retries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		Build()
}

// withRetry повторяет операцию только при конфликтах транзакций: такие ошибки гарантируют откат.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	return failsafe.With(r.retry).WithContext(ctx).Run(fn)
}

// withReadRetry дополнительно повторяет чтение при сетевых ошибках.
func (r *PostgresRepository) withReadRetry(ctx context.Context, fn func() error) error {
	return failsafe.With(r.readRetry).WithContext(ctx).Run(fn)
}

func isTxConflict(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

func isTransient(err error) bool {
	return isTxConflict(err) || isConnectionError(err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
