// Package accrual реализует пакетное ежедневное начисление доходности по позициям пользователей.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/yieldmart/internal/model"
)

// ErrRunInProgress возвращается, если другой запуск уже выполняется.
var ErrRunInProgress = errors.New("accrual run already in progress")

// Store описывает операции хранилища, необходимые движку начислений.
type Store interface {
	SelectEligiblePositions(ctx context.Context, today time.Time) ([]model.Position, error)
	UpdatePosition(ctx context.Context, id uuid.UUID, upd model.PositionUpdate) error
	CreditUserBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	InsertEarningRecord(ctx context.Context, rec model.EarningRecord) error
	InsertTransaction(ctx context.Context, t model.Transaction) error
}

// AtomicStore выполняет начисление по позиции одной транзакцией.
type AtomicStore interface {
	AccrueAtomic(ctx context.Context, p model.Position, upd model.PositionUpdate, description string) (decimal.Decimal, error)
}

// RunLocker не даёт двум экземплярам сервиса обрабатывать один день одновременно.
type RunLocker interface {
	Acquire(ctx context.Context, day time.Time) (release func(), acquired bool, err error)
}

// Publisher публикует события начислений.
type Publisher interface {
	PublishAccrual(ctx context.Context, ev model.AccrualEvent) error
}

// Recorder собирает метрики запусков.
type Recorder interface {
	RunFinished(outcome string, duration time.Duration)
	PositionHandled(result string)
	Credited(amount decimal.Decimal)
}

// DefaultPositionTimeout ограничивает обработку одной позиции по умолчанию.
const DefaultPositionTimeout = 30 * time.Second

// Результаты обработки позиции для Recorder.
const (
	ResultProcessed   = "processed"
	ResultFailed      = "failed"
	ResultSkipped     = "skipped"
	ResultDeactivated = "deactivated"
)

// State описывает фазу запуска.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateProcessing
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScanning:
		return "SCANNING"
	case StateProcessing:
		return "PROCESSING"
	case StateReporting:
		return "REPORTING"
	default:
		return "UNKNOWN"
	}
}

// Engine управляет запуском: отбор позиций, обработка, отчёт.
type Engine struct {
	scanner     *Scanner
	processor   *Processor
	lock        RunLocker
	publisher   Publisher
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time
	concurrency int
	timeout     time.Duration
	posTimeout  time.Duration
	strict      bool

	state atomic.Int32
}

// Option настраивает Engine.
type Option func(*Engine)

// WithRunLock задаёт распределённую блокировку запуска.
func WithRunLock(l RunLocker) Option {
	return func(e *Engine) { e.lock = l }
}

// WithPublisher задаёт получателя событий начислений.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithRecorder задаёт сборщик метрик.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock задаёт источник текущего времени для RunToday.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConcurrency задаёт число позиций, обрабатываемых параллельно.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTimeout ограничивает длительность запуска.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithPositionTimeout ограничивает обработку одной позиции.
// Начатая позиция доводится до конца даже после отмены запуска.
func WithPositionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.posTimeout = d
		}
	}
}

// WithStrict включает обработку каждой позиции одной транзакцией, если хранилище это поддерживает.
func WithStrict(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// NewEngine создаёт движок начислений поверх хранилища.
func NewEngine(store Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		scanner:     NewScanner(store),
		lock:        noopLock{},
		publisher:   noopPublisher{},
		recorder:    noopRecorder{},
		logger:      logger,
		now:         time.Now,
		concurrency: 1,
		posTimeout:  DefaultPositionTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	var atomicStore AtomicStore
	if e.strict {
		if as, ok := store.(AtomicStore); ok {
			atomicStore = as
		} else {
			logger.Warn("store does not support atomic accrual, falling back to step-by-step processing")
		}
	}
	e.processor = NewProcessor(store, atomicStore)

	return e
}

// State возвращает текущую фазу движка.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// RunToday запускает начисление за текущий календарный день в UTC.
func (e *Engine) RunToday(ctx context.Context) (*model.Report, error) {
	return e.Run(ctx, e.now())
}

// Run начисляет доход по всем подходящим позициям за день asOf.
// Ошибка возвращается только если запуск уже выполняется; сбои хранилища отражаются в отчёте.
func (e *Engine) Run(ctx context.Context, asOf time.Time) (*model.Report, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateScanning)) {
		return nil, ErrRunInProgress
	}
	defer e.state.Store(int32(StateIdle))

	day := model.Day(asOf)
	report := &model.Report{
		RunID:     ulid.Make().String(),
		AsOf:      day.Format(model.DateLayout),
		Errors:    []string{},
		StartedAt: e.now().UTC(),
	}
	log := e.logger.With(zap.String("run_id", report.RunID), zap.String("as_of", report.AsOf))

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	release, acquired, err := e.lock.Acquire(ctx, day)
	if err != nil {
		log.Error("failed to acquire run lock", zap.Error(err))
		return e.fatal(report, fmt.Errorf("acquire run lock: %w", err)), nil
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer release()

	log.Info("starting daily earnings calculation")

	positions, err := e.scanner.Scan(ctx, day)
	if err != nil {
		log.Error("error fetching active positions", zap.Error(err))
		return e.fatal(report, fmt.Errorf("failed to fetch active positions: %w", err)), nil
	}

	if len(positions) == 0 {
		log.Info("no active positions to process")
		e.state.Store(int32(StateReporting))
		report.Message = "No active positions to process"
		return e.finish(report), nil
	}

	log.Info("found active positions to process", zap.Int("count", len(positions)))

	e.state.Store(int32(StateProcessing))
	e.process(ctx, log, report, positions, day)

	e.state.Store(int32(StateReporting))
	report.Message = fmt.Sprintf("Processed %d positions, deactivated %d", report.Processed, report.Deactivated)
	log.Info("daily earnings calculation completed",
		zap.Int("processed", report.Processed),
		zap.Int("deactivated", report.Deactivated),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)),
	)

	return e.finish(report), nil
}

func (e *Engine) process(ctx context.Context, log *zap.Logger, report *model.Report, positions []model.Position, day time.Time) {
	var (
		mu         sync.Mutex
		g          errgroup.Group
		notStarted int
	)
	g.SetLimit(e.concurrency)

	for _, pos := range positions {
		if ctx.Err() != nil {
			mu.Lock()
			notStarted++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			// Начатая позиция обрабатывается до конца независимо от отмены запуска.
			if ctx.Err() != nil {
				mu.Lock()
				notStarted++
				mu.Unlock()
				return nil
			}

			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.posTimeout)
			defer cancel()

			out := e.processor.Process(pctx, pos, day)
			if out.Processed {
				e.publish(pctx, log, report.RunID, pos, day, out)
			}

			mu.Lock()
			defer mu.Unlock()
			e.merge(log, report, pos, out)
			return nil
		})
	}
	_ = g.Wait()

	if notStarted > 0 {
		log.Error("batch interrupted", zap.Int("not_started", notStarted), zap.Error(ctx.Err()))
		report.Errors = append(report.Errors, fmt.Sprintf("Batch interrupted: %d positions not processed: %v", notStarted, ctx.Err()))
	}
}

func (e *Engine) merge(log *zap.Logger, report *model.Report, pos model.Position, out Outcome) {
	for _, err := range out.Errors {
		step := "unknown"
		var se *StepError
		if errors.As(err, &se) {
			step = se.Step.String()
		}
		log.Error("error processing position",
			zap.String("position_id", pos.ID.String()),
			zap.String("user_id", pos.UserID.String()),
			zap.String("step", step),
			zap.Error(err),
		)
		report.Errors = append(report.Errors, err.Error())
	}

	switch {
	case out.Skipped:
		report.Skipped++
		e.recorder.PositionHandled(ResultSkipped)
		log.Info("position already accrued for the day, skipped", zap.String("position_id", pos.ID.String()))
	case out.Processed:
		report.Processed++
		e.recorder.PositionHandled(ResultProcessed)
		e.recorder.Credited(pos.DailyEarning)
		if out.Deactivated {
			report.Deactivated++
			e.recorder.PositionHandled(ResultDeactivated)
			log.Info("position completed and deactivated", zap.String("position_id", pos.ID.String()))
		}
	default:
		e.recorder.PositionHandled(ResultFailed)
	}
}

func (e *Engine) publish(ctx context.Context, log *zap.Logger, runID string, pos model.Position, day time.Time, out Outcome) {
	err := e.publisher.PublishAccrual(ctx, model.AccrualEvent{
		RunID:        runID,
		PositionID:   pos.ID,
		UserID:       pos.UserID,
		Amount:       pos.DailyEarning,
		BalanceAfter: out.BalanceAfter,
		EarningDate:  day.Format(model.DateLayout),
		Deactivated:  out.Deactivated,
	})
	if err != nil {
		log.Warn("failed to publish accrual event", zap.String("position_id", pos.ID.String()), zap.Error(err))
	}
}

func (e *Engine) fatal(report *model.Report, err error) *model.Report {
	report.Success = false
	report.Error = err.Error()
	report.Message = "Daily earnings calculation failed"
	report.Processed = 0
	report.Deactivated = 0
	report.Errors = []string{err.Error()}
	return e.finish(report)
}

func (e *Engine) finish(report *model.Report) *model.Report {
	report.FinishedAt = e.now().UTC()
	report.Success = report.Outcome() == model.OutcomeSuccess
	e.recorder.RunFinished(report.Outcome(), report.FinishedAt.Sub(report.StartedAt))
	return report
}

type noopLock struct{}

func (noopLock) Acquire(context.Context, time.Time) (func(), bool, error) {
	return func() {}, true, nil
}

type noopPublisher struct{}

func (noopPublisher) PublishAccrual(context.Context, model.AccrualEvent) error { return nil }

type noopRecorder struct{}

func (noopRecorder) RunFinished(string, time.Duration) {}
func (noopRecorder) PositionHandled(string)            {}
func (noopRecorder) Credited(decimal.Decimal)          {}
