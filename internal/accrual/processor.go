package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/yieldmart/internal/model"
	"github.com/mmeshcher/yieldmart/internal/repository"
)

// Step обозначает шаг обработки позиции.
type Step int

const (
	StepUpdatePosition Step = iota
	StepBalance
	StepEarningRecord
	StepTransaction
	StepAtomic
)

func (s Step) String() string {
	switch s {
	case StepUpdatePosition:
		return "update_position"
	case StepBalance:
		return "credit_balance"
	case StepEarningRecord:
		return "earning_record"
	case StepTransaction:
		return "transaction"
	case StepAtomic:
		return "atomic_accrual"
	default:
		return "unknown"
	}
}

// StepError описывает сбой одного шага обработки позиции.
type StepError struct {
	Step       Step
	PositionID uuid.UUID
	UserID     uuid.UUID
	Err        error
}

func (e *StepError) Error() string {
	switch e.Step {
	case StepBalance:
		return fmt.Sprintf("User %s balance: %v", e.UserID, e.Err)
	case StepEarningRecord:
		return fmt.Sprintf("Daily earnings %s: %v", e.PositionID, e.Err)
	case StepTransaction:
		return fmt.Sprintf("Transaction %s: %v", e.PositionID, e.Err)
	default:
		return fmt.Sprintf("Position %s: %v", e.PositionID, e.Err)
	}
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Outcome содержит результат обработки одной позиции.
type Outcome struct {
	Processed    bool
	Deactivated  bool
	Skipped      bool
	BalanceAfter decimal.Decimal
	Errors       []error
}

// Processor выполняет переход состояния одной позиции за один день.
type Processor struct {
	store   Store
	atomic  AtomicStore
	balance *BalanceUpdater
	ledger  *LedgerWriter
}

// NewProcessor создаёт Processor. Если atomic не nil, позиция обрабатывается одной транзакцией хранилища.
func NewProcessor(store Store, atomic AtomicStore) *Processor {
	return &Processor{
		store:   store,
		atomic:  atomic,
		balance: NewBalanceUpdater(store),
		ledger:  NewLedgerWriter(store),
	}
}

// Process начисляет доход по позиции за day.
// Позиция сохраняется с новой датой начисления до зачисления на баланс;
// сбой записи журнала после зачисления не отменяет обработку.
func (p *Processor) Process(ctx context.Context, pos model.Position, day time.Time) Outcome {
	upd := pos.Accrue(day)

	if p.atomic != nil {
		return p.processAtomic(ctx, pos, upd)
	}

	if err := p.store.UpdatePosition(ctx, pos.ID, upd); err != nil {
		if errors.Is(err, repository.ErrPositionNotEligible) {
			return Outcome{Skipped: true}
		}
		return failed(StepUpdatePosition, pos, err)
	}

	balance, err := p.balance.Credit(ctx, pos.UserID, pos.DailyEarning)
	if err != nil {
		return failed(StepBalance, pos, err)
	}

	return Outcome{
		Processed:    true,
		Deactivated:  upd.Deactivates(),
		BalanceAfter: balance,
		Errors:       p.ledger.Write(ctx, pos, upd.LastEarningDate, balance),
	}
}

func (p *Processor) processAtomic(ctx context.Context, pos model.Position, upd model.PositionUpdate) Outcome {
	balance, err := p.atomic.AccrueAtomic(ctx, pos, upd, EarningDescription)
	if err != nil {
		if errors.Is(err, repository.ErrPositionNotEligible) {
			return Outcome{Skipped: true}
		}
		return failed(StepAtomic, pos, err)
	}

	return Outcome{
		Processed:    true,
		Deactivated:  upd.Deactivates(),
		BalanceAfter: balance,
	}
}

func failed(step Step, pos model.Position, err error) Outcome {
	return Outcome{
		Errors: []error{&StepError{Step: step, PositionID: pos.ID, UserID: pos.UserID, Err: err}},
	}
}
