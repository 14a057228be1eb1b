package accrual

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/yieldmart/internal/model"
)

// EarningDescription пишется в описание транзакции начисления.
const EarningDescription = "Daily earnings from product investment"

// LedgerWriter добавляет записи о начислении в журнал.
type LedgerWriter struct {
	store Store
}

// NewLedgerWriter создаёт LedgerWriter поверх хранилища.
func NewLedgerWriter(store Store) *LedgerWriter {
	return &LedgerWriter{store: store}
}

// Write записывает начисление и транзакцию. Обе вставки выполняются независимо:
// сбой первой не отменяет вторую, зачисление на баланс не откатывается.
func (w *LedgerWriter) Write(ctx context.Context, p model.Position, day time.Time, balanceAfter decimal.Decimal) []error {
	var errs []error

	err := w.store.InsertEarningRecord(ctx, model.EarningRecord{
		UserID:      p.UserID,
		PositionID:  p.ID,
		Amount:      p.DailyEarning,
		EarningDate: day,
	})
	if err != nil {
		errs = append(errs, &StepError{Step: StepEarningRecord, PositionID: p.ID, UserID: p.UserID, Err: err})
	}

	ref := p.ID
	err = w.store.InsertTransaction(ctx, model.Transaction{
		UserID:       p.UserID,
		Type:         model.TransactionEarning,
		Amount:       p.DailyEarning,
		BalanceAfter: balanceAfter,
		Description:  EarningDescription,
		ReferenceID:  &ref,
	})
	if err != nil {
		errs = append(errs, &StepError{Step: StepTransaction, PositionID: p.ID, UserID: p.UserID, Err: err})
	}

	return errs
}
