package accrual

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceUpdater зачисляет начисления на кошелёк пользователя.
// Изменение баланса выполняется одной атомарной операцией хранилища, без чтения в приложении.
type BalanceUpdater struct {
	store Store
}

// NewBalanceUpdater создаёт BalanceUpdater поверх хранилища.
func NewBalanceUpdater(store Store) *BalanceUpdater {
	return &BalanceUpdater{store: store}
}

// Credit прибавляет amount к балансу пользователя и возвращает баланс после зачисления.
func (b *BalanceUpdater) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	return b.store.CreditUserBalance(ctx, userID, amount)
}
