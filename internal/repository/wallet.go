package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/yieldmart/internal/model"
)

// CreditUserBalance атомарно прибавляет сумму (со знаком) к балансу и выводимому балансу
// пользователя и возвращает баланс после изменения.
func (r *PostgresRepository) CreditUserBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.withRetry(ctx, func() error {
		var err error
		balance, err = creditUserBalance(ctx, r.pool, userID, amount)
		return err
	})
	return balance, err
}

func creditUserBalance(ctx context.Context, q querier, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx,
		`UPDATE profiles
		 SET balance = balance + $2,
		     withdrawable_balance = withdrawable_balance + $2,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING balance`,
		userID, amount,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// GetUserBalance возвращает текущий и выводимый баланс пользователя.
func (r *PostgresRepository) GetUserBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	var b model.Balance
	err := r.withReadRetry(ctx, func() error {
		err := r.pool.QueryRow(ctx,
			`SELECT balance, withdrawable_balance FROM profiles WHERE id = $1`,
			userID,
		).Scan(&b.Current, &b.Withdrawable)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("get balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Balance{}, err
	}
	return b, nil
}

// PurchaseProduct списывает цену продукта с баланса и открывает новую позицию в одной транзакции.
// Строка профиля блокируется, чтобы параллельные покупки не увели баланс в минус.
func (r *PostgresRepository) PurchaseProduct(ctx context.Context, userID, productID uuid.UUID, now time.Time) (model.Position, error) {
	var pos model.Position
	err := r.withRetry(ctx, func() error {
		var err error
		pos, err = r.purchaseProduct(ctx, userID, productID, now)
		return err
	})
	return pos, err
}

func (r *PostgresRepository) purchaseProduct(ctx context.Context, userID, productID uuid.UUID, now time.Time) (model.Position, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Position{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, `SELECT balance FROM profiles WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Position{}, ErrUserNotFound
		}
		return model.Position{}, fmt.Errorf("lock profile for update: %w", err)
	}

	product, err := getProduct(ctx, tx, productID)
	if err != nil {
		return model.Position{}, err
	}
	if product.Status != model.ProductStatusActive {
		return model.Position{}, ErrProductInactive
	}
	if balance.LessThan(product.Price) {
		return model.Position{}, ErrInsufficientBalance
	}

	var balanceAfter decimal.Decimal
	err = tx.QueryRow(ctx,
		`UPDATE profiles
		 SET balance = balance - $2,
		     withdrawable_balance = LEAST(withdrawable_balance, balance - $2),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING balance`,
		userID, product.Price,
	).Scan(&balanceAfter)
	if err != nil {
		return model.Position{}, fmt.Errorf("debit balance: %w", err)
	}

	pos := model.Position{
		ID:            uuid.New(),
		UserID:        userID,
		ProductID:     product.ID,
		PurchasePrice: product.Price,
		DailyEarning:  product.DailyEarning,
		ContractDays:  product.ContractDays,
		DaysRemaining: product.ContractDays,
		TotalEarned:   decimal.Zero,
		IsActive:      true,
		PurchasedAt:   now.UTC(),
		ExpiresAt:     now.UTC().AddDate(0, 0, product.ContractDays),
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_positions (id, user_id, product_id, purchase_price, daily_earning, contract_days,
			days_remaining, total_earned, is_active, purchased_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		pos.ID, pos.UserID, pos.ProductID, pos.PurchasePrice, pos.DailyEarning, pos.ContractDays,
		pos.DaysRemaining, pos.TotalEarned, pos.IsActive, pos.PurchasedAt, pos.ExpiresAt,
	)
	if err != nil {
		return model.Position{}, fmt.Errorf("insert position: %w", err)
	}

	ref := pos.ID
	err = insertTransaction(ctx, tx, model.Transaction{
		UserID:       userID,
		Type:         model.TransactionPurchase,
		Amount:       product.Price.Neg(),
		BalanceAfter: balanceAfter,
		Description:  "Purchase of " + product.Name,
		ReferenceID:  &ref,
	})
	if err != nil {
		return model.Position{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Position{}, fmt.Errorf("commit tx: %w", err)
	}

	return pos, nil
}
