package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/yieldmart/internal/model"
)

// InsertEarningRecord добавляет запись о ежедневном начислении.
// Повторная запись за тот же день по той же позиции игнорируется.
func (r *PostgresRepository) InsertEarningRecord(ctx context.Context, rec model.EarningRecord) error {
	return insertEarningRecord(ctx, r.pool, rec)
}

func insertEarningRecord(ctx context.Context, q querier, rec model.EarningRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := q.Exec(ctx,
		`INSERT INTO daily_earnings (id, user_id, user_position_id, amount, earning_date)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_position_id, earning_date) DO NOTHING`,
		rec.ID, rec.UserID, rec.PositionID, rec.Amount, model.Day(rec.EarningDate),
	)
	if err != nil {
		return fmt.Errorf("insert earning record: %w", err)
	}
	return nil
}

// InsertTransaction добавляет запись в журнал операций по кошельку.
func (r *PostgresRepository) InsertTransaction(ctx context.Context, t model.Transaction) error {
	return insertTransaction(ctx, r.pool, t)
}

func insertTransaction(ctx context.Context, q querier, t model.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := q.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, balance_after, description, reference_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, string(t.Type), t.Amount, t.BalanceAfter, t.Description, t.ReferenceID,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// AccrueAtomic выполняет полное начисление по позиции в одной транзакции:
// обновление позиции, зачисление на баланс и обе записи журнала.
func (r *PostgresRepository) AccrueAtomic(ctx context.Context, p model.Position, upd model.PositionUpdate, description string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.withRetry(ctx, func() error {
		var err error
		balance, err = r.accrueAtomic(ctx, p, upd, description)
		return err
	})
	return balance, err
}

func (r *PostgresRepository) accrueAtomic(ctx context.Context, p model.Position, upd model.PositionUpdate, description string) (decimal.Decimal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updatePosition(ctx, tx, p.ID, upd); err != nil {
		return decimal.Zero, err
	}

	balance, err := creditUserBalance(ctx, tx, p.UserID, p.DailyEarning)
	if err != nil {
		return decimal.Zero, err
	}

	err = insertEarningRecord(ctx, tx, model.EarningRecord{
		UserID:      p.UserID,
		PositionID:  p.ID,
		Amount:      p.DailyEarning,
		EarningDate: upd.LastEarningDate,
	})
	if err != nil {
		return decimal.Zero, err
	}

	ref := p.ID
	err = insertTransaction(ctx, tx, model.Transaction{
		UserID:       p.UserID,
		Type:         model.TransactionEarning,
		Amount:       p.DailyEarning,
		BalanceAfter: balance,
		Description:  description,
		ReferenceID:  &ref,
	})
	if err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("commit tx: %w", err)
	}
	return balance, nil
}

// ListEarningsByUser возвращает историю начислений пользователя, начиная с последних.
func (r *PostgresRepository) ListEarningsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.EarningRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, user_position_id, amount, earning_date, created_at
		 FROM daily_earnings
		 WHERE user_id = $1
		 ORDER BY earning_date DESC, created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select earnings: %w", err)
	}
	defer rows.Close()

	var res []model.EarningRecord
	for rows.Next() {
		var (
			rec  model.EarningRecord
			date pgtype.Date
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.PositionID, &rec.Amount, &date, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		rec.EarningDate = date.Time
		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// TotalEarnings возвращает сумму всех начислений пользователя.
func (r *PostgresRepository) TotalEarnings(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM daily_earnings WHERE user_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum earnings: %w", err)
	}
	return total, nil
}

// ListTransactionsByUser возвращает журнал операций пользователя, начиная с последних.
func (r *PostgresRepository) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, amount, balance_after, description, reference_id, created_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var (
			t   model.Transaction
			typ string
			ref pgtype.UUID
		)
		if err := rows.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.BalanceAfter, &t.Description, &ref, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(typ)
		if ref.Valid {
			id := uuid.UUID(ref.Bytes)
			t.ReferenceID = &id
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
