package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mmeshcher/yieldmart/internal/model"
)

const positionColumns = `id, user_id, product_id, purchase_price, daily_earning, contract_days,
	days_remaining, total_earned, is_active, last_earning_date, purchased_at, expires_at`

// updatePositionSQL применяет начисление, только если позиция не изменилась с момента чтения
// и ещё не получала начисление за этот или более поздний день.
const updatePositionSQL = `UPDATE user_positions
	SET days_remaining = $2, total_earned = $3, is_active = $4, last_earning_date = $5
	WHERE id = $1
	  AND is_active
	  AND days_remaining > 0
	  AND days_remaining = $6
	  AND (last_earning_date IS NULL OR last_earning_date < $5)`

func scanPosition(row pgx.Row) (model.Position, error) {
	var (
		p        model.Position
		lastDate pgtype.Date
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.ProductID, &p.PurchasePrice, &p.DailyEarning, &p.ContractDays,
		&p.DaysRemaining, &p.TotalEarned, &p.IsActive, &lastDate, &p.PurchasedAt, &p.ExpiresAt,
	)
	if err != nil {
		return model.Position{}, err
	}
	if lastDate.Valid {
		d := lastDate.Time
		p.LastEarningDate = &d
	}
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]model.Position, error) {
	defer rows.Close()

	var res []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// SelectEligiblePositions возвращает активные позиции с остатком срока, последнее начисление по которым было раньше дня.
func (r *PostgresRepository) SelectEligiblePositions(ctx context.Context, today time.Time) ([]model.Position, error) {
	var res []model.Position
	err := r.withReadRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+positionColumns+`
			 FROM user_positions
			 WHERE is_active
			   AND days_remaining > 0
			   AND (last_earning_date IS NULL OR last_earning_date < $1)`,
			model.Day(today),
		)
		if err != nil {
			return fmt.Errorf("select eligible positions: %w", err)
		}
		res, err = collectPositions(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UpdatePosition сохраняет состояние позиции после начисления.
// Обновление применяется, только если позиция всё ещё подлежит начислению за upd.LastEarningDate
// и её остаток срока равен upd.PrevDaysRemaining.
func (r *PostgresRepository) UpdatePosition(ctx context.Context, id uuid.UUID, upd model.PositionUpdate) error {
	return r.withRetry(ctx, func() error {
		return updatePosition(ctx, r.pool, id, upd)
	})
}

func updatePosition(ctx context.Context, q querier, id uuid.UUID, upd model.PositionUpdate) error {
	tag, err := q.Exec(ctx, updatePositionSQL,
		id, upd.DaysRemaining, upd.TotalEarned, upd.IsActive, model.Day(upd.LastEarningDate), upd.PrevDaysRemaining,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionNotEligible
	}
	return nil
}

// DeactivatePosition административно выключает позицию. Повторная активация не предусмотрена.
func (r *PostgresRepository) DeactivatePosition(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_positions SET is_active = FALSE WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deactivate position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// GetPosition возвращает позицию по идентификатору.
func (r *PostgresRepository) GetPosition(ctx context.Context, id uuid.UUID) (model.Position, error) {
	p, err := scanPosition(r.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM user_positions WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Position{}, ErrPositionNotFound
		}
		return model.Position{}, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// ListPositionsByUser возвращает позиции пользователя, начиная с последних покупок.
func (r *PostgresRepository) ListPositionsByUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Position, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+positionColumns+`
		 FROM user_positions
		 WHERE user_id = $1 AND (NOT $2 OR is_active)
		 ORDER BY purchased_at DESC`,
		userID, activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("select positions: %w", err)
	}
	return collectPositions(rows)
}
