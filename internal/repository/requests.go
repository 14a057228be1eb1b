package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/yieldmart/internal/model"
)

var (
	// ErrRequestNotFound возвращается, если заявка не найдена.
	ErrRequestNotFound = errors.New("request not found")
	// ErrRequestProcessed возвращается при повторном рассмотрении заявки.
	ErrRequestProcessed = errors.New("request already processed")
)

const (
	rechargeTable   = "recharge_requests"
	withdrawalTable = "withdrawal_requests"
)

// CreateRechargeRequest сохраняет заявку на пополнение. Баланс не меняется до одобрения.
func (r *PostgresRepository) CreateRechargeRequest(ctx context.Context, req model.RechargeRequest) (model.RechargeRequest, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Status = model.RequestPending

	err := r.pool.QueryRow(ctx,
		`INSERT INTO recharge_requests (id, user_id, amount, payment_screenshot_url, transaction_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		req.ID, req.UserID, req.Amount, req.PaymentScreenshotURL, req.PaymentReference, string(req.Status),
	).Scan(&req.CreatedAt)
	if err != nil {
		return model.RechargeRequest{}, fmt.Errorf("insert recharge request: %w", err)
	}
	return req, nil
}

// ApproveRecharge одобряет заявку и зачисляет сумму на баланс в одной транзакции.
func (r *PostgresRepository) ApproveRecharge(ctx context.Context, id uuid.UUID, review model.Review) error {
	return r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			userID, amount, err := lockPendingRequest(ctx, tx, rechargeTable, id)
			if err != nil {
				return err
			}

			balance, err := creditUserBalance(ctx, tx, userID, amount)
			if err != nil {
				return err
			}

			ref := id
			err = insertTransaction(ctx, tx, model.Transaction{
				UserID:       userID,
				Type:         model.TransactionRecharge,
				Amount:       amount,
				BalanceAfter: balance,
				Description:  "Recharge approved",
				ReferenceID:  &ref,
			})
			if err != nil {
				return err
			}

			return markReviewed(ctx, tx, rechargeTable, id, model.RequestApproved, review)
		})
	})
}

// RejectRecharge отклоняет заявку на пополнение.
func (r *PostgresRepository) RejectRecharge(ctx context.Context, id uuid.UUID, review model.Review) error {
	return r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			if _, _, err := lockPendingRequest(ctx, tx, rechargeTable, id); err != nil {
				return err
			}
			return markReviewed(ctx, tx, rechargeTable, id, model.RequestRejected, review)
		})
	})
}

// CreateWithdrawalRequest списывает сумму с баланса и создаёт заявку на вывод в одной транзакции.
// Строка профиля блокируется, чтобы параллельные списания не превысили доступную к выводу сумму.
func (r *PostgresRepository) CreateWithdrawalRequest(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, bankDetails string) (model.WithdrawalRequest, error) {
	var req model.WithdrawalRequest
	err := r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var withdrawable decimal.Decimal
			err := tx.QueryRow(ctx,
				`SELECT withdrawable_balance FROM profiles WHERE id = $1 FOR UPDATE`,
				userID,
			).Scan(&withdrawable)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrUserNotFound
				}
				return fmt.Errorf("lock profile for update: %w", err)
			}
			if withdrawable.LessThan(amount) {
				return ErrInsufficientBalance
			}

			balance, err := creditUserBalance(ctx, tx, userID, amount.Neg())
			if err != nil {
				return err
			}

			req = model.WithdrawalRequest{
				ID:          uuid.New(),
				UserID:      userID,
				Amount:      amount,
				BankDetails: bankDetails,
				Status:      model.RequestPending,
			}
			err = tx.QueryRow(ctx,
				`INSERT INTO withdrawal_requests (id, user_id, amount, bank_details, status)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING created_at`,
				req.ID, req.UserID, req.Amount, req.BankDetails, string(req.Status),
			).Scan(&req.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert withdrawal request: %w", err)
			}

			ref := req.ID
			return insertTransaction(ctx, tx, model.Transaction{
				UserID:       userID,
				Type:         model.TransactionWithdrawal,
				Amount:       amount.Neg(),
				BalanceAfter: balance,
				Description:  "Withdrawal request",
				ReferenceID:  &ref,
			})
		})
	})
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	return req, nil
}

// ApproveWithdrawal подтверждает вывод. Сумма уже списана при создании заявки.
func (r *PostgresRepository) ApproveWithdrawal(ctx context.Context, id uuid.UUID, review model.Review) error {
	return r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			if _, _, err := lockPendingRequest(ctx, tx, withdrawalTable, id); err != nil {
				return err
			}
			return markReviewed(ctx, tx, withdrawalTable, id, model.RequestApproved, review)
		})
	})
}

// RejectWithdrawal отклоняет вывод и возвращает сумму на баланс в одной транзакции.
func (r *PostgresRepository) RejectWithdrawal(ctx context.Context, id uuid.UUID, review model.Review) error {
	return r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			userID, amount, err := lockPendingRequest(ctx, tx, withdrawalTable, id)
			if err != nil {
				return err
			}

			balance, err := creditUserBalance(ctx, tx, userID, amount)
			if err != nil {
				return err
			}

			ref := id
			err = insertTransaction(ctx, tx, model.Transaction{
				UserID:       userID,
				Type:         model.TransactionWithdrawal,
				Amount:       amount,
				BalanceAfter: balance,
				Description:  "Refund of rejected withdrawal",
				ReferenceID:  &ref,
			})
			if err != nil {
				return err
			}

			return markReviewed(ctx, tx, withdrawalTable, id, model.RequestRejected, review)
		})
	})
}

// ListRechargeRequests возвращает заявки на пополнение, начиная с последних.
// Нулевой userID и пустой status не ограничивают выборку.
func (r *PostgresRepository) ListRechargeRequests(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.RechargeRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, payment_screenshot_url, transaction_id, status,
		        admin_note, processed_by, processed_at, created_at
		 FROM recharge_requests
		 WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid OR user_id = $1)
		   AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC`,
		userID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select recharge requests: %w", err)
	}
	defer rows.Close()

	var res []model.RechargeRequest
	for rows.Next() {
		var (
			req model.RechargeRequest
			st  string
		)
		err := rows.Scan(&req.ID, &req.UserID, &req.Amount, &req.PaymentScreenshotURL, &req.PaymentReference, &st,
			&req.AdminNote, &req.ProcessedBy, &req.ProcessedAt, &req.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan recharge request: %w", err)
		}
		req.Status = model.RequestStatus(st)
		res = append(res, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListWithdrawalRequests возвращает заявки на вывод, начиная с последних.
// Нулевой userID и пустой status не ограничивают выборку.
func (r *PostgresRepository) ListWithdrawalRequests(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, bank_details, status, admin_note, processed_by, processed_at, created_at
		 FROM withdrawal_requests
		 WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid OR user_id = $1)
		   AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC`,
		userID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawal requests: %w", err)
	}
	defer rows.Close()

	var res []model.WithdrawalRequest
	for rows.Next() {
		var (
			req model.WithdrawalRequest
			st  string
		)
		err := rows.Scan(&req.ID, &req.UserID, &req.Amount, &req.BankDetails, &st,
			&req.AdminNote, &req.ProcessedBy, &req.ProcessedAt, &req.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal request: %w", err)
		}
		req.Status = model.RequestStatus(st)
		res = append(res, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// inTx выполняет fn в транзакции и фиксирует её, если fn не вернула ошибку.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func lockPendingRequest(ctx context.Context, q querier, table string, id uuid.UUID) (uuid.UUID, decimal.Decimal, error) {
	var (
		userID uuid.UUID
		amount decimal.Decimal
		status string
	)
	err := q.QueryRow(ctx,
		`SELECT user_id, amount, status FROM `+table+` WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&userID, &amount, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, decimal.Zero, ErrRequestNotFound
		}
		return uuid.Nil, decimal.Zero, fmt.Errorf("lock %s: %w", table, err)
	}
	if model.RequestStatus(status) != model.RequestPending {
		return uuid.Nil, decimal.Zero, ErrRequestProcessed
	}
	return userID, amount, nil
}

func markReviewed(ctx context.Context, q querier, table string, id uuid.UUID, status model.RequestStatus, review model.Review) error {
	_, err := q.Exec(ctx,
		`UPDATE `+table+`
		 SET status = $2, admin_note = $3, processed_by = $4, processed_at = $5
		 WHERE id = $1`,
		id, string(status), review.Note, review.AdminID, review.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}
