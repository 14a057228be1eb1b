package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/yieldmart/internal/model"
)

const productColumns = `id, name, description, price, daily_earning, contract_days, status, created_at`

func scanProduct(row pgx.Row) (model.Product, error) {
	var (
		p      model.Product
		status string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.DailyEarning, &p.ContractDays, &status, &p.CreatedAt)
	if err != nil {
		return model.Product{}, err
	}
	p.Status = model.ProductStatus(status)
	return p, nil
}

func getProduct(ctx context.Context, q querier, id uuid.UUID) (model.Product, error) {
	p, err := scanProduct(q.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Product{}, ErrProductNotFound
		}
		return model.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// GetProduct возвращает продукт каталога.
func (r *PostgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (model.Product, error) {
	return getProduct(ctx, r.pool, id)
}

// CreateProduct добавляет продукт в каталог.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p model.Product) (model.Product, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = model.ProductStatusActive
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (id, name, description, price, daily_earning, contract_days, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		p.ID, p.Name, p.Description, p.Price, p.DailyEarning, p.ContractDays, string(p.Status),
	).Scan(&p.CreatedAt)
	if err != nil {
		return model.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

// ListProducts возвращает каталог продуктов, по желанию только активные.
func (r *PostgresRepository) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+`
		 FROM products
		 WHERE (NOT $1 OR status = 'active')
		 ORDER BY price`,
		activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
