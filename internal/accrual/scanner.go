package accrual

import (
	"context"
	"time"

	"github.com/mmeshcher/yieldmart/internal/model"
)

// Scanner отбирает позиции, подлежащие начислению за день.
type Scanner struct {
	store Store
}

// NewScanner создаёт Scanner поверх хранилища.
func NewScanner(store Store) *Scanner {
	return &Scanner{store: store}
}

// Scan возвращает позиции, удовлетворяющие условию начисления за day.
// Пустой результат не является ошибкой.
func (s *Scanner) Scan(ctx context.Context, day time.Time) ([]model.Position, error) {
	positions, err := s.store.SelectEligiblePositions(ctx, day)
	if err != nil {
		return nil, err
	}

	eligible := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		if p.EligibleOn(day) {
			eligible = append(eligible, p)
		}
	}
	return eligible, nil
}
