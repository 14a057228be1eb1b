package accrual

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/yieldmart/internal/model"
)

// cachedStore отдаёт один и тот же срез при каждом чтении.
type cachedStore struct {
	*memStore
	cached []model.Position
}

func (s *cachedStore) SelectEligiblePositions(context.Context, time.Time) ([]model.Position, error) {
	return s.cached, nil
}

func TestScanner_FiltersWithoutTouchingStoreSlice(t *testing.T) {
	accrued := model.Day(today)
	done := activePosition(uuid.New(), 3, "1.00", "2.00")
	done.ID = uuid.New()
	done.LastEarningDate = &accrued
	fresh := activePosition(uuid.New(), 3, "1.00", "0")
	fresh.ID = uuid.New()

	store := &cachedStore{memStore: newMemStore(), cached: []model.Position{done, fresh}}

	got, err := NewScanner(store).Scan(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)

	assert.Equal(t, done.ID, store.cached[0].ID)
	assert.Equal(t, fresh.ID, store.cached[1].ID)
}
