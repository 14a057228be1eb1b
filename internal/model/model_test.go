package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	in := time.Date(2026, 10, 19, 2, 30, 0, 0, loc)

	got := Day(in)

	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, "2026-10-18", got.Format(DateLayout))
}

func TestPositionEligibleOn(t *testing.T) {
	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)
	todayNoon := today.Add(12 * time.Hour)
	tomorrow := today.AddDate(0, 0, 1)

	tests := []struct {
		name string
		pos  Position
		want bool
	}{
		{
			name: "never accrued",
			pos:  Position{IsActive: true, DaysRemaining: 3},
			want: true,
		},
		{
			name: "accrued yesterday",
			pos:  Position{IsActive: true, DaysRemaining: 3, LastEarningDate: &yesterday},
			want: true,
		},
		{
			name: "already accrued today",
			pos:  Position{IsActive: true, DaysRemaining: 3, LastEarningDate: &todayNoon},
			want: false,
		},
		{
			name: "accrued for a later day",
			pos:  Position{IsActive: true, DaysRemaining: 3, LastEarningDate: &tomorrow},
			want: false,
		},
		{
			name: "inactive",
			pos:  Position{IsActive: false, DaysRemaining: 3},
			want: false,
		},
		{
			name: "term exhausted",
			pos:  Position{IsActive: true, DaysRemaining: 0},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pos.EligibleOn(today))
		})
	}
}

func TestPositionAccrue_LastDayDeactivates(t *testing.T) {
	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	pos := Position{
		DailyEarning:  decimal.RequireFromString("5.00"),
		TotalEarned:   decimal.RequireFromString("45.00"),
		DaysRemaining: 1,
		IsActive:      true,
	}

	upd := pos.Accrue(today.Add(3 * time.Hour))

	assert.Equal(t, 0, upd.DaysRemaining)
	assert.True(t, upd.TotalEarned.Equal(decimal.RequireFromString("50.00")), "total earned = %s", upd.TotalEarned)
	assert.False(t, upd.IsActive)
	assert.True(t, upd.Deactivates())
	assert.Equal(t, today, upd.LastEarningDate)
}

func TestPositionAccrue_MidTerm(t *testing.T) {
	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	pos := Position{
		DailyEarning:  decimal.RequireFromString("1.25"),
		TotalEarned:   decimal.Zero,
		DaysRemaining: 30,
		IsActive:      true,
	}

	upd := pos.Accrue(today)

	assert.Equal(t, 30, upd.PrevDaysRemaining)
	assert.Equal(t, 29, upd.DaysRemaining)
	assert.True(t, upd.TotalEarned.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, upd.IsActive)
	assert.False(t, upd.Deactivates())
}
