// Package model содержит доменные сущности сервиса начисления доходности.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout задаёт формат календарной даты начисления.
const DateLayout = "2006-01-02"

// Day усекает момент времени до календарного дня в UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ProductStatus описывает доступность продукта для покупки.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

// Product описывает инвестиционный продукт каталога.
type Product struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Price        decimal.Decimal `json:"price"`
	DailyEarning decimal.Decimal `json:"daily_earning"`
	ContractDays int             `json:"contract_days"`
	Status       ProductStatus   `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Position описывает покупку продукта пользователем и состояние её начислений.
type Position struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	ProductID       uuid.UUID       `json:"product_id"`
	PurchasePrice   decimal.Decimal `json:"purchase_price"`
	DailyEarning    decimal.Decimal `json:"daily_earning"`
	ContractDays    int             `json:"contract_days"`
	DaysRemaining   int             `json:"days_remaining"`
	TotalEarned     decimal.Decimal `json:"total_earned"`
	IsActive        bool            `json:"is_active"`
	LastEarningDate *time.Time      `json:"last_earning_date,omitempty"`
	PurchasedAt     time.Time       `json:"purchased_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// EligibleOn сообщает, подлежит ли позиция начислению за указанный день.
// Дата последнего начисления только растёт: день не позже неё уже закрыт.
func (p Position) EligibleOn(day time.Time) bool {
	if !p.IsActive || p.DaysRemaining <= 0 {
		return false
	}
	return p.LastEarningDate == nil || Day(*p.LastEarningDate).Before(Day(day))
}

// Accrue вычисляет состояние позиции после одного дня начисления.
func (p Position) Accrue(day time.Time) PositionUpdate {
	days := p.DaysRemaining - 1
	if days < 0 {
		days = 0
	}
	return PositionUpdate{
		PrevDaysRemaining: p.DaysRemaining,
		DaysRemaining:     days,
		TotalEarned:       p.TotalEarned.Add(p.DailyEarning),
		IsActive:          days > 0,
		LastEarningDate:   Day(day),
	}
}

// PositionUpdate содержит изменяемые поля позиции после начисления.
// PrevDaysRemaining хранит прочитанный остаток срока: обновление применяется, только если он не изменился.
type PositionUpdate struct {
	PrevDaysRemaining int
	DaysRemaining     int
	TotalEarned       decimal.Decimal
	IsActive          bool
	LastEarningDate   time.Time
}

// Deactivates сообщает, завершает ли обновление срок контракта.
func (u PositionUpdate) Deactivates() bool {
	return !u.IsActive
}

// Balance содержит баланс пользователя и доступную к выводу сумму.
type Balance struct {
	Current      decimal.Decimal `json:"balance"`
	Withdrawable decimal.Decimal `json:"withdrawable_balance"`
}

// EarningRecord фиксирует факт ежедневного начисления по позиции.
type EarningRecord struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	PositionID  uuid.UUID       `json:"user_product_id"`
	Amount      decimal.Decimal `json:"amount"`
	EarningDate time.Time       `json:"earning_date"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TransactionType описывает вид операции по кошельку.
type TransactionType string

const (
	TransactionRecharge   TransactionType = "recharge"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionPurchase   TransactionType = "purchase"
	TransactionEarning    TransactionType = "earning"
	TransactionReferral   TransactionType = "referral"
	TransactionLuckyDraw  TransactionType = "lucky_draw"
)

// Transaction описывает запись журнала операций по кошельку.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Description  string          `json:"description,omitempty"`
	ReferenceID  *uuid.UUID      `json:"reference_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Report содержит итог одного запуска начислений.
type Report struct {
	RunID       string    `json:"run_id,omitempty"`
	AsOf        string    `json:"as_of,omitempty"`
	Success     bool      `json:"success"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	Processed   int       `json:"processed"`
	Deactivated int       `json:"deactivated"`
	Skipped     int       `json:"skipped"`
	Errors      []string  `json:"errors"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Исходы запуска начислений.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFatal   = "fatal"
)

// Fatal сообщает, прервался ли запуск до обработки позиций.
func (r *Report) Fatal() bool {
	return r.Error != ""
}

// Outcome классифицирует запуск: полный успех, частичный успех или фатальная ошибка.
func (r *Report) Outcome() string {
	switch {
	case r.Fatal():
		return OutcomeFatal
	case len(r.Errors) > 0:
		return OutcomePartial
	default:
		return OutcomeSuccess
	}
}

// AccrualEvent публикуется после успешного начисления по позиции.
type AccrualEvent struct {
	RunID        string          `json:"run_id"`
	PositionID   uuid.UUID       `json:"position_id"`
	UserID       uuid.UUID       `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	EarningDate  string          `json:"earning_date"`
	Deactivated  bool            `json:"deactivated"`
}

// RequestStatus описывает состояние заявки на пополнение или вывод.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// RechargeRequest описывает заявку на пополнение кошелька. Баланс меняется только после одобрения.
type RechargeRequest struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               uuid.UUID       `json:"user_id"`
	Amount               decimal.Decimal `json:"amount"`
	PaymentScreenshotURL string          `json:"payment_screenshot_url"`
	PaymentReference     *string         `json:"transaction_id,omitempty"`
	Status               RequestStatus   `json:"status"`
	AdminNote            *string         `json:"admin_note,omitempty"`
	ProcessedBy          *uuid.UUID      `json:"processed_by,omitempty"`
	ProcessedAt          *time.Time      `json:"processed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// WithdrawalRequest описывает заявку на вывод. Сумма списывается при создании и возвращается при отклонении.
type WithdrawalRequest struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	BankDetails string          `json:"bank_details"`
	Status      RequestStatus   `json:"status"`
	AdminNote   *string         `json:"admin_note,omitempty"`
	ProcessedBy *uuid.UUID      `json:"processed_by,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Review содержит решение администратора по заявке.
type Review struct {
	AdminID uuid.UUID
	Note    *string
	At      time.Time
}
