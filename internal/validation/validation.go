// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/yieldmart/internal/model"
)

var (
	// ErrInvalidDate возвращается для даты не в формате YYYY-MM-DD.
	ErrInvalidDate = errors.New("date must be in YYYY-MM-DD format")
	// ErrFutureDate возвращается для даты начисления позже текущего дня.
	ErrFutureDate = errors.New("date must not be after today (UTC)")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// PurchaseRequest описывает покупку продукта пользователем.
type PurchaseRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
}

// CreateProductRequest описывает новый продукт каталога.
type CreateProductRequest struct {
	Name         string          `json:"name" validate:"required,max=200"`
	Description  string          `json:"description" validate:"max=2000"`
	Price        decimal.Decimal `json:"price" validate:"gt=0"`
	DailyEarning decimal.Decimal `json:"daily_earning" validate:"gt=0"`
	ContractDays int             `json:"contract_days" validate:"min=1,max=3650"`
}

// RechargeRequest описывает заявку на пополнение кошелька.
type RechargeRequest struct {
	Amount               decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentScreenshotURL string          `json:"payment_screenshot_url" validate:"required,url"`
	TransactionID        string          `json:"transaction_id" validate:"max=100"`
}

// WithdrawalRequest описывает заявку на вывод средств.
type WithdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	BankDetails string          `json:"bank_details" validate:"required,max=500"`
}

// ReviewRequest описывает решение администратора по заявке. При отклонении комментарий обязателен.
type ReviewRequest struct {
	AdminNote string `json:"admin_note" validate:"max=1000"`
}

// Struct проверяет структуру по тегам validate.
func Struct(v any) error {
	return validate.Struct(v)
}

// FormatValidationError превращает ошибки валидатора в читаемые сообщения.
func FormatValidationError(err error) []string {
	var errs []string

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []string{err.Error()}
	}
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			errs = append(errs, fmt.Sprintf("%s is required", field))
		case "uuid":
			errs = append(errs, fmt.Sprintf("%s must be a valid UUID", field))
		case "url":
			errs = append(errs, fmt.Sprintf("%s must be a valid URL", field))
		case "gt":
			errs = append(errs, fmt.Sprintf("%s must be greater than %s", field, e.Param()))
		case "min":
			errs = append(errs, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max":
			errs = append(errs, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		default:
			errs = append(errs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return errs
}

// ParseDate разбирает календарную дату YYYY-MM-DD в UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// ParseAsOfDate разбирает дату начисления и отклоняет дни позже текущего дня now в UTC.
func ParseAsOfDate(s string, now time.Time) (time.Time, error) {
	day, err := ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	if day.After(model.Day(now)) {
		return time.Time{}, ErrFutureDate
	}
	return day, nil
}

// ParseRequestStatus разбирает фильтр статуса заявок. Пустая строка означает любой статус.
func ParseRequestStatus(s string) (model.RequestStatus, error) {
	switch st := model.RequestStatus(s); st {
	case "", model.RequestPending, model.RequestApproved, model.RequestRejected:
		return st, nil
	default:
		return "", fmt.Errorf("status must be one of pending, approved, rejected: %q", s)
	}
}

// ParseLimit разбирает параметр limit. Пустое значение даёт def, значения больше max обрезаются.
func ParseLimit(s string, def, max int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer: %q", s)
	}
	if n > max {
		n = max
	}
	return n, nil
}
