// Package handler содержит HTTP-обработчики API сервиса начисления доходности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/yieldmart/internal/accrual"
	"github.com/mmeshcher/yieldmart/internal/metrics"
	"github.com/mmeshcher/yieldmart/internal/middleware"
	"github.com/mmeshcher/yieldmart/internal/model"
	"github.com/mmeshcher/yieldmart/internal/repository"
	"github.com/mmeshcher/yieldmart/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	TriggerAccrual(ctx context.Context, asOf *time.Time) (*model.Report, error)
	PurchaseProduct(ctx context.Context, userID, productID uuid.UUID) (model.Position, error)
	DeactivatePosition(ctx context.Context, id uuid.UUID) error
	CreateProduct(ctx context.Context, p model.Product) (model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error)
	ListPositions(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Position, error)
	ListEarnings(ctx context.Context, userID uuid.UUID, limit int) ([]model.EarningRecord, error)
	TotalEarnings(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]model.Transaction, error)
	RequestRecharge(ctx context.Context, req model.RechargeRequest) (model.RechargeRequest, error)
	RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, bankDetails string) (model.WithdrawalRequest, error)
	ReviewRecharge(ctx context.Context, id, adminID uuid.UUID, approve bool, note string) error
	ReviewWithdrawal(ctx context.Context, id, adminID uuid.UUID, approve bool, note string) error
	ListRecharges(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.RechargeRequest, error)
	ListWithdrawals(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.WithdrawalRequest, error)
}

// HealthCheck проверяет доступность зависимостей сервиса.
type HealthCheck func(ctx context.Context) error

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
	health         HealthCheck
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metrics и health могут быть nil.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics, health HealthCheck) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
		health:         health,
	}
}

type errorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string, details ...string) {
	h.writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

// reportStatus отображает исход запуска на HTTP-статус.
func reportStatus(report *model.Report) int {
	switch report.Outcome() {
	case model.OutcomeFatal:
		return http.StatusInternalServerError
	case model.OutcomePartial:
		return http.StatusMultiStatus
	default:
		return http.StatusOK
	}
}

// RunAccrual запускает пакетное начисление за сегодня или за дату из параметра date.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var asOf *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err := validation.ParseAsOfDate(raw, time.Now())
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		asOf = &day
	}

	report, err := h.service.TriggerAccrual(r.Context(), asOf)
	if err != nil {
		if errors.Is(err, accrual.ErrRunInProgress) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("run accrual error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, reportStatus(report), report)
}

// CreateProduct добавляет продукт в каталог.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req validation.CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation failed", validation.FormatValidationError(err)...)
		return
	}

	product, err := h.service.CreateProduct(r.Context(), model.Product{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		DailyEarning: req.DailyEarning,
		ContractDays: req.ContractDays,
	})
	if err != nil {
		h.logger.Error("create product error", zap.Error(err), zap.String("name", req.Name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, product)
}

// DeactivatePosition досрочно останавливает начисления по позиции.
func (h *Handler) DeactivatePosition(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	if err := h.service.DeactivatePosition(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrPositionNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("deactivate position error", zap.Error(err), zap.String("position_id", id.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListProducts возвращает каталог активных продуктов.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("list products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(products) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, products)
}

// PurchaseProduct покупает продукт за счёт баланса текущего пользователя.
func (h *Handler) PurchaseProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req validation.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation failed", validation.FormatValidationError(err)...)
		return
	}

	position, err := h.service.PurchaseProduct(r.Context(), userID, uuid.MustParse(req.ProductID))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientBalance):
			h.writeError(w, http.StatusPaymentRequired, err.Error())
		case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, repository.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, repository.ErrProductInactive):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("purchase product error", zap.Error(err),
				zap.String("user_id", userID.String()), zap.String("product_id", req.ProductID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, position)
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("get balance error", zap.Error(err), zap.String("user_id", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

// ListPositions возвращает позиции текущего пользователя; active=true оставляет только активные.
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	positions, err := h.service.ListPositions(r.Context(), userID, activeOnly)
	if err != nil {
		h.logger.Error("list positions error", zap.Error(err), zap.String("user_id", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(positions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, positions)
}

// ListEarnings возвращает последние начисления текущего пользователя.
func (h *Handler) ListEarnings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	limit, err := validation.ParseLimit(r.URL.Query().Get("limit"), defaultListLimit, maxListLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	earnings, err := h.service.ListEarnings(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list earnings error", zap.Error(err), zap.String("user_id", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(earnings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, earnings)
}

type totalEarningsResponse struct {
	Total decimal.Decimal `json:"total"`
}

// TotalEarnings возвращает сумму всех начислений текущего пользователя.
func (h *Handler) TotalEarnings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	total, err := h.service.TotalEarnings(r.Context(), userID)
	if err != nil {
		h.logger.Error("total earnings error", zap.Error(err), zap.String("user_id", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, totalEarningsResponse{Total: total})
}

// ListTransactions возвращает журнал операций текущего пользователя.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	limit, err := validation.ParseLimit(r.URL.Query().Get("limit"), defaultListLimit, maxListLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := h.service.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list transactions error", zap.Error(err), zap.String("user_id", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, txs)
}

// Healthz сообщает о готовности сервиса.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
