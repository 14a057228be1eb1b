package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/yieldmart/internal/middleware"
	"github.com/mmeshcher/yieldmart/internal/model"
	"github.com/mmeshcher/yieldmart/internal/repository"
	"github.com/mmeshcher/yieldmart/internal/service"
	"github.com/mmeshcher/yieldmart/internal/validation"
)

// RequestRecharge создаёт заявку на пополнение кошелька текущего пользователя.
func (h *Handler) RequestRecharge(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req validation.RechargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation failed", validation.FormatValidationError(err)...)
		return
	}

	recharge := model.RechargeRequest{
		UserID:               userID,
		Amount:               req.Amount,
		PaymentScreenshotURL: req.PaymentScreenshotURL,
	}
	if req.TransactionID != "" {
		recharge.PaymentReference = &req.TransactionID
	}

	created, err := h.service.RequestRecharge(r.Context(), recharge)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("request recharge error", zap.Error(err), zap.String("user_id", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// RequestWithdrawal списывает сумму с баланса и создаёт заявку на вывод.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req validation.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation failed", validation.FormatValidationError(err)...)
		return
	}

	created, err := h.service.RequestWithdrawal(r.Context(), userID, req.Amount, req.BankDetails)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientBalance):
			h.writeError(w, http.StatusPaymentRequired, err.Error())
		case errors.Is(err, repository.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("request withdrawal error", zap.Error(err), zap.String("user_id", userID.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// ListMyRecharges возвращает заявки на пополнение текущего пользователя.
func (h *Handler) ListMyRecharges(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	h.listRecharges(w, r, userID)
}

// ListRecharges возвращает заявки на пополнение всех пользователей с фильтром status.
func (h *Handler) ListRecharges(w http.ResponseWriter, r *http.Request) {
	h.listRecharges(w, r, uuid.Nil)
}

func (h *Handler) listRecharges(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	status, err := validation.ParseRequestStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.ListRecharges(r.Context(), userID, status)
	if err != nil {
		h.logger.Error("list recharges error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(res) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// ListMyWithdrawals возвращает заявки на вывод текущего пользователя.
func (h *Handler) ListMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	h.listWithdrawals(w, r, userID)
}

// ListWithdrawals возвращает заявки на вывод всех пользователей с фильтром status.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	h.listWithdrawals(w, r, uuid.Nil)
}

func (h *Handler) listWithdrawals(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	status, err := validation.ParseRequestStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.ListWithdrawals(r.Context(), userID, status)
	if err != nil {
		h.logger.Error("list withdrawals error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(res) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

type reviewFunc func(ctx context.Context, id, adminID uuid.UUID, approve bool, note string) error

func (h *Handler) reviewRecharge(approve bool) http.HandlerFunc {
	return h.review("recharge", h.service.ReviewRecharge, approve)
}

func (h *Handler) reviewWithdrawal(approve bool) http.HandlerFunc {
	return h.review("withdrawal", h.service.ReviewWithdrawal, approve)
}

// review обрабатывает решение администратора по заявке. Тело запроса необязательно.
func (h *Handler) review(kind string, fn reviewFunc, approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request id")
			return
		}

		var req validation.ReviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validation.Struct(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "validation failed", validation.FormatValidationError(err)...)
			return
		}

		if err := fn(r.Context(), id, adminID, approve, req.AdminNote); err != nil {
			switch {
			case errors.Is(err, service.ErrNoteRequired):
				h.writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, repository.ErrRequestNotFound):
				h.writeError(w, http.StatusNotFound, err.Error())
			case errors.Is(err, repository.ErrRequestProcessed):
				h.writeError(w, http.StatusConflict, err.Error())
			default:
				h.logger.Error("review "+kind+" error", zap.Error(err),
					zap.String("request_id", id.String()), zap.Bool("approve", approve))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
