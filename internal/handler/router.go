package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/yieldmart/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Instrument)
	}
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Healthz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Get("/api/products", h.ListProducts)

	r.Route("/api/user", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/balance", h.GetBalance)
		r.Get("/positions", h.ListPositions)
		r.Post("/positions", h.PurchaseProduct)
		r.Get("/earnings", h.ListEarnings)
		r.Get("/earnings/total", h.TotalEarnings)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/recharges", h.ListMyRecharges)
		r.Post("/recharges", h.RequestRecharge)
		r.Get("/withdrawals", h.ListMyWithdrawals)
		r.Post("/withdrawals", h.RequestWithdrawal)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireRole(custommiddleware.RoleAdmin))

		r.Post("/earnings/run", h.RunAccrual)
		r.Post("/products", h.CreateProduct)
		r.Post("/positions/{id}/deactivate", h.DeactivatePosition)

		r.Get("/recharges", h.ListRecharges)
		r.Post("/recharges/{id}/approve", h.reviewRecharge(true))
		r.Post("/recharges/{id}/reject", h.reviewRecharge(false))
		r.Get("/withdrawals", h.ListWithdrawals)
		r.Post("/withdrawals/{id}/approve", h.reviewWithdrawal(true))
		r.Post("/withdrawals/{id}/reject", h.reviewWithdrawal(false))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
