package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventra/payment-settlement/internal/observability"
	"github.com/eventra/payment-settlement/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(RateLimitMiddleware(rl))

	// The webhook authenticates by payment id; the gateway sends no
	// Idempotency-Key, dedup happens on the payment id itself.
	r.Post("/v1/payments/webhook", h.PaymentWebhook)
	r.Post("/v1/registrations/{id}/cancel", h.CancelRegistration)

	r.Group(func(r chi.Router) {
		r.Use(IdempotencyKeyMiddleware)
		r.Post("/v1/disbursements", h.CreateDisbursement)
	})
	r.Post("/v1/disbursements/{id}/cancel", h.CancelDisbursement)
	r.Post("/v1/disbursements/{id}/retry", h.RetryDisbursement)
	r.Get("/v1/disbursements/{id}", h.GetDisbursement)

	r.Post("/v1/events", h.CreateEvent)
	r.Get("/v1/events/{id}", h.GetEvent)

	r.Get("/v1/organizers/{id}/balance", h.GetBalance)
	r.Get("/v1/organizers/{id}/transactions", h.ListTransactions)
	r.Get("/v1/organizers/{id}/disbursements", h.ListDisbursements)
	r.Get("/v1/ticket-types/{id}/availability", h.TicketAvailability)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
