package rest

import (
	"database/sql"
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/jccalsado/tuition-portal/internal/account"
	"github.com/jccalsado/tuition-portal/internal/gateway"
	"github.com/jccalsado/tuition-portal/internal/ledger"
	"github.com/jccalsado/tuition-portal/internal/payment"
	"github.com/jccalsado/tuition-portal/internal/transport/middleware"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, ledgerHandler *ledger.Handler, accountHandler *account.Handler, paymentHandler *payment.Handler, webhookHandler *gateway.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.StaffContext)

	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Gateway callbacks, verified by signature rather than session
		if webhookHandler != nil {
			r.Post("/webhooks/{gateway}", webhookHandler.HandleWebhook)
		}

		if ledgerHandler != nil {
			r.Route("/fee-items", func(fr chi.Router) {
				fr.Post("/", ledgerHandler.AssessFee)
				fr.Get("/{id}", ledgerHandler.GetFeeItem)
				fr.Post("/{id}/waiver", ledgerHandler.ApplyWaiver)
			})
		}

		if paymentHandler != nil {
			r.Route("/payments", func(pr chi.Router) {
				pr.Post("/", paymentHandler.InitiatePayment)
				pr.Post("/manual", paymentHandler.RecordManualPayment)
				pr.Get("/{id}", paymentHandler.GetPayment)
				pr.Get("/reference/{reference}", paymentHandler.GetPaymentByReference)
				if webhookHandler != nil {
					pr.Post("/{id}/check-status", webhookHandler.CheckStatus)
				}
			})
		}

		r.Route("/students/{studentID}", func(sr chi.Router) {
			if ledgerHandler != nil {
				sr.Get("/fee-items", ledgerHandler.ListStudentFeeItems)
			}
			if paymentHandler != nil {
				sr.Get("/payments", paymentHandler.ListStudentPayments)
			}
			if accountHandler != nil {
				sr.Get("/balance", accountHandler.GetBalance)
				sr.Get("/balance/verify", accountHandler.VerifyBalance)
			}
		})
	})
}
