package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/zenn-checkout/internal/auth"
	"github.com/frahmantamala/zenn-checkout/internal/card"
	"github.com/frahmantamala/zenn-checkout/internal/delivery"
	"github.com/frahmantamala/zenn-checkout/internal/notification"
	"github.com/frahmantamala/zenn-checkout/internal/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/transport/middleware"
	"github.com/frahmantamala/zenn-checkout/internal/transport/swagger"
	"github.com/frahmantamala/zenn-checkout/internal/user"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

// Routes collects everything RegisterAllRoutes mounts. Nil handlers are skipped.
type Routes struct {
	DB                  *sqlx.DB
	AllowedOrigins      string
	OpenAPIPath         string
	MetricsPath         string
	Metrics             http.Handler
	AuthHandler         *auth.Handler
	UserHandler         *user.Handler
	TransactionHandler  *transaction.Handler
	WebhookHandler      *transaction.WebhookHandler
	CardHandler         *card.Handler
	DeliveryHandler     *delivery.Handler
	NotificationHandler *notification.Handler
	Logger              *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, rt Routes) {
	if rt.Logger == nil {
		rt.Logger = logger.LoggerWrapper()
	}
	healthHandler := NewHealthHandler(rt.DB)

	router.Use(middleware.CORS(rt.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.TraceID)
	router.Use(middleware.RecoveryMiddleware(rt.Logger))

	if rt.OpenAPIPath != "" {
		router.Handle("/openapi.yml", swagger.SpecHandler(rt.OpenAPIPath))
		router.Handle("/swagger/*", swagger.Handler())
	}
	if rt.Metrics != nil {
		path := rt.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, rt.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Group(func(lr chi.Router) {
			lr.Use(middleware.LoggingMiddleware(rt.Logger))

			if rt.WebhookHandler != nil {
				lr.Post("/bancard/confirmation", rt.WebhookHandler.HandleConfirmation)
				lr.Get("/bancard/confirmation", rt.WebhookHandler.Probe)
			}

			if rt.AuthHandler == nil {
				return
			}
			authHandler := rt.AuthHandler

			lr.Route("/auth", func(sr chi.Router) {
				sr.Post("/login", authHandler.Login)
				sr.Post("/refresh", authHandler.RefreshToken)
			})

			// guests may pay with a new card; a token identifies the buyer when present
			if rt.TransactionHandler != nil {
				lr.With(authHandler.OptionalAuthMiddleware).Post("/checkout/charges", rt.TransactionHandler.CreateCharge)
			}

			lr.Group(func(pr chi.Router) {
				pr.Use(authHandler.AuthMiddleware)

				if rt.UserHandler != nil {
					pr.Get("/users/me", rt.UserHandler.GetCurrentUser)
				}

				if rt.TransactionHandler != nil {
					pr.Post("/checkout/token-charges", rt.TransactionHandler.CreateTokenCharge)
					pr.Get("/transactions/{processID}", rt.TransactionHandler.GetTransaction)
				}

				if rt.CardHandler != nil {
					pr.Route("/cards", func(cr chi.Router) {
						cr.Post("/", rt.CardHandler.Enroll)
						cr.Get("/", rt.CardHandler.List)
						cr.Delete("/", rt.CardHandler.Delete)
					})
				}

				if rt.DeliveryHandler != nil {
					pr.Get("/transactions/{processID}/delivery", rt.DeliveryHandler.Progress)
					pr.Post("/transactions/{processID}/rating", rt.DeliveryHandler.Rate)
				}

				pr.Route("/admin", func(ar chi.Router) {
					registerAdminRoutes(ar, authHandler, rt)
				})
			})
		})
	})
}

func registerAdminRoutes(r chi.Router, authHandler *auth.Handler, rt Routes) {
	require := authHandler.RequirePermission

	if rt.TransactionHandler != nil {
		r.With(require(auth.PermViewTransactions)).Get("/transactions", rt.TransactionHandler.AdminList)
		r.With(require(auth.PermViewTransactions)).Get("/transactions/{processID}", rt.TransactionHandler.AdminGet)
		r.With(require(auth.PermRollbackPayments)).Post("/transactions/{processID}/rollback", rt.TransactionHandler.Rollback)
		r.With(require(auth.PermManagePayments)).Post("/transactions/{processID}/confirmation-query", rt.TransactionHandler.QueryConfirmation)
	}

	if rt.DeliveryHandler != nil {
		r.With(require(auth.PermManageDeliveries)).Patch("/transactions/{processID}/delivery", rt.DeliveryHandler.Advance)
		r.With(require(auth.PermManageDeliveries)).Post("/transactions/{processID}/delivery/attempts", rt.DeliveryHandler.RecordAttempt)
		r.With(require(auth.PermManageDeliveries)).Get("/delivery/stats", rt.DeliveryHandler.Stats)
	}

	if rt.NotificationHandler != nil {
		r.With(require(auth.PermViewTransactions)).Get("/transactions/{processID}/notifications", rt.NotificationHandler.History)
		r.With(require(auth.PermManageDeliveries)).Post("/transactions/{processID}/notifications/resend", rt.NotificationHandler.Resend)
	}
}
