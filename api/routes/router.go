package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/orderflow-backend/api/controllers"
	coinscontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/coins"
	jobscontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/jobs"
	ordercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	outboxcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/outbox"
	paymentcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/orderflow-backend/pkg/redis"
)

// RedisStore is the redis surface the HTTP layer needs.
type RedisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// TokenSessions checks and revokes access tokens.
type TokenSessions interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// PaymentReconciler covers both payment confirmation paths.
type PaymentReconciler interface {
	paymentcontrollers.ClientConfirmer
	webhookcontrollers.WebhookVerifier
}

// Params collects the services the router mounts.
type Params struct {
	Config        *config.Config
	Logger        *logger.Logger
	Redis         RedisStore
	Sessions      TokenSessions
	Readiness     []controllers.ReadinessCheck
	Orders        orders.Service
	Payments      PaymentReconciler
	Coins         coinscontrollers.Ledger
	Notifications controllers.NotificationLister
	Queues        jobscontrollers.QueueInspector
	DeadLetters   jobscontrollers.DeadLetters
	OutboxDLQ     outboxcontrollers.DeadLetters
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	apiPolicy := middleware.NewRateLimitPolicy(
		"api",
		cfg.HTTP.RateLimitWindow,
		cfg.HTTP.RateLimitUser,
		cfg.HTTP.RateLimitIP,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness...))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(p.Payments, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.Idempotency(p.Redis, cfg.HTTP, logg))
		r.Use(middleware.RateLimit(apiPolicy, p.Redis, p.Redis, logg))

		r.Get("/ping", controllers.PrivatePing())
		r.Post("/v1/auth/logout", controllers.AuthLogout(p.Sessions, logg))

		r.Post("/v1/checkout", ordercontrollers.Checkout(p.Orders, logg))
		r.Route("/v1/orders/{orderId}", func(r chi.Router) {
			r.Get("/", ordercontrollers.Get(p.Orders, logg))
			r.Get("/timeline", ordercontrollers.Timeline(p.Orders, logg))
			r.Post("/cancel", ordercontrollers.Cancel(p.Orders, logg))
			r.Post("/payment-intent", ordercontrollers.RetryPayment(p.Orders, logg))
		})
		r.Post("/v1/payments/confirm", paymentcontrollers.Confirm(p.Payments, logg))

		r.Route("/v1/coins", func(r chi.Router) {
			r.Get("/balance", coinscontrollers.Balance(p.Coins, logg))
			r.Get("/ledger", coinscontrollers.History(p.Coins, logg))
		})
		r.Get("/v1/notifications", controllers.ListNotifications(p.Notifications, logg))

		r.Route("/v1/vendor", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleVendor))
			r.Post("/orders/{orderId}/status", ordercontrollers.UpdateStatus(p.Orders, logg))
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(logg))
			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Get(p.Orders, logg))
				r.Get("/timeline", ordercontrollers.Timeline(p.Orders, logg))
				r.Post("/status", ordercontrollers.UpdateStatus(p.Orders, logg))
				r.Post("/refund", ordercontrollers.AdminRefund(p.Orders, logg))
			})
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/counts", jobscontrollers.Counts(p.Queues, logg))
				r.Get("/failed", jobscontrollers.Failed(p.Queues, p.DeadLetters, logg))
				r.Post("/{jobId}/requeue", jobscontrollers.Requeue(p.DeadLetters, logg))
			})
			r.Route("/outbox/dlq", func(r chi.Router) {
				r.Get("/", outboxcontrollers.List(p.OutboxDLQ, logg))
				r.Post("/{eventId}/replay", outboxcontrollers.Replay(p.OutboxDLQ, logg))
			})
			r.Post("/coins/credit", coinscontrollers.AdminCredit(p.Coins, logg))
		})
	})

	return r
}
