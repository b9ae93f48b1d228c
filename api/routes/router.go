package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/covercraft/covercraft-backend/api/controllers"
	ordercontrollers "github.com/covercraft/covercraft-backend/api/controllers/orders"
	shipmentcontrollers "github.com/covercraft/covercraft-backend/api/controllers/shipments"
	webhookcontrollers "github.com/covercraft/covercraft-backend/api/controllers/webhooks"
	"github.com/covercraft/covercraft-backend/api/middleware"
	"github.com/covercraft/covercraft-backend/internal/fulfillment"
	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/internal/reconciliation"
	"github.com/covercraft/covercraft-backend/pkg/config"
	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	pkgredis "github.com/covercraft/covercraft-backend/pkg/redis"
)

// cacheStore is the redis surface the HTTP layer needs.
type cacheStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache cacheStore,
	httpMetrics *metrics.HTTPMetrics,
	gatherer prometheus.Gatherer,
	ordersSvc orders.Service,
	engine reconciliation.Engine,
	orchestrator fulfillment.Orchestrator,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(),
		middleware.Logging(logg, httpMetrics),
	)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.VisitorTTL)
	generalTier := middleware.RateTier{
		Name:  "general",
		Limit: rate.Limit(cfg.RateLimit.GeneralRPS),
		Burst: cfg.RateLimit.GeneralBurst,
	}
	webhookTier := middleware.RateTier{
		Name:  "webhook",
		Limit: rate.Limit(cfg.RateLimit.WebhookRPS),
		Burst: cfg.RateLimit.WebhookBurst,
	}
	verifyPolicy := middleware.NewWindowPolicy("verify", cfg.RateLimit.VerifyWindow, cfg.RateLimit.VerifyUserLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cache))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Use(limiter.Middleware(generalTier, logg))
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(limiter.Middleware(webhookTier, logg))
		r.Post("/razorpay", webhookcontrollers.RazorpayWebhook(engine, logg))
		r.Post("/shiprocket", webhookcontrollers.ShiprocketWebhook(cfg.Shiprocket, engine, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(cache, logg))
		r.Use(limiter.Middleware(generalTier, logg))

		r.Get("/ping", controllers.PrivatePing())

		for path, kind := range map[string]enums.OrderKind{
			"/v1/orders":        enums.OrderKindStandard,
			"/v1/custom-orders": enums.OrderKindCustom,
		} {
			r.Route(path, func(r chi.Router) {
				r.Post("/", ordercontrollers.Checkout(engine, kind, logg))
				r.Get("/", ordercontrollers.List(ordersSvc, kind, logg))
				r.With(middleware.WindowRateLimit(verifyPolicy, cache, logg)).
					Post("/pay/verify", ordercontrollers.VerifyPayment(engine, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, kind, logg))
				r.Post("/{orderId}/cancel", ordercontrollers.Cancel(engine, logg))
			})
		}

		r.Get("/v1/shipments/{orderId}/track", shipmentcontrollers.Track(orchestrator, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
		r.Use(middleware.Idempotency(cache, logg))
		r.Use(limiter.Middleware(generalTier, logg))

		r.Get("/ping", controllers.AdminPing())

		r.Route("/v1/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.AdminList(ordersSvc, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, "", logg))
			r.Delete("/{orderId}", ordercontrollers.AdminDelete(engine, logg))
			r.Post("/{orderId}/status", ordercontrollers.AdminUpdateStatus(engine, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(engine, logg))
			r.Post("/{orderId}/refund", ordercontrollers.AdminRetryRefund(engine, logg))
		})

		r.Route("/v1/shipments/{orderId}", func(r chi.Router) {
			r.Post("/", shipmentcontrollers.Create(orchestrator, logg))
			r.Get("/couriers", shipmentcontrollers.Couriers(orchestrator, logg))
			r.Post("/assign", shipmentcontrollers.Assign(orchestrator, logg))
			r.Post("/pickup", shipmentcontrollers.Pickup(orchestrator, logg))
			r.Post("/cancel", shipmentcontrollers.Cancel(orchestrator, logg))
			r.Post("/label", shipmentcontrollers.Label(orchestrator, logg))
			r.Post("/manifest", shipmentcontrollers.Manifest(orchestrator, logg))
		})
	})

	return r
}
