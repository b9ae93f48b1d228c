// Package bootstrap assembles the order domain graph shared by the binaries.
package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/covercraft/covercraft-backend/internal/catalog"
	"github.com/covercraft/covercraft-backend/internal/fulfillment"
	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/internal/reconciliation"
	"github.com/covercraft/covercraft-backend/pkg/config"
	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/outbox"
	"github.com/covercraft/covercraft-backend/pkg/razorpay"
	"github.com/covercraft/covercraft-backend/pkg/shiprocket"
)

// Domain holds the wired services. Metrics are registered once on the
// registerer passed to NewDomain.
type Domain struct {
	OrdersRepo   orders.Repository
	Orders       orders.Service
	Engine       reconciliation.Engine
	Orchestrator fulfillment.Orchestrator
	OutboxRepo   *outbox.Repository
}

func NewDomain(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*Domain, error) {
	if cfg == nil || dbClient == nil {
		return nil, fmt.Errorf("config and database client required")
	}

	gateway, err := razorpay.NewClient(cfg.Razorpay)
	if err != nil {
		return nil, fmt.Errorf("razorpay client: %w", err)
	}
	carrier, err := shiprocket.NewClient(cfg.Shiprocket)
	if err != nil {
		return nil, fmt.Errorf("shiprocket client: %w", err)
	}

	conn := dbClient.DB()
	ordersRepo := orders.NewRepository(conn)
	ordersSvc, err := orders.NewService(ordersRepo)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)
	codec := orders.NewRefCodec(cfg.Shiprocket.StandardOrderPrefix, cfg.Shiprocket.CustomOrderPrefix)
	reconMetrics := metrics.NewReconciliationMetrics(reg)

	engine, err := reconciliation.NewEngine(reconciliation.EngineParams{
		Tx:                dbClient,
		Orders:            ordersRepo,
		Catalog:           catalog.NewRepository(conn),
		Gateway:           gateway,
		Outbox:            emitter,
		Codec:             codec,
		Logger:            logg,
		Metrics:           reconMetrics,
		RefundMaxAttempts: cfg.Cron.RefundMaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation engine: %w", err)
	}

	orchestrator, err := fulfillment.New(fulfillment.Params{
		Tx:         dbClient,
		Orders:     ordersRepo,
		Carrier:    carrier,
		Applier:    engine,
		Outbox:     emitter,
		Codec:      codec,
		Logger:     logg,
		Metrics:    reconMetrics,
		AutoAssign: cfg.FeatureFlags.AutoAssignCourier,
		AutoPickup: cfg.FeatureFlags.AutoRequestPickup,
	})
	if err != nil {
		return nil, fmt.Errorf("fulfillment orchestrator: %w", err)
	}

	return &Domain{
		OrdersRepo:   ordersRepo,
		Orders:       ordersSvc,
		Engine:       engine,
		Orchestrator: orchestrator,
		OutboxRepo:   outboxRepo,
	}, nil
}
