// Package reconciliation owns every payment and order status transition. It
// folds checkout, client verification, gateway webhooks, carrier updates and
// operator actions into the order store through guarded updates so that the
// outcome does not depend on arrival order or duplication.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/catalog"
	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/outbox"
	"github.com/covercraft/covercraft-backend/pkg/razorpay"
	"github.com/covercraft/covercraft-backend/pkg/shiprocket"
)

// Event sources recorded on logs, metrics and outbox payloads.
const (
	SourceCheckout = "checkout"
	SourceClient   = "client"
	SourceGateway  = "gateway"
	SourceCarrier  = "carrier"
	SourceTracking = "tracking"
	SourceUser     = "user"
	SourceAdmin    = "admin"
	SourceCron     = "cron"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PaymentGateway is the slice of the gateway client the engine calls.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.Order, error)
	Refund(ctx context.Context, req razorpay.RefundRequest) (*razorpay.Refund, error)
	VerifyClientSignature(gatewayOrderID, gatewayPaymentID, signature string) bool
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool
	KeyID() string
	Currency() string
}

// Engine is the order reconciliation engine.
type Engine interface {
	Checkout(ctx context.Context, principal auth.Principal, input CheckoutInput) (*CheckoutResult, error)
	VerifyPayment(ctx context.Context, principal auth.Principal, input VerifyInput) (*models.Order, error)
	HandleGatewayWebhook(ctx context.Context, rawBody []byte, signature string) error
	HandleCarrierWebhook(ctx context.Context, payload *shiprocket.WebhookPayload) error
	ApplyCarrierStatus(ctx context.Context, ref orders.Ref, update CarrierUpdate) error

	Cancel(ctx context.Context, principal auth.Principal, orderID uuid.UUID, reason string) (*models.Order, error)
	UpdateStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID, input StatusInput) (*models.Order, error)
	RetryRefund(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Order, error)
	ProcessDueRefunds(ctx context.Context, limit int) (int, error)
	Delete(ctx context.Context, orderID uuid.UUID) error
	PurgeStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// EngineParams wires the engine's collaborators.
type EngineParams struct {
	Tx                txRunner
	Orders            orders.Repository
	Catalog           catalog.Repository
	Gateway           PaymentGateway
	Outbox            outbox.Emitter
	Codec             orders.RefCodec
	Logger            *logger.Logger
	Metrics           *metrics.ReconciliationMetrics
	RefundMaxAttempts int
	Now               func() time.Time
}

type engine struct {
	tx                txRunner
	orders            orders.Repository
	catalog           catalog.Repository
	gateway           PaymentGateway
	outbox            outbox.Emitter
	codec             orders.RefCodec
	logg              *logger.Logger
	metrics           *metrics.ReconciliationMetrics
	refundMaxAttempts int
	now               func() time.Time
}

func NewEngine(p EngineParams) (Engine, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Codec == (orders.RefCodec{}) {
		p.Codec = orders.NewRefCodec("", "")
	}
	return &engine{
		tx:                p.Tx,
		orders:            p.Orders,
		catalog:           p.Catalog,
		gateway:           p.Gateway,
		outbox:            p.Outbox,
		codec:             p.Codec,
		logg:              p.Logger,
		metrics:           p.Metrics,
		refundMaxAttempts: p.RefundMaxAttempts,
		now:               p.Now,
	}, nil
}

func (e *engine) clock() time.Time {
	return e.now().UTC()
}

// orderCtx tags the context with the identity needed to replay an event by hand.
func (e *engine) orderCtx(ctx context.Context, ref orders.Ref, source string) context.Context {
	ctx = e.logg.WithOrder(ctx, ref.ID.String(), ref.Kind.String())
	return e.logg.WithField(ctx, "source", source)
}
