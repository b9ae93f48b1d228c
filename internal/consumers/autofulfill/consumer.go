// Package autofulfill creates carrier shipments as soon as an order becomes
// shippable, driven by events on the orders topic.
package autofulfill

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/covercraft/covercraft-backend/internal/fulfillment"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/outbox/payloads"
	"github.com/covercraft/covercraft-backend/pkg/outbox/registry"
)

const consumerName = "auto-fulfill"

type shipper interface {
	CreateShipment(ctx context.Context, orderID uuid.UUID) (*fulfillment.Result, error)
}

type decoder interface {
	Decode(eventType enums.OutboxEventType, raw []byte) (*registry.ResolvedEvent, error)
}

type idempotencyClaimer interface {
	Claim(ctx context.Context, consumer, eventID string) (bool, error)
	Release(ctx context.Context, consumer, eventID string) error
}

// Consumer ships standard orders once they are paid, or once a cash on
// delivery order is placed. Custom orders wait for design approval and are
// shipped by an operator.
type Consumer struct {
	shipper      shipper
	events       decoder
	subscription *pubsub.Subscriber
	idempotency  idempotencyClaimer
	logg         *logger.Logger
}

func NewConsumer(s shipper, events decoder, subscription *pubsub.Subscriber, manager idempotencyClaimer, logg *logger.Logger) (*Consumer, error) {
	if s == nil {
		return nil, fmt.Errorf("fulfillment orchestrator required")
	}
	if events == nil {
		return nil, fmt.Errorf("event registry required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		shipper:      s,
		events:       events,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("orders subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logCtx := c.logg.WithField(ctx, "message_id", msg.ID)
		if err := c.Handle(logCtx, msg.Attributes["event_type"], msg.Data); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Handle processes one delivery. A nil return acks it; an error asks for
// redelivery and is only returned for failures worth retrying.
func (c *Consumer) Handle(ctx context.Context, eventType string, raw []byte) error {
	logCtx := c.logg.WithField(ctx, "event_type", eventType)

	orderID, ok := c.target(logCtx, enums.OutboxEventType(eventType), raw)
	if !ok {
		return nil
	}
	logCtx = c.logg.WithField(logCtx, "order_id", orderID.String())

	eventKey := eventType + ":" + orderID.String()
	first, err := c.idempotency.Claim(ctx, consumerName, eventKey)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return err
	}
	if !first {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	result, err := c.shipper.CreateShipment(ctx, orderID)
	if err != nil {
		if !pkgerrors.IsRetryable(err) {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "order not auto-fulfilled")
			return nil
		}
		c.logg.Error(logCtx, "auto-fulfill failed", err)
		if releaseErr := c.idempotency.Release(ctx, consumerName, eventKey); releaseErr != nil {
			c.logg.Error(logCtx, "release idempotency claim failed", releaseErr)
		}
		return err
	}
	if len(result.Warnings) > 0 {
		c.logg.Warn(c.logg.WithField(logCtx, "warnings", result.Warnings), "shipment created with pending steps")
	}
	c.logg.Info(c.logg.WithField(logCtx, "created", result.Created), "auto-fulfill complete")
	return nil
}

// target returns the order an event should ship, if any.
func (c *Consumer) target(ctx context.Context, eventType enums.OutboxEventType, raw []byte) (uuid.UUID, bool) {
	if eventType != enums.EventOrderPaid && eventType != enums.EventOrderCreated {
		return uuid.Nil, false
	}
	resolved, err := c.events.Decode(eventType, raw)
	if err != nil {
		// Decode failures never heal on redelivery.
		c.logg.Error(ctx, "undecodable event dropped", err)
		return uuid.Nil, false
	}

	switch payload := resolved.Payload.(type) {
	case *payloads.OrderPaidEvent:
		if payload.Kind != enums.OrderKindStandard {
			return uuid.Nil, false
		}
		return payload.OrderID, true
	case *payloads.OrderCreatedEvent:
		if payload.Kind != enums.OrderKindStandard || payload.PaymentMethod != enums.PaymentMethodCOD {
			return uuid.Nil, false
		}
		return payload.OrderID, true
	}
	return uuid.Nil, false
}
