package reconciliation

import (
	"context"

	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	"github.com/covercraft/covercraft-backend/pkg/outbox"
	"github.com/covercraft/covercraft-backend/pkg/outbox/payloads"
)

func payloadRef(ref orders.Ref) payloads.OrderRef {
	return payloads.OrderRef{OrderID: ref.ID, Kind: ref.Kind}
}

func refOf(order *models.Order) orders.Ref {
	return orders.Ref{Kind: order.Kind, ID: order.ID}
}

func actorOf(principal *auth.Principal) *outbox.ActorRef {
	if principal == nil {
		return nil
	}
	return &outbox.ActorRef{UserID: principal.UserID, Role: string(principal.Role)}
}

func (e *engine) emit(ctx context.Context, tx *gorm.DB, ref orders.Ref, eventType enums.OutboxEventType, source string, actor *auth.Principal, data any) error {
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateFor(ref.Kind),
		AggregateID:   ref.ID,
		Source:        source,
		Actor:         actorOf(actor),
		Data:          data,
	})
}

func (e *engine) emitStatusChanged(ctx context.Context, tx *gorm.DB, ref orders.Ref, from, to enums.OrderStatus, source, reason string, actor *auth.Principal) error {
	return e.emit(ctx, tx, ref, enums.EventOrderStatusChanged, source, actor, payloads.OrderStatusChangedEvent{
		OrderRef: payloadRef(ref),
		From:     from.String(),
		To:       to.String(),
		Source:   source,
		Reason:   reason,
	})
}

func (e *engine) emitRefundUpdated(ctx context.Context, tx *gorm.DB, ref orders.Ref, status enums.RefundStatus, amount int64, refundID string, attempts int, errMsg string) error {
	return e.emit(ctx, tx, ref, enums.EventRefundUpdated, SourceGateway, nil, payloads.RefundUpdatedEvent{
		OrderRef:    payloadRef(ref),
		Status:      status,
		AmountPaise: amount,
		RefundID:    refundID,
		Attempts:    attempts,
		Error:       errMsg,
	})
}
