package reconciliation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/outbox/payloads"
)

const maxReasonLength = 500

// StatusInput is an operator's manual status change.
type StatusInput struct {
	Status enums.OrderStatus
	Note   string
}

// Cancel aborts an order on behalf of its buyer or an operator. Both may
// cancel only before fulfillment starts; a paid order gets a refund queued.
// Operators reject custom orders further along through UpdateStatus.
func (e *engine) Cancel(ctx context.Context, principal auth.Principal, orderID uuid.UUID, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is too long")
	}
	order, err := e.orders.Find(ctx, orderID)
	if err != nil {
		return nil, orders.MapLoadError(err)
	}
	if !principal.IsAdmin() && order.UserID != principal.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	ref := refOf(order)
	source := SourceUser
	if principal.IsAdmin() {
		source = SourceAdmin
	}
	allowed := orders.UserCancellable(ref.Kind)
	ctx = e.orderCtx(ctx, ref, source)
	if !orders.ContainsStatus(allowed, order.Status) {
		return nil, cancelConflict(order.Status)
	}
	if reason == "" {
		reason = "cancelled by " + source
	}

	now := e.clock()
	abort := enums.AbortStatus(ref.Kind)
	var refundQueued bool
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.orders.WithTx(tx)
		moved, err := repo.Transition(ctx, ref, allowed, abort, map[string]any{
			"cancel_reason": reason,
			"cancelled_at":  now,
		})
		if err != nil {
			return err
		}
		if !moved {
			return errLostRace
		}
		// The guard on payment_status makes this a no-op for unpaid orders.
		refundQueued, err = repo.RequestRefund(ctx, ref, order.TotalPaise)
		if err != nil {
			return err
		}
		if err := e.emit(ctx, tx, ref, enums.EventOrderCancelled, source, &principal, payloads.OrderCancelledEvent{
			OrderRef:        payloadRef(ref),
			PreviousStatus:  order.Status.String(),
			Reason:          reason,
			Source:          source,
			RefundRequested: refundQueued,
			CancelledAt:     now,
		}); err != nil {
			return err
		}
		if refundQueued {
			return e.emitRefundUpdated(ctx, tx, ref, enums.RefundStatusRequested, order.TotalPaise, "", order.RefundAttempts, "")
		}
		return nil
	})
	if err != nil {
		return nil, e.mutationError(ctx, source, "cancel", err)
	}

	e.metrics.Event(source, "cancel", metrics.OutcomeApplied)
	e.logg.Info(ctx, "order cancelled")
	if refundQueued {
		e.tryRefund(ctx, ref)
	}
	return e.reload(ctx, ref)
}

// UpdateStatus applies an operator's manual transition. Only the steps the
// lifecycle allows an operator to take are accepted.
func (e *engine) UpdateStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID, input StatusInput) (*models.Order, error) {
	if !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin access required")
	}
	input.Note = strings.TrimSpace(input.Note)
	if len(input.Note) > maxReasonLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "note is too long")
	}
	order, err := e.orders.Find(ctx, orderID)
	if err != nil {
		return nil, orders.MapLoadError(err)
	}
	ref := refOf(order)
	ctx = e.orderCtx(ctx, ref, SourceAdmin)
	if !input.Status.IsValidFor(ref.Kind) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status for this order").
			WithDetails(map[string]any{"status": input.Status, "order_kind": ref.Kind})
	}
	if !orders.CanAdminSet(ref.Kind, order.Status, input.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "status change not allowed").
			WithDetails(map[string]any{"from": order.Status, "to": input.Status})
	}
	if !orders.CanAdminConfirm(order.PaymentMethod, order.PaymentStatus, input.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "prepaid orders are confirmed by payment").
			WithDetails(map[string]any{"payment_method": order.PaymentMethod, "payment_status": order.PaymentStatus})
	}

	now := e.clock()
	aborting := input.Status == enums.AbortStatus(ref.Kind)
	extra := map[string]any{}
	if input.Note != "" {
		extra["admin_note"] = input.Note
	}
	switch {
	case input.Status == enums.OrderStatusDelivered:
		extra["delivered_at"] = now
	case aborting:
		extra["cancelled_at"] = now
		extra["cancel_reason"] = firstNonEmpty(input.Note, "rejected by admin")
	}

	var refundQueued bool
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.orders.WithTx(tx)
		moved, err := repo.Transition(ctx, ref, []enums.OrderStatus{order.Status}, input.Status, extra)
		if err != nil {
			return err
		}
		if !moved {
			return errLostRace
		}
		if err := e.emitStatusChanged(ctx, tx, ref, order.Status, input.Status, SourceAdmin, input.Note, &principal); err != nil {
			return err
		}
		if !aborting {
			return nil
		}
		refundQueued, err = repo.RequestRefund(ctx, ref, order.TotalPaise)
		if err != nil {
			return err
		}
		if err := e.emit(ctx, tx, ref, enums.EventOrderCancelled, SourceAdmin, &principal, payloads.OrderCancelledEvent{
			OrderRef:        payloadRef(ref),
			PreviousStatus:  order.Status.String(),
			Reason:          extra["cancel_reason"].(string),
			Source:          SourceAdmin,
			RefundRequested: refundQueued,
			CancelledAt:     now,
		}); err != nil {
			return err
		}
		if refundQueued {
			return e.emitRefundUpdated(ctx, tx, ref, enums.RefundStatusRequested, order.TotalPaise, "", order.RefundAttempts, "")
		}
		return nil
	})
	if err != nil {
		return nil, e.mutationError(ctx, SourceAdmin, "status", err)
	}

	e.metrics.Event(SourceAdmin, "status", metrics.OutcomeApplied)
	e.logg.Info(e.logg.WithField(ctx, "status", input.Status.String()), "order status updated")
	if refundQueued {
		e.tryRefund(ctx, ref)
	}
	return e.reload(ctx, ref)
}

func cancelConflict(current enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled").
		WithDetails(map[string]any{"status": current})
}
