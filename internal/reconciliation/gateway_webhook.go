package reconciliation

import (
	"context"

	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/outbox/payloads"
	"github.com/covercraft/covercraft-backend/pkg/razorpay"
)

// HandleGatewayWebhook verifies and applies a gateway webhook. Only a bad
// signature is reported as an error the provider should see; every other
// outcome, including unmatched orders, is logged and acknowledged.
func (e *engine) HandleGatewayWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !e.gateway.VerifyWebhookSignature(rawBody, signature) {
		e.metrics.Event(SourceGateway, "webhook", "invalid_signature")
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid webhook signature")
	}
	event, err := razorpay.ParseWebhookEvent(rawBody)
	if err != nil {
		e.logg.Error(ctx, "undecodable gateway webhook acknowledged", err)
		e.metrics.Event(SourceGateway, "unknown", metrics.OutcomeIgnored)
		return nil
	}
	ctx = e.logg.WithFields(ctx, map[string]any{"event_type": event.Event, "source": SourceGateway})

	switch event.Event {
	case razorpay.EventPaymentCaptured, razorpay.EventOrderPaid:
		err = e.onPaymentCaptured(ctx, event)
	case razorpay.EventPaymentFailed:
		err = e.onPaymentFailed(ctx, event)
	case razorpay.EventRefundCreated, razorpay.EventRefundProcessed, razorpay.EventRefundFailed:
		err = e.onRefundEvent(ctx, event)
	default:
		e.logg.Info(ctx, "unhandled gateway event ignored")
		e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeIgnored)
		return nil
	}
	if err != nil {
		e.logg.Error(ctx, "gateway webhook processing failed", err)
		e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeFailed)
	}
	return err
}

func (e *engine) orderForGatewayOrder(ctx context.Context, event *razorpay.WebhookEvent) (*models.Order, error) {
	order, err := e.orders.FindByGatewayOrderID(ctx, event.GatewayOrderID())
	if err != nil {
		if isNotFound(err) {
			e.logg.Warn(ctx, "gateway webhook matched no order; needs manual reconciliation")
			e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeUnmatched)
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func (e *engine) onPaymentCaptured(ctx context.Context, event *razorpay.WebhookEvent) error {
	if event.Payment == nil || event.Payment.ID == "" {
		e.logg.Warn(ctx, "capture webhook without payment entity ignored")
		e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeIgnored)
		return nil
	}
	ctx = e.logg.WithField(ctx, "gateway_order_id", event.Payment.OrderID)
	order, err := e.orderForGatewayOrder(ctx, event)
	if err != nil || order == nil {
		return err
	}
	ctx = e.orderCtx(ctx, refOf(order), SourceGateway)
	if event.Payment.AmountPaise > 0 && event.Payment.AmountPaise != order.TotalPaise {
		mismatchCtx := e.logg.WithFields(ctx, map[string]any{
			"captured_paise": event.Payment.AmountPaise,
			"expected_paise": order.TotalPaise,
		})
		e.logg.Warn(mismatchCtx, "captured amount does not match order total; not applied")
		e.metrics.Event(SourceGateway, event.Event, "amount_mismatch")
		return nil
	}
	_, err = e.applyPaid(ctx, order, paidEvent{
		source:           SourceGateway,
		gatewayPaymentID: event.Payment.ID,
	})
	return err
}

func (e *engine) onPaymentFailed(ctx context.Context, event *razorpay.WebhookEvent) error {
	if event.Payment == nil {
		e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeIgnored)
		return nil
	}
	order, err := e.orderForGatewayOrder(ctx, event)
	if err != nil || order == nil {
		return err
	}
	ref := refOf(order)
	ctx = e.orderCtx(ctx, ref, SourceGateway)

	reason := event.Payment.ErrorDescription
	if reason == "" {
		reason = event.Payment.ErrorCode
	}
	if reason == "" {
		reason = "payment failed"
	}

	var failed, aborted bool
	abort := enums.AbortStatus(ref.Kind)
	now := e.clock()
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.orders.WithTx(tx)
		var err error
		// Paid orders are left alone: the guard only matches pending payments.
		failed, err = repo.MarkPaymentFailed(ctx, ref, reason)
		if err != nil || !failed {
			return err
		}
		current, err := repo.Get(ctx, ref)
		if err != nil {
			return err
		}
		gatewayOrderID := event.Payment.OrderID
		if err := e.emit(ctx, tx, ref, enums.EventOrderPaymentFailed, SourceGateway, nil, payloads.OrderPaymentFailedEvent{
			OrderRef:       payloadRef(ref),
			GatewayOrderID: gatewayOrderID,
			Reason:         reason,
		}); err != nil {
			return err
		}

		cancelReason := "payment failed: " + reason
		aborted, err = repo.Transition(ctx, ref, orders.StatusesBefore(ref.Kind, enums.OrderStatusShipped), abort, map[string]any{
			"cancel_reason": cancelReason,
			"cancelled_at":  now,
		})
		if err != nil || !aborted {
			return err
		}
		return e.emit(ctx, tx, ref, enums.EventOrderCancelled, SourceGateway, nil, payloads.OrderCancelledEvent{
			OrderRef:       payloadRef(ref),
			PreviousStatus: current.Status.String(),
			Reason:         cancelReason,
			Source:         SourceGateway,
			CancelledAt:    now,
		})
	})
	if err != nil {
		return err
	}
	if !failed {
		e.logg.Info(ctx, "payment failure ignored; order already settled")
		e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeNoop)
		return nil
	}
	e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeApplied)
	e.logg.Info(ctx, "payment failure recorded")
	return nil
}

func (e *engine) onRefundEvent(ctx context.Context, event *razorpay.WebhookEvent) error {
	if event.Refund == nil || event.Refund.PaymentID == "" {
		e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeIgnored)
		return nil
	}
	ctx = e.logg.WithFields(ctx, map[string]any{
		"gateway_payment_id": event.Refund.PaymentID,
		"refund_id":          event.Refund.ID,
	})
	order, err := e.orders.FindByGatewayPaymentID(ctx, event.Refund.PaymentID)
	if err != nil {
		if isNotFound(err) {
			e.logg.Warn(ctx, "refund webhook matched no order; needs manual reconciliation")
			e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeUnmatched)
			return nil
		}
		return err
	}
	ref := refOf(order)
	ctx = e.orderCtx(ctx, ref, SourceGateway)

	amount := event.Refund.AmountPaise
	if amount <= 0 {
		amount = order.RefundAmountPaise
	}
	extra := map[string]any{"refund_amount_paise": amount}
	if event.Refund.ID != "" {
		extra["refund_id"] = event.Refund.ID
	}

	var (
		to   enums.RefundStatus
		from []enums.RefundStatus
	)
	switch event.Event {
	case razorpay.EventRefundCreated:
		to = enums.RefundStatusProcessing
		from = []enums.RefundStatus{enums.RefundStatusNone, enums.RefundStatusRequested, enums.RefundStatusFailed}
	case razorpay.EventRefundProcessed:
		to = enums.RefundStatusCompleted
		from = []enums.RefundStatus{enums.RefundStatusNone, enums.RefundStatusRequested, enums.RefundStatusProcessing, enums.RefundStatusFailed}
		extra["payment_status"] = enums.PaymentStatusRefunded
	default:
		to = enums.RefundStatusFailed
		from = []enums.RefundStatus{enums.RefundStatusRequested, enums.RefundStatusProcessing}
		extra["refund_last_error"] = "refund failed at gateway"
	}

	var applied bool
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		applied, err = e.orders.WithTx(tx).SetRefundStatus(ctx, ref, from, to, extra)
		if err != nil || !applied {
			return err
		}
		errMsg := ""
		if to == enums.RefundStatusFailed {
			errMsg = "refund failed at gateway"
		}
		return e.emitRefundUpdated(ctx, tx, ref, to, amount, event.Refund.ID, order.RefundAttempts, errMsg)
	})
	if err != nil {
		return err
	}
	if !applied {
		e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeNoop)
		return nil
	}
	e.metrics.Event(SourceGateway, event.Event, metrics.OutcomeApplied)
	e.logg.Info(ctx, "refund status updated from gateway")
	return nil
}
