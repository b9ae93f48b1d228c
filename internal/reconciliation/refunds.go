package reconciliation

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/razorpay"
)

// refundProcessed is the gateway status of a refund settled synchronously.
const refundProcessed = "processed"

// tryRefund attempts a queued refund and only logs a failure; the refund stays
// recorded for the retry job and the admin retry endpoint.
func (e *engine) tryRefund(ctx context.Context, ref orders.Ref) {
	if _, err := e.attemptRefund(ctx, ref, e.refundMaxAttempts); err != nil {
		e.logg.Error(ctx, "refund attempt failed; left for retry", err)
	}
}

// attemptRefund claims a due refund, calls the gateway and records the result.
// It returns false when no refund was due or another worker holds it.
func (e *engine) attemptRefund(ctx context.Context, ref orders.Ref, maxAttempts int) (bool, error) {
	claimed, err := e.orders.ClaimRefund(ctx, ref, maxAttempts)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim refund")
	}
	if !claimed {
		return false, nil
	}
	order, err := e.orders.Get(ctx, ref)
	if err != nil {
		return true, orders.MapLoadError(err)
	}

	paymentID := ""
	if order.GatewayPaymentID != nil {
		paymentID = *order.GatewayPaymentID
	}
	amount := order.RefundAmountPaise
	if amount == order.TotalPaise {
		amount = 0
	}
	refund, callErr := e.gateway.Refund(ctx, razorpay.RefundRequest{
		PaymentID:   paymentID,
		AmountPaise: amount,
		Receipt:     e.codec.Format(ref),
		Notes: map[string]string{
			"order_id":   ref.ID.String(),
			"order_kind": ref.Kind.String(),
		},
	})

	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.orders.WithTx(tx)
		if callErr != nil {
			msg := refundErrorMessage(callErr)
			if _, err := repo.SetRefundStatus(ctx, ref, []enums.RefundStatus{enums.RefundStatusProcessing}, enums.RefundStatusFailed, map[string]any{
				"refund_last_error": msg,
			}); err != nil {
				return err
			}
			return e.emitRefundUpdated(ctx, tx, ref, enums.RefundStatusFailed, order.RefundAmountPaise, "", order.RefundAttempts, msg)
		}

		status := enums.RefundStatusProcessing
		extra := map[string]any{"refund_id": refund.ID, "refund_last_error": nil}
		if refund.Status == refundProcessed {
			status = enums.RefundStatusCompleted
			extra["payment_status"] = enums.PaymentStatusRefunded
		}
		if _, err := repo.SetRefundStatus(ctx, ref, []enums.RefundStatus{enums.RefundStatusProcessing}, status, extra); err != nil {
			return err
		}
		return e.emitRefundUpdated(ctx, tx, ref, status, order.RefundAmountPaise, refund.ID, order.RefundAttempts, "")
	})
	if err != nil {
		return true, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund result")
	}
	if callErr != nil {
		e.metrics.Event(SourceGateway, "refund", metrics.OutcomeFailed)
		return true, callErr
	}
	e.metrics.Event(SourceGateway, "refund", metrics.OutcomeApplied)
	e.logg.Info(e.logg.WithField(ctx, "refund_id", refund.ID), "refund issued")
	return true, nil
}

func refundErrorMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
		return typed.Message()
	}
	return err.Error()
}

// RetryRefund lets an operator push a failed or requested refund again,
// ignoring the automatic attempt cap.
func (e *engine) RetryRefund(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Order, error) {
	if !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin access required")
	}
	order, err := e.orders.Find(ctx, orderID)
	if err != nil {
		return nil, orders.MapLoadError(err)
	}
	ref := refOf(order)
	ctx = e.orderCtx(ctx, ref, SourceAdmin)
	if !order.RefundStatus.Retryable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no refund is pending for this order").
			WithDetails(map[string]any{"refund_status": order.RefundStatus})
	}
	claimed, err := e.attemptRefund(ctx, ref, 0)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "refund is already being processed")
	}
	updated, err := e.orders.Get(ctx, ref)
	if err != nil {
		return nil, orders.MapLoadError(err)
	}
	return updated, nil
}

// ProcessDueRefunds retries refunds still owed, oldest first, up to the
// configured attempt cap. It returns how many refunds were issued.
func (e *engine) ProcessDueRefunds(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		issued int
		errs   error
	)
	for _, kind := range []enums.OrderKind{enums.OrderKindStandard, enums.OrderKindCustom} {
		due, err := e.orders.ListRefundsDue(ctx, kind, e.refundMaxAttempts, limit)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, order := range due {
			ref := refOf(&order)
			claimed, err := e.attemptRefund(e.orderCtx(ctx, ref, SourceCron), ref, e.refundMaxAttempts)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if claimed {
				issued++
			}
		}
	}
	return issued, errs
}
