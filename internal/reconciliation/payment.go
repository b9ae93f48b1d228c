package reconciliation

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/catalog"
	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/outbox/payloads"
)

// VerifyInput is the storefront's post-payment callback.
type VerifyInput struct {
	OrderID          uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

type paidEvent struct {
	source           string
	gatewayPaymentID string
	signature        *string
	actor            *auth.Principal
}

func (e *engine) VerifyPayment(ctx context.Context, principal auth.Principal, input VerifyInput) (*models.Order, error) {
	input.GatewayOrderID = strings.TrimSpace(input.GatewayOrderID)
	input.GatewayPaymentID = strings.TrimSpace(input.GatewayPaymentID)
	input.Signature = strings.TrimSpace(input.Signature)
	if input.OrderID == uuid.Nil || input.GatewayOrderID == "" || input.GatewayPaymentID == "" || input.Signature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id, gateway order id, payment id and signature are required")
	}

	order, err := e.orders.Find(ctx, input.OrderID)
	if err != nil {
		return nil, orders.MapLoadError(err)
	}
	// The pair must match; an order id alone never selects the order.
	if order.GatewayOrderID == nil || *order.GatewayOrderID != input.GatewayOrderID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if !principal.IsAdmin() && order.UserID != principal.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	ref := refOf(order)
	ctx = e.orderCtx(ctx, ref, SourceClient)
	if !e.gateway.VerifyClientSignature(input.GatewayOrderID, input.GatewayPaymentID, input.Signature) {
		e.metrics.Event(SourceClient, "verify", "invalid_signature")
		e.logg.Warn(ctx, "client payment signature rejected")
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid payment signature")
	}

	signature := input.Signature
	if _, err := e.applyPaid(ctx, order, paidEvent{
		source:           SourceClient,
		gatewayPaymentID: input.GatewayPaymentID,
		signature:        &signature,
		actor:            &principal,
	}); err != nil {
		return nil, err
	}

	updated, err := e.orders.Get(ctx, ref)
	if err != nil {
		return nil, orders.MapLoadError(err)
	}
	if updated.GatewayPaymentID != nil && *updated.GatewayPaymentID != input.GatewayPaymentID {
		e.logg.Warn(ctx, "order already paid by a different gateway payment")
	}
	return updated, nil
}

// applyPaid runs the sticky paid transition. Only the caller whose guarded
// update moves payment_status to paid decrements stock, advances the order and
// emits events; every other caller returns false with no side effects.
func (e *engine) applyPaid(ctx context.Context, order *models.Order, ev paidEvent) (bool, error) {
	ref := refOf(order)
	now := e.clock()
	var (
		won          bool
		refundQueued bool
		shortfalls   []catalog.Shortfall
	)

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.orders.WithTx(tx)
		var err error
		won, err = repo.MarkPaid(ctx, ref, orders.PaidUpdate{
			GatewayPaymentID: ev.gatewayPaymentID,
			Signature:        ev.signature,
			PaidAt:           now,
		})
		if err != nil || !won {
			return err
		}

		current, err := repo.Get(ctx, ref)
		if err != nil {
			return err
		}

		aborted := current.Status == enums.AbortStatus(ref.Kind)
		if lines := stockLines(current.Items); len(lines) > 0 && !aborted {
			shortfalls, err = e.catalog.WithTx(tx).DecrementStock(ctx, lines)
			if err != nil {
				return err
			}
		}

		switch {
		case aborted:
			// Paid after the order was already aborted: keep paid and owe the money back.
			refundQueued, err = repo.RequestRefund(ctx, ref, current.TotalPaise)
			if err != nil {
				return err
			}
			if refundQueued {
				if err := e.emitRefundUpdated(ctx, tx, ref, enums.RefundStatusRequested, current.TotalPaise, "", current.RefundAttempts, ""); err != nil {
					return err
				}
			}
		case ref.Kind == enums.OrderKindStandard && current.Status == enums.OrderStatusPending:
			advanced, err := repo.Transition(ctx, ref, []enums.OrderStatus{enums.OrderStatusPending}, enums.OrderStatusConfirmed, nil)
			if err != nil {
				return err
			}
			if advanced {
				if err := e.emitStatusChanged(ctx, tx, ref, enums.OrderStatusPending, enums.OrderStatusConfirmed, ev.source, "payment verified", ev.actor); err != nil {
					return err
				}
			}
		}

		gatewayOrderID := ""
		if current.GatewayOrderID != nil {
			gatewayOrderID = *current.GatewayOrderID
		}
		return e.emit(ctx, tx, ref, enums.EventOrderPaid, ev.source, ev.actor, payloads.OrderPaidEvent{
			OrderRef:         payloadRef(ref),
			PaymentMethod:    current.PaymentMethod,
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: ev.gatewayPaymentID,
			AmountPaise:      current.TotalPaise,
			PaidAt:           now,
			Source:           ev.source,
		})
	})
	if err != nil {
		e.logg.Error(ctx, "paid transition failed", err)
		e.metrics.Event(ev.source, "paid", metrics.OutcomeFailed)
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment")
	}

	e.metrics.PaidTransition(ev.source, won)
	if !won {
		e.metrics.Event(ev.source, "paid", metrics.OutcomeNoop)
		e.logg.Debug(ctx, "order already paid; transition skipped")
		return false, nil
	}
	e.metrics.Event(ev.source, "paid", metrics.OutcomeApplied)
	e.logg.Info(ctx, "order marked paid")
	for _, s := range shortfalls {
		shortCtx := e.logg.WithFields(ctx, map[string]any{
			"variant_id": s.VariantID.String(),
			"requested":  s.Requested,
			"available":  s.Available,
		})
		e.logg.Warn(shortCtx, "stock shortfall on paid order")
	}
	if refundQueued {
		e.logg.Warn(ctx, "payment captured on an aborted order; refund queued")
		e.tryRefund(ctx, ref)
	}
	return true, nil
}

func stockLines(items []models.OrderItem) []catalog.StockLine {
	var lines []catalog.StockLine
	for _, item := range items {
		ref, err := orders.ItemRef(item)
		if err != nil {
			continue
		}
		if c, ok := ref.(orders.CatalogItemRef); ok {
			lines = append(lines, catalog.StockLine{VariantID: c.VariantID, Quantity: item.Quantity})
		}
	}
	return lines
}

// isNotFound reports a missing order; webhook handlers treat it as unmatched.
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
