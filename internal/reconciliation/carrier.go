package reconciliation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/outbox/payloads"
	"github.com/covercraft/covercraft-backend/pkg/shiprocket"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

// CarrierUpdate is one observation of the carrier shipment, from a webhook or
// a tracking poll.
type CarrierUpdate struct {
	RawStatus   string
	Status      enums.ShipmentStatus
	Known       bool
	WaybillCode string
	CourierName string
	Events      types.TrackingEvents
	OccurredAt  time.Time
	Source      string
}

// UpdateFromWebhook converts a parsed carrier webhook.
func UpdateFromWebhook(payload *shiprocket.WebhookPayload) CarrierUpdate {
	status, known := payload.Status()
	return CarrierUpdate{
		RawStatus:   payload.RawStatus(),
		Status:      status,
		Known:       known,
		WaybillCode: payload.WaybillCode,
		CourierName: payload.CourierName,
		Events:      payload.Scans,
		OccurredAt:  payload.OccurredAt,
		Source:      SourceCarrier,
	}
}

// UpdateFromTracking converts a tracking poll result.
func UpdateFromTracking(tracking *shiprocket.Tracking) CarrierUpdate {
	return CarrierUpdate{
		RawStatus: tracking.RawStatus,
		Status:    tracking.Status,
		Known:     tracking.Known,
		Events:    tracking.Events,
		Source:    SourceTracking,
	}
}

// HandleCarrierWebhook resolves the payload through its {PREFIX}-{uuid}
// reference and folds it into the order. Sentinel, foreign and unmatched
// payloads are acknowledged without touching any order.
func (e *engine) HandleCarrierWebhook(ctx context.Context, payload *shiprocket.WebhookPayload) error {
	if payload == nil {
		return nil
	}
	ctx = e.logg.WithFields(ctx, map[string]any{
		"source":        SourceCarrier,
		"carrier_ref":   payload.OrderRef,
		"waybill":       payload.WaybillCode,
		"carrier_state": payload.RawStatus(),
	})

	ref, err := e.codec.Parse(payload.OrderRef)
	switch {
	case errors.Is(err, orders.ErrSentinelRef):
		e.metrics.Event(SourceCarrier, "webhook", metrics.OutcomeIgnored)
		e.logg.Info(ctx, "carrier test payload acknowledged")
		return nil
	case err != nil:
		e.metrics.Event(SourceCarrier, "webhook", metrics.OutcomeUnmatched)
		e.logg.Warn(ctx, "carrier webhook reference not recognised")
		return nil
	}

	if _, err := e.orders.Get(ctx, ref); err != nil {
		if isNotFound(err) {
			e.metrics.Event(SourceCarrier, "webhook", metrics.OutcomeUnmatched)
			e.logg.Warn(e.orderCtx(ctx, ref, SourceCarrier), "carrier webhook for unknown order")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return e.ApplyCarrierStatus(ctx, ref, UpdateFromWebhook(payload))
}

// ApplyCarrierStatus records the carrier observation on the shipment row and
// maps it onto the order status. Every order transition is guarded, so late
// or duplicated updates never move an order backwards.
func (e *engine) ApplyCarrierStatus(ctx context.Context, ref orders.Ref, update CarrierUpdate) error {
	if update.Source == "" {
		update.Source = SourceCarrier
	}
	ctx = e.orderCtx(ctx, ref, update.Source)
	now := e.clock()
	occurred := update.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}

	var (
		outcome      = metrics.OutcomeNoop
		refundQueued bool
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.orders.WithTx(tx)
		order, err := repo.Get(ctx, ref)
		if err != nil {
			return err
		}

		if shipment := order.Shipment; shipment != nil {
			updates := map[string]any{"last_synced_at": now}
			if update.RawStatus != "" {
				updates["carrier_status"] = update.RawStatus
			}
			if update.Known && !shipment.Status.IsTerminal() && shipment.Status != update.Status {
				updates["status"] = update.Status
				if update.Status == enums.ShipmentStatusOnHold {
					updates["hold_reason"] = update.RawStatus
				} else {
					updates["hold_reason"] = nil
				}
			}
			if update.WaybillCode != "" && shipment.WaybillCode == nil && shipment.HasCarrierShipment() {
				updates["waybill_code"] = update.WaybillCode
			}
			if update.CourierName != "" {
				updates["courier_name"] = update.CourierName
			}
			if len(update.Events) > 0 {
				updates["tracking_events"] = shipment.TrackingEvents.Merge(update.Events...)
			}
			if err := repo.UpdateShipment(ctx, shipment.ID, updates); err != nil {
				return err
			}
		}

		if !update.Known {
			return nil
		}
		reason := "carrier: " + update.RawStatus

		switch update.Status {
		case enums.ShipmentStatusInTransit:
			extra := map[string]any{"hold_reason": nil}
			if waybill := firstNonEmpty(update.WaybillCode, waybillOf(order.Shipment)); waybill != "" {
				extra["tracking_number"] = waybill
			}
			moved, err := repo.Transition(ctx, ref, orders.StatusesBefore(ref.Kind, enums.OrderStatusShipped), enums.OrderStatusShipped, extra)
			if err != nil || !moved {
				return err
			}
			outcome = metrics.OutcomeApplied
			return e.emitStatusChanged(ctx, tx, ref, order.Status, enums.OrderStatusShipped, update.Source, reason, nil)

		case enums.ShipmentStatusDelivered:
			moved, err := repo.Transition(ctx, ref, orders.StatusesBefore(ref.Kind, enums.OrderStatusDelivered), enums.OrderStatusDelivered, map[string]any{
				"delivered_at": occurred,
				"hold_reason":  nil,
			})
			if err != nil || !moved {
				return err
			}
			outcome = metrics.OutcomeApplied
			return e.emitStatusChanged(ctx, tx, ref, order.Status, enums.OrderStatusDelivered, update.Source, reason, nil)

		case enums.ShipmentStatusCancelled, enums.ShipmentStatusRTO:
			abort := enums.AbortStatus(ref.Kind)
			moved, err := repo.Transition(ctx, ref, orders.NonTerminal(ref.Kind), abort, map[string]any{
				"cancel_reason": reason,
				"cancelled_at":  occurred,
			})
			if err != nil || !moved {
				return err
			}
			outcome = metrics.OutcomeApplied
			if order.IsPaid() {
				refundQueued, err = repo.RequestRefund(ctx, ref, order.TotalPaise)
				if err != nil {
					return err
				}
			}
			if err := e.emit(ctx, tx, ref, enums.EventOrderCancelled, update.Source, nil, payloads.OrderCancelledEvent{
				OrderRef:        payloadRef(ref),
				PreviousStatus:  order.Status.String(),
				Reason:          reason,
				Source:          update.Source,
				RefundRequested: refundQueued,
				CancelledAt:     occurred,
			}); err != nil {
				return err
			}
			if refundQueued {
				return e.emitRefundUpdated(ctx, tx, ref, enums.RefundStatusRequested, order.TotalPaise, "", order.RefundAttempts, "")
			}
			return nil

		case enums.ShipmentStatusOnHold:
			if order.Status.IsTerminal() {
				return nil
			}
			outcome = metrics.OutcomeApplied
			return repo.Update(ctx, ref, map[string]any{"hold_reason": update.RawStatus})
		}
		return nil
	})
	if err != nil {
		e.metrics.Event(update.Source, "carrier_status", metrics.OutcomeFailed)
		e.logg.Error(ctx, "carrier status update failed", err)
		if isNotFound(err) {
			return orders.MapLoadError(err)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply carrier status")
	}

	e.metrics.Event(update.Source, "carrier_status", outcome)
	if outcome == metrics.OutcomeApplied {
		e.logg.Info(e.logg.WithField(ctx, "shipment_status", update.Status.String()), "carrier status applied")
	}
	if refundQueued {
		e.tryRefund(ctx, ref)
	}
	return nil
}

func waybillOf(shipment *models.Shipment) string {
	if shipment == nil || shipment.WaybillCode == nil {
		return ""
	}
	return *shipment.WaybillCode
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
