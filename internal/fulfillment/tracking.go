package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/internal/reconciliation"
	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

const defaultBatch = 100

// Track returns the shipment of an order the principal can see. refresh
// pulls the carrier's tracking first and folds it into the order.
func (o *orchestrator) Track(ctx context.Context, principal auth.Principal, orderID uuid.UUID, refresh bool) (*models.Shipment, error) {
	order, err := o.orders.Find(ctx, orderID)
	if err != nil {
		return nil, orders.MapLoadError(err)
	}
	if !principal.IsAdmin() && order.UserID != principal.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Shipment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order has not shipped yet")
	}
	ref := orders.Ref{Kind: order.Kind, ID: order.ID}
	if !refresh || order.Shipment.WaybillCode == nil || order.Shipment.Status.IsTerminal() {
		return order.Shipment, nil
	}
	if err := o.syncOne(o.logg.WithOrder(ctx, ref.ID.String(), ref.Kind.String()), ref, order.Shipment); err != nil {
		return nil, err
	}
	return o.reloadShipment(ctx, ref)
}

func (o *orchestrator) syncOne(ctx context.Context, ref orders.Ref, shipment *models.Shipment) error {
	tracking, err := o.carrier.Track(ctx, *shipment.WaybillCode)
	o.metrics.CarrierCall("track", err)
	if err != nil {
		return err
	}
	return o.applier.ApplyCarrierStatus(ctx, ref, reconciliation.UpdateFromTracking(tracking))
}

// SyncStale polls tracking for live shipments not synced within olderThan.
// Failures are collected and the batch carries on.
func (o *orchestrator) SyncStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "sync interval must be positive")
	}
	if limit <= 0 {
		limit = defaultBatch
	}
	rows, err := o.orders.ListShipmentsForSync(ctx, o.clock().Add(-olderThan), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipments for sync")
	}

	var (
		synced int
		errs   error
	)
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return synced, multierr.Append(errs, err)
		}
		row := &rows[i]
		ref := orders.Ref{Kind: row.OrderKind, ID: row.OrderID}
		rowCtx := o.logg.WithOrder(ctx, ref.ID.String(), ref.Kind.String())
		if err := o.syncOne(rowCtx, ref, row); err != nil {
			o.logg.Warn(o.logg.WithField(rowCtx, "error", err.Error()), "tracking sync failed")
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}
	return synced, errs
}

// ReleaseStaleClaims drops claimed rows whose carrier call never completed,
// so the order can be shipped again. Claims older than olderThan are assumed
// abandoned by a crashed caller.
func (o *orchestrator) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "claim age must be positive")
	}
	if limit <= 0 {
		limit = defaultBatch
	}
	rows, err := o.orders.ListStaleShipmentClaims(ctx, o.clock().Add(-olderThan), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale shipment claims")
	}
	var (
		released int
		errs     error
	)
	for _, row := range rows {
		ok, err := o.orders.ReleaseShipmentClaim(ctx, row.OrderID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			released++
			o.logg.Warn(o.logg.WithOrder(ctx, row.OrderID.String(), row.OrderKind.String()), "released abandoned shipment claim")
		}
	}
	return released, errs
}
