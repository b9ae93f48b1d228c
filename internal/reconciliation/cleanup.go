package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
)

// errLostRace aborts a transaction whose guarded update matched no row.
var errLostRace = errors.New("order changed concurrently")

// Delete removes an order that never saw a payment or a shipment.
func (e *engine) Delete(ctx context.Context, orderID uuid.UUID) error {
	order, err := e.orders.Find(ctx, orderID)
	if err != nil {
		return orders.MapLoadError(err)
	}
	ref := refOf(order)
	ctx = e.orderCtx(ctx, ref, SourceAdmin)
	deleted, err := e.orders.DeleteIfUnused(ctx, ref)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete order")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only unpaid pending or rejected orders without a shipment can be deleted").
			WithDetails(map[string]any{"status": order.Status, "payment_status": order.PaymentStatus})
	}
	e.logg.Info(ctx, "order deleted")
	return nil
}

// PurgeStale deletes pending, unpaid orders older than olderThan from both
// stores and returns how many went.
func (e *engine) PurgeStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "age must be positive")
	}
	if limit <= 0 {
		limit = 100
	}
	cutoff := e.clock().Add(-olderThan)
	var (
		purged int
		errs   error
	)
	for _, kind := range []enums.OrderKind{enums.OrderKindStandard, enums.OrderKindCustom} {
		stale, err := e.orders.ListStalePending(ctx, kind, cutoff, limit)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, order := range stale {
			deleted, err := e.orders.DeleteIfUnused(ctx, refOf(&order))
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if deleted {
				purged++
			}
		}
	}
	if purged > 0 {
		e.logg.Info(e.logg.WithField(ctx, "purged", purged), "stale pending orders purged")
	}
	return purged, errs
}

func (e *engine) reload(ctx context.Context, ref orders.Ref) (*models.Order, error) {
	order, err := e.orders.Get(ctx, ref)
	if err != nil {
		return nil, orders.MapLoadError(err)
	}
	return order, nil
}

// mutationError maps a failed operator transaction onto the API taxonomy.
func (e *engine) mutationError(ctx context.Context, source, event string, err error) error {
	if errors.Is(err, errLostRace) {
		e.metrics.Event(source, event, metrics.OutcomeNoop)
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed, reload and retry")
	}
	e.metrics.Event(source, event, metrics.OutcomeFailed)
	e.logg.Error(ctx, event+" failed", err)
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, event)
}
