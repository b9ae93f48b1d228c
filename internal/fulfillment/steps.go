package fulfillment

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/outbox/payloads"
	"github.com/covercraft/covercraft-backend/pkg/shiprocket"
)

// loadShipment returns the order ref and its carrier shipment. Orders without
// a carrier shipment yet are a state conflict, not a missing resource.
func (o *orchestrator) loadShipment(ctx context.Context, orderID uuid.UUID) (orders.Ref, *models.Shipment, error) {
	order, err := o.orders.Find(ctx, orderID)
	if err != nil {
		return orders.Ref{}, nil, orders.MapLoadError(err)
	}
	ref := orders.Ref{Kind: order.Kind, ID: order.ID}
	if !order.Shipment.HasCarrierShipment() {
		return ref, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no carrier shipment yet")
	}
	return ref, order.Shipment, nil
}

func (o *orchestrator) RecommendedCouriers(ctx context.Context, orderID uuid.UUID) ([]shiprocket.Courier, error) {
	_, shipment, err := o.loadShipment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	couriers, err := o.carrier.RecommendedCouriers(ctx, *shipment.ShipmentID)
	o.metrics.CarrierCall("recommended_couriers", err)
	return couriers, err
}

// AssignCourier generates the waybill. courierID 0 picks the cheapest
// serviceable courier. An already assigned shipment is returned unchanged.
func (o *orchestrator) AssignCourier(ctx context.Context, orderID uuid.UUID, courierID int64) (*models.Shipment, error) {
	if courierID < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid courier id")
	}
	ref, shipment, err := o.loadShipment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = o.logg.WithOrder(ctx, ref.ID.String(), ref.Kind.String())
	if shipment.WaybillCode != nil {
		return shipment, nil
	}
	return o.assign(ctx, ref, shipment, courierID)
}

func (o *orchestrator) assign(ctx context.Context, ref orders.Ref, shipment *models.Shipment, courierID int64) (*models.Shipment, error) {
	shipmentID := *shipment.ShipmentID
	if courierID == 0 {
		couriers, err := o.carrier.RecommendedCouriers(ctx, shipmentID)
		o.metrics.CarrierCall("recommended_couriers", err)
		if err != nil {
			return nil, err
		}
		best, ok := shiprocket.Cheapest(couriers)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "no courier can service this shipment")
		}
		courierID = best.ID
	}

	assignment, err := o.carrier.AssignCourier(ctx, shipmentID, courierID)
	o.metrics.CarrierCall("assign_courier", err)
	if err != nil {
		return nil, err
	}
	err = o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return o.recordAssignment(ctx, tx, ref, shipment.ID, shipmentID, assignment)
	})
	if err != nil {
		o.logg.Error(o.logg.WithField(ctx, "waybill", assignment.WaybillCode), "record courier assignment failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record courier assignment")
	}
	o.logg.Info(o.logg.WithField(ctx, "waybill", assignment.WaybillCode), "courier assigned")
	return o.reloadShipment(ctx, ref)
}

// recordAssignment stores the waybill on the shipment and exposes it on the
// order as the tracking number.
func (o *orchestrator) recordAssignment(ctx context.Context, tx *gorm.DB, ref orders.Ref, rowID uuid.UUID, shipmentID int64, a *shiprocket.Assignment) error {
	repo := o.orders.WithTx(tx)
	updates := map[string]any{
		"waybill_code": a.WaybillCode,
		"status":       enums.ShipmentStatusCourierAssigned,
	}
	if a.CourierID > 0 {
		updates["courier_id"] = a.CourierID
	}
	if a.CourierName != "" {
		updates["courier_name"] = a.CourierName
	}
	if err := repo.UpdateShipment(ctx, rowID, updates); err != nil {
		return err
	}
	if err := repo.Update(ctx, ref, map[string]any{"tracking_number": a.WaybillCode}); err != nil {
		return err
	}
	return o.emit(ctx, tx, ref, enums.EventCourierAssigned, payloads.CourierAssignedEvent{
		OrderRef:    payloads.OrderRef{OrderID: ref.ID, Kind: ref.Kind},
		ShipmentID:  shipmentID,
		CourierID:   a.CourierID,
		CourierName: a.CourierName,
		WaybillCode: a.WaybillCode,
	})
}

func (o *orchestrator) RequestPickup(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	ref, shipment, err := o.loadShipment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = o.logg.WithOrder(ctx, ref.ID.String(), ref.Kind.String())
	if shipment.WaybillCode == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "assign a courier before requesting pickup")
	}
	return o.pickup(ctx, ref, shipment)
}

func (o *orchestrator) pickup(ctx context.Context, ref orders.Ref, shipment *models.Shipment) (*models.Shipment, error) {
	pickup, err := o.carrier.RequestPickup(ctx, *shipment.ShipmentID)
	o.metrics.CarrierCall("request_pickup", err)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{"pickup_status": pickup.Status}
	if shipment.Status == enums.ShipmentStatusCourierAssigned || shipment.Status == enums.ShipmentStatusAwaitingCourier {
		updates["status"] = enums.ShipmentStatusPickupScheduled
	}
	if err := o.orders.UpdateShipment(ctx, shipment.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pickup")
	}
	o.logg.Info(ctx, "pickup requested")
	return o.reloadShipment(ctx, ref)
}

// CancelShipment cancels the carrier shipment. The order status is left to
// the carrier's own cancellation webhook and to operator decisions.
func (o *orchestrator) CancelShipment(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	ref, shipment, err := o.loadShipment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = o.logg.WithOrder(ctx, ref.ID.String(), ref.Kind.String())
	if shipment.Status == enums.ShipmentStatusCancelled {
		return shipment, nil
	}
	if shipment.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "shipment already finished").
			WithDetails(map[string]any{"shipment_status": shipment.Status})
	}
	if shipment.WaybillCode == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "shipment has no waybill to cancel")
	}
	waybill := *shipment.WaybillCode
	_, err = o.carrier.CancelShipment(ctx, []string{waybill})
	o.metrics.CarrierCall("cancel_shipment", err)
	if err != nil {
		return nil, err
	}
	err = o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := o.orders.WithTx(tx).UpdateShipment(ctx, shipment.ID, map[string]any{
			"status": enums.ShipmentStatusCancelled,
		}); err != nil {
			return err
		}
		return o.emit(ctx, tx, ref, enums.EventShipmentCancelled, payloads.ShipmentCancelledEvent{
			OrderRef:     payloads.OrderRef{OrderID: ref.ID, Kind: ref.Kind},
			WaybillCodes: []string{waybill},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record shipment cancellation")
	}
	o.logg.Info(ctx, "carrier shipment cancelled")
	return o.reloadShipment(ctx, ref)
}

func (o *orchestrator) GenerateLabel(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	return o.document(ctx, orderID, "generate_label", "label_url", o.carrier.GenerateLabel)
}

func (o *orchestrator) GenerateManifest(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	return o.document(ctx, orderID, "generate_manifest", "manifest_url", o.carrier.GenerateManifest)
}

type documentFunc func(ctx context.Context, shipmentIDs []int64) (*shiprocket.Document, error)

func (o *orchestrator) document(ctx context.Context, orderID uuid.UUID, step, column string, generate documentFunc) (*models.Shipment, error) {
	ref, shipment, err := o.loadShipment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if shipment.WaybillCode == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "assign a courier first")
	}
	doc, err := generate(ctx, []int64{*shipment.ShipmentID})
	o.metrics.CarrierCall(step, err)
	if err != nil {
		return nil, err
	}
	if doc.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeCarrierRejected, "carrier did not generate the document").
			WithDetails(map[string]any{"operation": step, "not_created": doc.NotCreated})
	}
	if err := o.orders.UpdateShipment(ctx, shipment.ID, map[string]any{column: doc.URL}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record document")
	}
	return o.reloadShipment(ctx, ref)
}

func (o *orchestrator) reloadShipment(ctx context.Context, ref orders.Ref) (*models.Shipment, error) {
	shipment, err := o.orders.GetShipment(ctx, ref.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	return shipment, nil
}
