package orders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
)

var terminalShipmentStatuses = []enums.ShipmentStatus{
	enums.ShipmentStatusDelivered,
	enums.ShipmentStatusCancelled,
	enums.ShipmentStatusRTO,
}

// ClaimShipment inserts the per-order shipment row before the carrier is
// called. The unique order_id index makes exactly one caller the winner; the
// others get the existing row and false.
func (r *repository) ClaimShipment(ctx context.Context, ref Ref) (*models.Shipment, bool, error) {
	row := &models.Shipment{
		OrderID:   ref.ID,
		OrderKind: ref.Kind,
		Status:    enums.ShipmentStatusCreating,
	}
	err := r.db.WithContext(ctx).Create(row).Error
	if err == nil {
		return row, true, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, false, err
	}
	existing, getErr := r.GetShipment(ctx, ref.ID)
	if getErr != nil {
		return nil, false, getErr
	}
	return existing, false, nil
}

func (r *repository) GetShipment(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	var row models.Shipment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindShipmentByWaybill(ctx context.Context, waybill string) (*models.Shipment, error) {
	var row models.Shipment
	if err := r.db.WithContext(ctx).Where("waybill_code = ?", waybill).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// RecordCarrierShipment stores the carrier ids on a claimed row. The unique
// shipment_id index rejects a carrier shipment already bound to another order.
func (r *repository) RecordCarrierShipment(ctx context.Context, rowID uuid.UUID, shipmentID, carrierOrderID int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Shipment{}).
		Where("id = ? AND shipment_id IS NULL", rowID).
		Updates(map[string]any{
			"shipment_id":      shipmentID,
			"carrier_order_id": carrierOrderID,
			"status":           enums.ShipmentStatusAwaitingCourier,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateShipment(ctx context.Context, rowID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Shipment{}).Where("id = ?", rowID).Updates(updates).Error
}

// ReleaseShipmentClaim drops a claim whose carrier call never produced a shipment.
func (r *repository) ReleaseShipmentClaim(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("order_id = ? AND shipment_id IS NULL", orderID).
		Delete(&models.Shipment{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListStaleShipmentClaims(ctx context.Context, cutoff time.Time, limit int) ([]models.Shipment, error) {
	var rows []models.Shipment
	err := r.db.WithContext(ctx).
		Where("shipment_id IS NULL AND status = ? AND created_at < ?", enums.ShipmentStatusCreating, cutoff.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListShipmentsForSync returns live waybills not synced since cutoff, oldest first.
func (r *repository) ListShipmentsForSync(ctx context.Context, cutoff time.Time, limit int) ([]models.Shipment, error) {
	var rows []models.Shipment
	err := r.db.WithContext(ctx).
		Where("waybill_code IS NOT NULL AND status NOT IN ?", terminalShipmentStatuses).
		Where("(last_synced_at IS NULL OR last_synced_at < ?)", cutoff.UTC()).
		Order("last_synced_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
