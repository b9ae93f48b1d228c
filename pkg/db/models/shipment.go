package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/pkg/enums"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

// Shipment is the carrier sub-state of an order. The row is inserted as a
// claim (status creating) before the carrier is called; order_id and
// shipment_id are both unique.
type Shipment struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_shipments_order_id"`
	OrderKind      enums.OrderKind      `gorm:"column:order_kind;not null"`
	ShipmentID     *int64               `gorm:"column:shipment_id;uniqueIndex:ux_shipments_shipment_id"`
	CarrierOrderID *int64               `gorm:"column:carrier_order_id"`
	WaybillCode    *string              `gorm:"column:waybill_code;index"`
	CourierID      *int64               `gorm:"column:courier_id"`
	CourierName    *string              `gorm:"column:courier_name"`
	Status         enums.ShipmentStatus `gorm:"column:status;not null;index"`
	CarrierStatus  *string              `gorm:"column:carrier_status"`
	HoldReason     *string              `gorm:"column:hold_reason"`
	PickupStatus   *string              `gorm:"column:pickup_status"`
	LabelURL       *string              `gorm:"column:label_url"`
	ManifestURL    *string              `gorm:"column:manifest_url"`
	TrackingEvents types.TrackingEvents `gorm:"column:tracking_events;type:jsonb"`
	LastSyncedAt   *time.Time           `gorm:"column:last_synced_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shipment) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// HasCarrierShipment reports whether the carrier call succeeded for this row.
func (s *Shipment) HasCarrierShipment() bool {
	return s != nil && s.ShipmentID != nil
}
