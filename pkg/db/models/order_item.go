package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/pkg/enums"
)

// OrderItem snapshots a line item at checkout. The unit price is frozen and
// never recomputed from the catalog.
type OrderItem struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	OrderKind      enums.OrderKind       `gorm:"column:order_kind;not null"`
	Position       int                   `gorm:"column:position;not null"`
	RefKind        enums.LineItemRefKind `gorm:"column:ref_kind;not null"`
	ProductID      *uuid.UUID            `gorm:"column:product_id;type:uuid"`
	VariantID      *uuid.UUID            `gorm:"column:variant_id;type:uuid"`
	CustomTag      *string               `gorm:"column:custom_tag"`
	Name           string                `gorm:"column:name;not null"`
	SKU            string                `gorm:"column:sku;not null"`
	UnitPricePaise int64                 `gorm:"column:unit_price_paise;not null"`
	Quantity       int                   `gorm:"column:quantity;not null"`
	Metadata       datatypes.JSON        `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// LineTotalPaise returns unit price times quantity.
func (i OrderItem) LineTotalPaise() int64 {
	return i.UnitPricePaise * int64(i.Quantity)
}
