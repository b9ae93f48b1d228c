package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/pkg/enums"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

// Order is shared by the standard (orders) and custom (custom_orders) tables.
// Kind is not persisted; repositories stamp it from the table they read.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Kind            enums.OrderKind       `gorm:"-"`
	UserID          uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	Status          enums.OrderStatus     `gorm:"column:status;not null;index"`
	Currency        enums.Currency        `gorm:"column:currency;not null;default:'INR'"`
	SubtotalPaise   int64                 `gorm:"column:subtotal_paise;not null"`
	TotalPaise      int64                 `gorm:"column:total_paise;not null"`
	ShippingAddress types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`

	PaymentMethod        enums.PaymentMethod `gorm:"column:payment_method;not null"`
	PaymentStatus        enums.PaymentStatus `gorm:"column:payment_status;not null;default:'pending'"`
	GatewayOrderID       *string             `gorm:"column:gateway_order_id;index"`
	GatewayPaymentID     *string             `gorm:"column:gateway_payment_id;index"`
	GatewaySignature     *string             `gorm:"column:gateway_signature"`
	PaidAt               *time.Time          `gorm:"column:paid_at"`
	PaymentFailureReason *string             `gorm:"column:payment_failure_reason"`

	RefundStatus      enums.RefundStatus `gorm:"column:refund_status;not null;default:'none'"`
	RefundAmountPaise int64              `gorm:"column:refund_amount_paise;not null;default:0"`
	RefundID          *string            `gorm:"column:refund_id"`
	RefundAttempts    int                `gorm:"column:refund_attempts;not null;default:0"`
	RefundLastError   *string            `gorm:"column:refund_last_error"`

	CancelReason   *string    `gorm:"column:cancel_reason"`
	HoldReason     *string    `gorm:"column:hold_reason"`
	TrackingNumber *string    `gorm:"column:tracking_number"`
	AdminNote      *string    `gorm:"column:admin_note"`
	DeliveredAt    *time.Time `gorm:"column:delivered_at"`
	CancelledAt    *time.Time `gorm:"column:cancelled_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Items    []OrderItem `gorm:"-"`
	Shipment *Shipment   `gorm:"-"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// IsPaid reports whether the sticky paid flag has been set.
func (o *Order) IsPaid() bool {
	return o != nil && o.PaymentStatus == enums.PaymentStatusPaid
}
