// Package payloads holds the JSON bodies published on the orders topic.
package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/covercraft/covercraft-backend/pkg/enums"
)

// OrderRef is embedded in every payload so consumers can load the right table.
type OrderRef struct {
	OrderID uuid.UUID       `json:"order_id"`
	Kind    enums.OrderKind `json:"order_kind"`
}

// OrderCreatedEvent is emitted once checkout persists an order.
type OrderCreatedEvent struct {
	OrderRef
	UserID         uuid.UUID           `json:"user_id"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method"`
	TotalPaise     int64               `json:"total_paise"`
	Currency       enums.Currency      `json:"currency"`
	GatewayOrderID string              `json:"gateway_order_id,omitempty"`
	ItemCount      int                 `json:"item_count"`
}

// OrderPaidEvent is emitted by whichever source wins the paid transition.
type OrderPaidEvent struct {
	OrderRef
	PaymentMethod    enums.PaymentMethod `json:"payment_method"`
	GatewayOrderID   string              `json:"gateway_order_id"`
	GatewayPaymentID string              `json:"gateway_payment_id"`
	AmountPaise      int64               `json:"amount_paise"`
	PaidAt           time.Time           `json:"paid_at"`
	Source           string              `json:"source"`
}

// OrderPaymentFailedEvent reports a gateway failure on an unpaid order.
type OrderPaymentFailedEvent struct {
	OrderRef
	GatewayOrderID string `json:"gateway_order_id"`
	Reason         string `json:"reason,omitempty"`
}

// OrderCancelledEvent covers user, admin, gateway and carrier cancellations.
type OrderCancelledEvent struct {
	OrderRef
	PreviousStatus  string    `json:"previous_status"`
	Reason          string    `json:"reason,omitempty"`
	Source          string    `json:"source"`
	RefundRequested bool      `json:"refund_requested"`
	CancelledAt     time.Time `json:"cancelled_at"`
}

// OrderStatusChangedEvent is the generic forward transition.
type OrderStatusChangedEvent struct {
	OrderRef
	From   string `json:"from"`
	To     string `json:"to"`
	Source string `json:"source"`
	Reason string `json:"reason,omitempty"`
}

// ShipmentCreatedEvent follows a successful carrier order creation.
type ShipmentCreatedEvent struct {
	OrderRef
	ShipmentID     int64 `json:"shipment_id"`
	CarrierOrderID int64 `json:"carrier_order_id"`
}

// CourierAssignedEvent carries the waybill issued for a shipment.
type CourierAssignedEvent struct {
	OrderRef
	ShipmentID  int64  `json:"shipment_id"`
	CourierID   int64  `json:"courier_id"`
	CourierName string `json:"courier_name"`
	WaybillCode string `json:"waybill_code"`
}

// ShipmentCancelledEvent is emitted when admin cancels the carrier shipment.
type ShipmentCancelledEvent struct {
	OrderRef
	WaybillCodes []string `json:"waybill_codes"`
}

// RefundUpdatedEvent tracks refund bookkeeping.
type RefundUpdatedEvent struct {
	OrderRef
	Status      enums.RefundStatus `json:"status"`
	AmountPaise int64              `json:"amount_paise"`
	RefundID    string             `json:"refund_id,omitempty"`
	Attempts    int                `json:"attempts"`
	Error       string             `json:"error,omitempty"`
}
