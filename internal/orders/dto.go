package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	"github.com/covercraft/covercraft-backend/pkg/pagination"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

// OrderDTO is the API view of an order. Amounts are paise with a rupee mirror.
type OrderDTO struct {
	ID              uuid.UUID             `json:"id"`
	Kind            enums.OrderKind       `json:"kind"`
	Status          enums.OrderStatus     `json:"status"`
	Currency        enums.Currency        `json:"currency"`
	TotalPaise      int64                 `json:"total_paise"`
	Total           decimal.Decimal       `json:"total"`
	ShippingAddress types.ShippingAddress `json:"shipping_address"`
	Items           []OrderItemDTO        `json:"items,omitempty"`
	Payment         PaymentDTO            `json:"payment"`
	Refund          RefundDTO             `json:"refund"`
	Shipment        *ShipmentDTO          `json:"shipment,omitempty"`
	TrackingNumber  *string               `json:"tracking_number,omitempty"`
	CancelReason    *string               `json:"cancel_reason,omitempty"`
	HoldReason      *string               `json:"hold_reason,omitempty"`
	AdminNote       *string               `json:"admin_note,omitempty"`
	DeliveredAt     *time.Time            `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time            `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type OrderItemDTO struct {
	RefKind        enums.LineItemRefKind `json:"ref_kind"`
	ProductID      *uuid.UUID            `json:"product_id,omitempty"`
	VariantID      *uuid.UUID            `json:"variant_id,omitempty"`
	CustomTag      *string               `json:"custom_tag,omitempty"`
	Name           string                `json:"name"`
	SKU            string                `json:"sku"`
	UnitPricePaise int64                 `json:"unit_price_paise"`
	UnitPrice      decimal.Decimal       `json:"unit_price"`
	Quantity       int                   `json:"quantity"`
}

type PaymentDTO struct {
	Method           enums.PaymentMethod `json:"method"`
	Status           enums.PaymentStatus `json:"status"`
	GatewayOrderID   *string             `json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string             `json:"gateway_payment_id,omitempty"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	FailureReason    *string             `json:"failure_reason,omitempty"`
}

type RefundDTO struct {
	Status      enums.RefundStatus `json:"status"`
	AmountPaise int64              `json:"amount_paise"`
	RefundID    *string            `json:"refund_id,omitempty"`
	Attempts    int                `json:"attempts,omitempty"`
	LastError   *string            `json:"last_error,omitempty"`
}

type ShipmentDTO struct {
	ShipmentID     *int64                `json:"shipment_id,omitempty"`
	CarrierOrderID *int64                `json:"carrier_order_id,omitempty"`
	WaybillCode    *string               `json:"waybill_code,omitempty"`
	CourierID      *int64                `json:"courier_id,omitempty"`
	CourierName    *string               `json:"courier_name,omitempty"`
	Status         enums.ShipmentStatus  `json:"status"`
	CarrierStatus  *string               `json:"carrier_status,omitempty"`
	HoldReason     *string               `json:"hold_reason,omitempty"`
	PickupStatus   *string               `json:"pickup_status,omitempty"`
	LabelURL       *string               `json:"label_url,omitempty"`
	ManifestURL    *string               `json:"manifest_url,omitempty"`
	TrackingEvents []types.TrackingEvent `json:"tracking_events"`
	LastSyncedAt   *time.Time            `json:"last_synced_at,omitempty"`
}

func NewOrderDTO(o *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:              o.ID,
		Kind:            o.Kind,
		Status:          o.Status,
		Currency:        o.Currency,
		TotalPaise:      o.TotalPaise,
		Total:           types.PaiseToRupees(o.TotalPaise),
		ShippingAddress: o.ShippingAddress,
		Payment: PaymentDTO{
			Method:           o.PaymentMethod,
			Status:           o.PaymentStatus,
			GatewayOrderID:   o.GatewayOrderID,
			GatewayPaymentID: o.GatewayPaymentID,
			PaidAt:           o.PaidAt,
			FailureReason:    o.PaymentFailureReason,
		},
		Refund: RefundDTO{
			Status:      o.RefundStatus,
			AmountPaise: o.RefundAmountPaise,
			RefundID:    o.RefundID,
			Attempts:    o.RefundAttempts,
			LastError:   o.RefundLastError,
		},
		TrackingNumber: o.TrackingNumber,
		CancelReason:   o.CancelReason,
		HoldReason:     o.HoldReason,
		AdminNote:      o.AdminNote,
		DeliveredAt:    o.DeliveredAt,
		CancelledAt:    o.CancelledAt,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, item := range o.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			RefKind:        item.RefKind,
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			CustomTag:      item.CustomTag,
			Name:           item.Name,
			SKU:            item.SKU,
			UnitPricePaise: item.UnitPricePaise,
			UnitPrice:      types.PaiseToRupees(item.UnitPricePaise),
			Quantity:       item.Quantity,
		})
	}
	if o.Shipment != nil {
		s := NewShipmentDTO(o.Shipment)
		dto.Shipment = &s
	}
	return dto
}

func NewShipmentDTO(s *models.Shipment) ShipmentDTO {
	events := []types.TrackingEvent(s.TrackingEvents)
	if events == nil {
		events = []types.TrackingEvent{}
	}
	return ShipmentDTO{
		ShipmentID:     s.ShipmentID,
		CarrierOrderID: s.CarrierOrderID,
		WaybillCode:    s.WaybillCode,
		CourierID:      s.CourierID,
		CourierName:    s.CourierName,
		Status:         s.Status,
		CarrierStatus:  s.CarrierStatus,
		HoldReason:     s.HoldReason,
		PickupStatus:   s.PickupStatus,
		LabelURL:       s.LabelURL,
		ManifestURL:    s.ManifestURL,
		TrackingEvents: events,
		LastSyncedAt:   s.LastSyncedAt,
	}
}

// NewOrderPage maps a page of rows to DTOs, keeping the cursor.
func NewOrderPage(page pagination.Page[models.Order]) pagination.Page[OrderDTO] {
	out := pagination.Page[OrderDTO]{Items: make([]OrderDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for i := range page.Items {
		out.Items = append(out.Items, NewOrderDTO(&page.Items[i]))
	}
	return out
}
