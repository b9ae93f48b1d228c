package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateCustomOrder OutboxAggregateType = "custom_order"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateCustomOrder,
}

// AggregateFor maps an order kind to its outbox aggregate.
func AggregateFor(kind OrderKind) OutboxAggregateType {
	if kind == OrderKindCustom {
		return AggregateCustomOrder
	}
	return AggregateOrder
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType enumerates the order lifecycle events published to Pub/Sub.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderPaid          OutboxEventType = "order_paid"
	EventOrderPaymentFailed OutboxEventType = "order_payment_failed"
	EventOrderCancelled     OutboxEventType = "order_cancelled"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventShipmentCreated    OutboxEventType = "shipment_created"
	EventCourierAssigned    OutboxEventType = "courier_assigned"
	EventShipmentCancelled  OutboxEventType = "shipment_cancelled"
	EventRefundUpdated      OutboxEventType = "refund_updated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderPaymentFailed,
	EventOrderCancelled,
	EventOrderStatusChanged,
	EventShipmentCreated,
	EventCourierAssigned,
	EventShipmentCancelled,
	EventRefundUpdated,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
