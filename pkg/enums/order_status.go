package enums

import "fmt"

// OrderStatus is the externally visible lifecycle state of an order. Standard
// and custom orders draw from different subsets.
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusConfirmed    OrderStatus = "confirmed"
	OrderStatusProcessing   OrderStatus = "processing"
	OrderStatusShipped      OrderStatus = "shipped"
	OrderStatusDelivered    OrderStatus = "delivered"
	OrderStatusCancelled    OrderStatus = "cancelled"
	OrderStatusApproved     OrderStatus = "approved"
	OrderStatusRejected     OrderStatus = "rejected"
	OrderStatusInProduction OrderStatus = "in_production"
)

var standardOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

var customOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusApproved,
	OrderStatusRejected,
	OrderStatusInProduction,
	OrderStatusShipped,
	OrderStatusDelivered,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValidFor reports whether the status belongs to the given order kind.
func (s OrderStatus) IsValidFor(kind OrderKind) bool {
	for _, candidate := range StatusesFor(kind) {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// StatusesFor returns the allowed status vocabulary of an order kind.
func StatusesFor(kind OrderKind) []OrderStatus {
	if kind == OrderKindCustom {
		return customOrderStatuses
	}
	return standardOrderStatuses
}

// AbortStatus is the absorbing failure state for an order kind.
func AbortStatus(kind OrderKind) OrderStatus {
	if kind == OrderKindCustom {
		return OrderStatusRejected
	}
	return OrderStatusCancelled
}

// ParseOrderStatus converts raw input into an OrderStatus valid for kind.
func ParseOrderStatus(kind OrderKind, value string) (OrderStatus, error) {
	for _, candidate := range StatusesFor(kind) {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid %s order status %q", kind, value)
}
