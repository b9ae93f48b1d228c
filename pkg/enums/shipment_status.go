package enums

import "fmt"

// ShipmentStatus is our normalised view of the carrier shipment.
type ShipmentStatus string

const (
	// ShipmentStatusCreating marks a claimed row whose carrier call is in flight.
	ShipmentStatusCreating        ShipmentStatus = "creating"
	ShipmentStatusAwaitingCourier ShipmentStatus = "awaiting_courier"
	ShipmentStatusCourierAssigned ShipmentStatus = "courier_assigned"
	ShipmentStatusPickupScheduled ShipmentStatus = "pickup_scheduled"
	ShipmentStatusInTransit       ShipmentStatus = "in_transit"
	ShipmentStatusOnHold          ShipmentStatus = "on_hold"
	ShipmentStatusDelivered       ShipmentStatus = "delivered"
	ShipmentStatusCancelled       ShipmentStatus = "cancelled"
	ShipmentStatusRTO             ShipmentStatus = "rto"
)

var validShipmentStatuses = []ShipmentStatus{
	ShipmentStatusCreating,
	ShipmentStatusAwaitingCourier,
	ShipmentStatusCourierAssigned,
	ShipmentStatusPickupScheduled,
	ShipmentStatusInTransit,
	ShipmentStatusOnHold,
	ShipmentStatusDelivered,
	ShipmentStatusCancelled,
	ShipmentStatusRTO,
}

// String implements fmt.Stringer.
func (s ShipmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ShipmentStatus.
func (s ShipmentStatus) IsValid() bool {
	for _, candidate := range validShipmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the carrier will not move the parcel any further.
func (s ShipmentStatus) IsTerminal() bool {
	switch s {
	case ShipmentStatusDelivered, ShipmentStatusCancelled, ShipmentStatusRTO:
		return true
	}
	return false
}

// ParseShipmentStatus converts raw input into a ShipmentStatus.
func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	for _, candidate := range validShipmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment status %q", value)
}
