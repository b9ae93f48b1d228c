package enums

import "fmt"

// OrderKind distinguishes standard catalog orders from custom-design orders.
type OrderKind string

const (
	OrderKindStandard OrderKind = "standard"
	OrderKindCustom   OrderKind = "custom"
)

var validOrderKinds = []OrderKind{
	OrderKindStandard,
	OrderKindCustom,
}

// String implements fmt.Stringer.
func (v OrderKind) String() string {
	return string(v)
}

// IsValid reports whether the value is a known OrderKind.
func (v OrderKind) IsValid() bool {
	for _, candidate := range validOrderKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseOrderKind converts raw input into a OrderKind.
func ParseOrderKind(value string) (OrderKind, error) {
	for _, candidate := range validOrderKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order kind %q", value)
}

// Table returns the order table that stores orders of this kind.
func (v OrderKind) Table() string {
	if v == OrderKindCustom {
		return "custom_orders"
	}
	return "orders"
}
