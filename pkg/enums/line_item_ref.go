package enums

import "fmt"

// LineItemRefKind is the persisted discriminator of a line item reference.
type LineItemRefKind string

const (
	LineItemRefCatalog LineItemRefKind = "catalog"
	LineItemRefCustom  LineItemRefKind = "custom"
)

var validLineItemRefKinds = []LineItemRefKind{
	LineItemRefCatalog,
	LineItemRefCustom,
}

// String implements fmt.Stringer.
func (v LineItemRefKind) String() string {
	return string(v)
}

// IsValid reports whether the value is a known LineItemRefKind.
func (v LineItemRefKind) IsValid() bool {
	for _, candidate := range validLineItemRefKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseLineItemRefKind converts raw input into a LineItemRefKind.
func ParseLineItemRefKind(value string) (LineItemRefKind, error) {
	for _, candidate := range validLineItemRefKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid line item ref kind %q", value)
}
