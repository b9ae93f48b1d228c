package types

import (
	"fmt"
	"strings"
)

// ShippingAddress is the delivery address captured at checkout. It is stored
// as jsonb on the order and copied verbatim into the carrier payload.
type ShippingAddress struct {
	Name     string  `json:"name" validate:"required,max=120"`
	Phone    string  `json:"phone" validate:"required,min=10,max=15"`
	Email    string  `json:"email" validate:"omitempty,email"`
	Line1    string  `json:"line1" validate:"required,max=200"`
	Line2    *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City     string  `json:"city" validate:"required,max=80"`
	State    string  `json:"state" validate:"required,max=80"`
	Pincode  string  `json:"pincode" validate:"required,len=6,numeric"`
	Country  string  `json:"country,omitempty"`
	Landmark *string `json:"landmark,omitempty"`
}

// Normalize trims whitespace and applies the default country.
func (a ShippingAddress) Normalize() ShippingAddress {
	a.Name = strings.TrimSpace(a.Name)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Email = strings.TrimSpace(a.Email)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.Pincode = strings.TrimSpace(a.Pincode)
	a.Country = strings.TrimSpace(a.Country)
	if a.Country == "" {
		a.Country = "India"
	}
	return a
}

// Validate performs the minimal checks the domain relies on when the address
// did not come through the HTTP validator.
func (a ShippingAddress) Validate() error {
	switch {
	case strings.TrimSpace(a.Name) == "":
		return fmt.Errorf("address: missing name")
	case strings.TrimSpace(a.Phone) == "":
		return fmt.Errorf("address: missing phone")
	case strings.TrimSpace(a.Line1) == "":
		return fmt.Errorf("address: missing line1")
	case strings.TrimSpace(a.City) == "":
		return fmt.Errorf("address: missing city")
	case strings.TrimSpace(a.State) == "":
		return fmt.Errorf("address: missing state")
	case strings.TrimSpace(a.Pincode) == "":
		return fmt.Errorf("address: missing pincode")
	}
	return nil
}

// Line joins both address lines the way carriers expect them.
func (a ShippingAddress) Line() string {
	if a.Line2 == nil || strings.TrimSpace(*a.Line2) == "" {
		return a.Line1
	}
	return a.Line1 + ", " + strings.TrimSpace(*a.Line2)
}
