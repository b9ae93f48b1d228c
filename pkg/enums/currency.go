package enums

import "fmt"

// Currency represents supported monetary denominations.
type Currency string

const (
	CurrencyINR Currency = "INR"
)

var validCurrencys = []Currency{
	CurrencyINR,
}

// String implements fmt.Stringer.
func (v Currency) String() string {
	return string(v)
}

// IsValid reports whether the value is a known Currency.
func (v Currency) IsValid() bool {
	for _, candidate := range validCurrencys {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCurrency converts raw input into a Currency.
func ParseCurrency(value string) (Currency, error) {
	for _, candidate := range validCurrencys {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
