package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRupeesToPaise(t *testing.T) {
	paise, err := RupeesToPaise(decimal.RequireFromString("499"))
	require.NoError(t, err)
	require.Equal(t, int64(49900), paise)

	paise, err = RupeesToPaise(decimal.RequireFromString("12.34"))
	require.NoError(t, err)
	require.Equal(t, int64(1234), paise)

	_, err = RupeesToPaise(decimal.RequireFromString("1.005"))
	require.Error(t, err)

	require.Equal(t, "499.5", PaiseToRupees(49950).String())
}

func TestTrackingEventsMergeDedupes(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	existing := TrackingEvents{{Status: "PICKED UP", OccurredAt: at}}

	merged := existing.Merge(
		TrackingEvent{Status: "PICKED UP", OccurredAt: at},
		TrackingEvent{Status: "IN TRANSIT", OccurredAt: at.Add(time.Hour)},
	)
	require.Len(t, merged, 2)
	require.Len(t, existing, 1)
	require.Equal(t, "IN TRANSIT", merged[1].Status)
}

func TestShippingAddressNormalize(t *testing.T) {
	addr := ShippingAddress{Name: " Asha ", City: "Pune ", Pincode: " 411001"}.Normalize()
	require.Equal(t, "Asha", addr.Name)
	require.Equal(t, "411001", addr.Pincode)
	require.Equal(t, "India", addr.Country)

	line2 := "Flat 4"
	addr.Line1 = "MG Road"
	addr.Line2 = &line2
	require.Equal(t, "MG Road, Flat 4", addr.Line())
}
