package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/covercraft/covercraft-backend/pkg/enums"
)

func TestCanAdvanceStandard(t *testing.T) {
	k := enums.OrderKindStandard
	assert.True(t, CanAdvance(k, enums.OrderStatusPending, enums.OrderStatusConfirmed))
	assert.True(t, CanAdvance(k, enums.OrderStatusPending, enums.OrderStatusShipped))
	assert.True(t, CanAdvance(k, enums.OrderStatusShipped, enums.OrderStatusCancelled))
	assert.False(t, CanAdvance(k, enums.OrderStatusShipped, enums.OrderStatusConfirmed))
	assert.False(t, CanAdvance(k, enums.OrderStatusDelivered, enums.OrderStatusCancelled))
	assert.False(t, CanAdvance(k, enums.OrderStatusCancelled, enums.OrderStatusShipped))
	assert.False(t, CanAdvance(k, enums.OrderStatusPending, enums.OrderStatusApproved))
}

func TestCanAdvanceCustom(t *testing.T) {
	k := enums.OrderKindCustom
	assert.True(t, CanAdvance(k, enums.OrderStatusApproved, enums.OrderStatusShipped))
	assert.True(t, CanAdvance(k, enums.OrderStatusInProduction, enums.OrderStatusRejected))
	assert.False(t, CanAdvance(k, enums.OrderStatusPending, enums.OrderStatusCancelled))
	assert.False(t, CanAdvance(k, enums.OrderStatusRejected, enums.OrderStatusApproved))
}

func TestStatusesBefore(t *testing.T) {
	assert.ElementsMatch(t,
		[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusConfirmed, enums.OrderStatusProcessing},
		StatusesBefore(enums.OrderKindStandard, enums.OrderStatusShipped))
	assert.ElementsMatch(t,
		[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusConfirmed, enums.OrderStatusProcessing, enums.OrderStatusShipped},
		StatusesBefore(enums.OrderKindStandard, enums.OrderStatusCancelled))
	assert.Empty(t, StatusesBefore(enums.OrderKindStandard, enums.OrderStatusPending))
}

func TestCanAdminSet(t *testing.T) {
	assert.True(t, CanAdminSet(enums.OrderKindCustom, enums.OrderStatusPending, enums.OrderStatusApproved))
	assert.True(t, CanAdminSet(enums.OrderKindCustom, enums.OrderStatusApproved, enums.OrderStatusRejected))
	assert.False(t, CanAdminSet(enums.OrderKindCustom, enums.OrderStatusPending, enums.OrderStatusInProduction))
	assert.False(t, CanAdminSet(enums.OrderKindCustom, enums.OrderStatusDelivered, enums.OrderStatusRejected))
	assert.True(t, CanAdminSet(enums.OrderKindStandard, enums.OrderStatusConfirmed, enums.OrderStatusProcessing))
	assert.False(t, CanAdminSet(enums.OrderKindStandard, enums.OrderStatusPending, enums.OrderStatusDelivered))
}

func TestCanAdminConfirm(t *testing.T) {
	assert.True(t, CanAdminConfirm(enums.PaymentMethodCOD, enums.PaymentStatusPending, enums.OrderStatusConfirmed))
	assert.False(t, CanAdminConfirm(enums.PaymentMethodRazorpay, enums.PaymentStatusPending, enums.OrderStatusConfirmed))
	assert.False(t, CanAdminConfirm(enums.PaymentMethodUPI, enums.PaymentStatusFailed, enums.OrderStatusConfirmed))
	assert.True(t, CanAdminConfirm(enums.PaymentMethodRazorpay, enums.PaymentStatusPaid, enums.OrderStatusConfirmed))
	assert.True(t, CanAdminConfirm(enums.PaymentMethodRazorpay, enums.PaymentStatusPending, enums.OrderStatusProcessing))
}

func TestUserCancellable(t *testing.T) {
	assert.True(t, ContainsStatus(UserCancellable(enums.OrderKindStandard), enums.OrderStatusConfirmed))
	assert.False(t, ContainsStatus(UserCancellable(enums.OrderKindStandard), enums.OrderStatusProcessing))
	assert.Equal(t, []enums.OrderStatus{enums.OrderStatusPending}, UserCancellable(enums.OrderKindCustom))
}
