package enums

import "fmt"

// RefundStatus tracks refund bookkeeping for an order.
type RefundStatus string

const (
	RefundStatusNone       RefundStatus = "none"
	RefundStatusRequested  RefundStatus = "requested"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

var validRefundStatuss = []RefundStatus{
	RefundStatusNone,
	RefundStatusRequested,
	RefundStatusProcessing,
	RefundStatusCompleted,
	RefundStatusFailed,
}

// String implements fmt.Stringer.
func (v RefundStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known RefundStatus.
func (v RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuss {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}

// Retryable reports whether the refund is still owed to the buyer.
func (v RefundStatus) Retryable() bool {
	return v == RefundStatusRequested || v == RefundStatusFailed
}
