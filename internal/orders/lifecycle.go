package orders

import "github.com/covercraft/covercraft-backend/pkg/enums"

// Forward rank of each status per kind. Abort statuses have no rank.
var statusRank = map[enums.OrderKind]map[enums.OrderStatus]int{
	enums.OrderKindStandard: {
		enums.OrderStatusPending:    0,
		enums.OrderStatusConfirmed:  1,
		enums.OrderStatusProcessing: 2,
		enums.OrderStatusShipped:    3,
		enums.OrderStatusDelivered:  4,
	},
	enums.OrderKindCustom: {
		enums.OrderStatusPending:      0,
		enums.OrderStatusApproved:     1,
		enums.OrderStatusInProduction: 2,
		enums.OrderStatusShipped:      3,
		enums.OrderStatusDelivered:    4,
	},
}

// adminSteps are the manual transitions an operator may drive.
var adminSteps = map[enums.OrderKind]map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderKindStandard: {
		enums.OrderStatusPending:    {enums.OrderStatusConfirmed},
		enums.OrderStatusConfirmed:  {enums.OrderStatusProcessing},
		enums.OrderStatusProcessing: {enums.OrderStatusShipped},
		enums.OrderStatusShipped:    {enums.OrderStatusDelivered},
	},
	enums.OrderKindCustom: {
		enums.OrderStatusPending:      {enums.OrderStatusApproved, enums.OrderStatusRejected},
		enums.OrderStatusApproved:     {enums.OrderStatusInProduction, enums.OrderStatusRejected},
		enums.OrderStatusInProduction: {enums.OrderStatusShipped, enums.OrderStatusRejected},
		enums.OrderStatusShipped:      {enums.OrderStatusDelivered},
	},
}

// CanAdvance reports whether to is strictly ahead of from, or is the abort
// status reached from a non-terminal state.
func CanAdvance(kind enums.OrderKind, from, to enums.OrderStatus) bool {
	if from.IsTerminal() || !to.IsValidFor(kind) {
		return false
	}
	if to == enums.AbortStatus(kind) {
		return true
	}
	ranks := statusRank[kind]
	fromRank, okFrom := ranks[from]
	toRank, okTo := ranks[to]
	return okFrom && okTo && toRank > fromRank
}

// StatusesBefore lists the non-terminal statuses from which to is reachable.
// It feeds the guarded UPDATE ... WHERE status IN (...).
func StatusesBefore(kind enums.OrderKind, to enums.OrderStatus) []enums.OrderStatus {
	out := []enums.OrderStatus{}
	for _, from := range enums.StatusesFor(kind) {
		if CanAdvance(kind, from, to) {
			out = append(out, from)
		}
	}
	return out
}

// CanAdminSet reports whether an operator may move an order from one status to another.
func CanAdminSet(kind enums.OrderKind, from, to enums.OrderStatus) bool {
	for _, allowed := range adminSteps[kind][from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanAdminConfirm reports whether an operator may confirm an order by hand.
// Only cash on delivery orders are confirmed manually; prepaid orders reach
// confirmed through the paid transition.
func CanAdminConfirm(method enums.PaymentMethod, payment enums.PaymentStatus, to enums.OrderStatus) bool {
	if to != enums.OrderStatusConfirmed {
		return true
	}
	return !method.RequiresGateway() || payment == enums.PaymentStatusPaid
}

// UserCancellable lists the statuses a buyer may cancel from.
func UserCancellable(kind enums.OrderKind) []enums.OrderStatus {
	if kind == enums.OrderKindCustom {
		return []enums.OrderStatus{enums.OrderStatusPending}
	}
	return []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusConfirmed}
}

// NonTerminal lists every status an order can still leave.
func NonTerminal(kind enums.OrderKind) []enums.OrderStatus {
	out := []enums.OrderStatus{}
	for _, s := range enums.StatusesFor(kind) {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// Deletable lists the statuses admin cleanup may remove.
var Deletable = []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusRejected}

// ContainsStatus reports whether s is in list.
func ContainsStatus(list []enums.OrderStatus, s enums.OrderStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
