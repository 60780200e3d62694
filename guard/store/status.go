package store

// Event statuses.
const (
	EventStatusPendingPayment = "pending-payment"
	EventStatusPaymentWaiting = "payment-waiting"
	EventStatusInPayment      = "in-payment"
	EventStatusPendingReward  = "pending-reward"
	EventStatusRewardWaiting  = "reward-waiting"
	EventStatusInReward       = "in-reward"
	EventStatusCompleted      = "completed"
	EventStatusRejected       = "rejected"
	EventStatusTimeout        = "timeout"
	// EventStatusSpent is only written through eventstore.UpdateEventStatus. No driver call reports a
	// lock box spent outside the bridge.
	EventStatusSpent          = "spent"
	EventStatusReachedLimit   = "reached-limit"
)

// Order statuses.
const (
	OrderStatusPending      = "pending"
	OrderStatusWaiting      = "waiting"
	OrderStatusInProgress   = "in-progress"
	OrderStatusCompleted    = "completed"
	OrderStatusRejected     = "rejected"
	OrderStatusTimeout      = "timeout"
	OrderStatusReachedLimit = "reached-limit"
)

// Transaction statuses.
const (
	TxStatusApproved   = "approved"
	TxStatusInSign     = "in-sign"
	TxStatusSignFailed = "sign-failed"
	TxStatusSigned     = "signed"
	TxStatusSent       = "sent"
	TxStatusCompleted  = "completed"
	TxStatusInvalid    = "invalid"
)

// Transaction types.
const (
	TxTypePayment     = "payment"
	TxTypeReward      = "reward"
	TxTypeColdStorage = "coldStorage"
	TxTypeManual      = "manual"
	TxTypeArbitrary   = "arbitrary"
)

var eventTransitions = map[string][]string{
	EventStatusPendingPayment: {
		EventStatusInPayment, EventStatusPaymentWaiting, EventStatusRejected,
		EventStatusTimeout, EventStatusSpent, EventStatusReachedLimit,
	},
	EventStatusPaymentWaiting: {EventStatusPendingPayment, EventStatusTimeout},
	EventStatusInPayment:      {EventStatusPendingReward, EventStatusPendingPayment},
	EventStatusPendingReward: {
		EventStatusInReward, EventStatusRewardWaiting, EventStatusTimeout,
		EventStatusSpent, EventStatusReachedLimit,
	},
	EventStatusRewardWaiting: {EventStatusPendingReward, EventStatusTimeout},
	EventStatusInReward:      {EventStatusCompleted, EventStatusPendingReward},
}

var orderTransitions = map[string][]string{
	OrderStatusPending: {
		OrderStatusInProgress, OrderStatusWaiting, OrderStatusRejected,
		OrderStatusTimeout, OrderStatusReachedLimit,
	},
	OrderStatusWaiting:    {OrderStatusPending, OrderStatusTimeout},
	OrderStatusInProgress: {OrderStatusCompleted, OrderStatusPending},
}

var txTransitions = map[string][]string{
	TxStatusApproved:   {TxStatusInSign},
	TxStatusInSign:     {TxStatusSigned, TxStatusSignFailed},
	TxStatusSignFailed: {TxStatusInSign, TxStatusSent, TxStatusInvalid},
	TxStatusSigned:     {TxStatusSent},
	TxStatusSent:       {TxStatusCompleted, TxStatusInvalid},
}

func allowed(table map[string][]string, from, to string) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionEvent reports whether an event may move from one status to another.
func CanTransitionEvent(from, to string) bool { return allowed(eventTransitions, from, to) }

// CanTransitionOrder reports whether an order may move from one status to another.
func CanTransitionOrder(from, to string) bool { return allowed(orderTransitions, from, to) }

// CanTransitionTx reports whether a transaction may move from one status to another.
func CanTransitionTx(from, to string) bool { return allowed(txTransitions, from, to) }

// EventSourcesFor lists every event status that may legally move to the given status.
func EventSourcesFor(to string) []string { return sourcesFor(eventTransitions, to) }

// OrderSourcesFor lists every order status that may legally move to the given status.
func OrderSourcesFor(to string) []string { return sourcesFor(orderTransitions, to) }

// TxSourcesFor lists every transaction status that may legally move to the given status.
func TxSourcesFor(to string) []string { return sourcesFor(txTransitions, to) }

func sourcesFor(table map[string][]string, to string) []string {
	var out []string
	for from, nexts := range table {
		for _, next := range nexts {
			if next == to {
				out = append(out, from)
				break
			}
		}
	}
	return out
}

// ActiveTxStatuses are the statuses of a transaction that still owns its event/order.
var ActiveTxStatuses = []string{
	TxStatusApproved, TxStatusInSign, TxStatusSignFailed, TxStatusSigned, TxStatusSent, TxStatusCompleted,
}

// UnfinishedTxStatuses are the statuses the transaction processor drives forward.
var UnfinishedTxStatuses = []string{
	TxStatusApproved, TxStatusInSign, TxStatusSignFailed, TxStatusSigned, TxStatusSent,
}

// InProgressEventStatus maps a transaction type to the status its owning event takes while the
// transaction is active. The boolean is false for types that do not own an event phase.
func InProgressEventStatus(txType string) (pending, inProgress string, ok bool) {
	switch txType {
	case TxTypePayment:
		return EventStatusPendingPayment, EventStatusInPayment, true
	case TxTypeReward:
		return EventStatusPendingReward, EventStatusInReward, true
	default:
		return "", "", false
	}
}

// IsTerminalEventStatus reports whether no further automatic transition leaves the status.
func IsTerminalEventStatus(status string) bool {
	_, ok := eventTransitions[status]
	return !ok
}
