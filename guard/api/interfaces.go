package api

import (
	"context"

	"github.com/pushchain/bridge-guard/guard/store"
)

// EventReader lists stored events and orders.
type EventReader interface {
	GetEventsByStatus(statuses []string, limit int) ([]store.Event, error)
	GetOrder(orderID string) (*store.Order, error)
}

// TransactionReader lists agreed transactions.
type TransactionReader interface {
	GetTransactionsByStatus(statuses []string) ([]store.Transaction, error)
}

// OrderSubmitter accepts externally submitted orders.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, orderID, network string, orderJSON []byte) (*store.Order, error)
}

// TurnSource reports the proposer slot.
type TurnSource interface {
	GuardCount() int
	ActiveGuard() int
	SecondsUntilTurnEnds() int64
	SecondsUntilCycleReset() int64
}
