package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventTransitions(t *testing.T) {
	valid := [][2]string{
		{EventStatusPendingPayment, EventStatusInPayment},
		{EventStatusPendingPayment, EventStatusPaymentWaiting},
		{EventStatusPendingPayment, EventStatusRejected},
		{EventStatusPendingPayment, EventStatusReachedLimit},
		{EventStatusPaymentWaiting, EventStatusPendingPayment},
		{EventStatusInPayment, EventStatusPendingReward},
		{EventStatusInPayment, EventStatusPendingPayment},
		{EventStatusPendingReward, EventStatusInReward},
		{EventStatusPendingReward, EventStatusRewardWaiting},
		{EventStatusRewardWaiting, EventStatusPendingReward},
		{EventStatusInReward, EventStatusCompleted},
	}
	for _, tr := range valid {
		assert.True(t, CanTransitionEvent(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]string{
		{EventStatusPendingPayment, EventStatusCompleted},
		{EventStatusPendingPayment, EventStatusInReward},
		{EventStatusInPayment, EventStatusCompleted},
		{EventStatusCompleted, EventStatusPendingPayment},
		{EventStatusRejected, EventStatusPendingPayment},
		{EventStatusTimeout, EventStatusPendingPayment},
		{EventStatusPendingPayment, "bogus"},
	}
	for _, tr := range invalid {
		assert.False(t, CanTransitionEvent(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestOrderTransitions(t *testing.T) {
	assert.True(t, CanTransitionOrder(OrderStatusPending, OrderStatusInProgress))
	assert.True(t, CanTransitionOrder(OrderStatusPending, OrderStatusWaiting))
	assert.True(t, CanTransitionOrder(OrderStatusWaiting, OrderStatusPending))
	assert.True(t, CanTransitionOrder(OrderStatusInProgress, OrderStatusCompleted))
	assert.True(t, CanTransitionOrder(OrderStatusInProgress, OrderStatusPending))

	assert.False(t, CanTransitionOrder(OrderStatusPending, OrderStatusCompleted))
	assert.False(t, CanTransitionOrder(OrderStatusCompleted, OrderStatusPending))
}

func TestTxTransitions(t *testing.T) {
	assert.True(t, CanTransitionTx(TxStatusApproved, TxStatusInSign))
	assert.True(t, CanTransitionTx(TxStatusInSign, TxStatusSigned))
	assert.True(t, CanTransitionTx(TxStatusInSign, TxStatusSignFailed))
	assert.True(t, CanTransitionTx(TxStatusSignFailed, TxStatusInSign))
	assert.True(t, CanTransitionTx(TxStatusSignFailed, TxStatusInvalid))
	assert.True(t, CanTransitionTx(TxStatusSigned, TxStatusSent))
	assert.True(t, CanTransitionTx(TxStatusSent, TxStatusCompleted))
	assert.True(t, CanTransitionTx(TxStatusSent, TxStatusInvalid))

	assert.False(t, CanTransitionTx(TxStatusApproved, TxStatusSent))
	assert.False(t, CanTransitionTx(TxStatusCompleted, TxStatusInvalid))
	assert.False(t, CanTransitionTx(TxStatusInvalid, TxStatusApproved))
}

func TestSourcesFor(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{EventStatusPendingPayment, EventStatusPendingReward, EventStatusPaymentWaiting, EventStatusRewardWaiting},
		EventSourcesFor(EventStatusTimeout))
	assert.ElementsMatch(t, []string{TxStatusSignFailed, TxStatusSent}, TxSourcesFor(TxStatusInvalid))
	assert.ElementsMatch(t, []string{OrderStatusPending, OrderStatusWaiting}, OrderSourcesFor(OrderStatusTimeout))
	assert.Empty(t, EventSourcesFor("bogus"))
}

func TestInProgressEventStatus(t *testing.T) {
	pending, inProgress, ok := InProgressEventStatus(TxTypePayment)
	assert.True(t, ok)
	assert.Equal(t, EventStatusPendingPayment, pending)
	assert.Equal(t, EventStatusInPayment, inProgress)

	pending, inProgress, ok = InProgressEventStatus(TxTypeReward)
	assert.True(t, ok)
	assert.Equal(t, EventStatusPendingReward, pending)
	assert.Equal(t, EventStatusInReward, inProgress)

	_, _, ok = InProgressEventStatus(TxTypeColdStorage)
	assert.False(t, ok)
}

func TestIsTerminalEventStatus(t *testing.T) {
	for _, s := range []string{EventStatusCompleted, EventStatusRejected, EventStatusTimeout, EventStatusSpent, EventStatusReachedLimit} {
		assert.True(t, IsTerminalEventStatus(s), s)
	}
	assert.False(t, IsTerminalEventStatus(EventStatusPendingPayment))
}

func TestTransactionOwnerID(t *testing.T) {
	tx := Transaction{TxType: TxTypeArbitrary, OrderID: "o1", EventID: ""}
	assert.Equal(t, "o1", tx.OwnerID())

	tx = Transaction{TxType: TxTypePayment, EventID: "e1"}
	assert.Equal(t, "e1", tx.OwnerID())
}
