package txprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/bridge-guard/guard/chains"
	chainsmock "github.com/pushchain/bridge-guard/guard/chains/mock"
	"github.com/pushchain/bridge-guard/guard/db"
	"github.com/pushchain/bridge-guard/guard/eventstore"
	"github.com/pushchain/bridge-guard/guard/notification"
	"github.com/pushchain/bridge-guard/guard/store"
	"github.com/pushchain/bridge-guard/guard/txstore"
)

type testEnv struct {
	proc   *Processor
	events *eventstore.Store
	txs    *txstore.Store
	driver *chainsmock.Driver
	notes  *notification.Recorder
	now    time.Time
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	env := &testEnv{
		events: eventstore.NewStore(database.Client(), zerolog.Nop()),
		txs:    txstore.NewStore(database.Client(), zerolog.Nop()),
		driver: &chainsmock.Driver{},
		notes:  &notification.Recorder{},
		now:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	registry := chains.NewRegistry(zerolog.Nop())
	require.NoError(t, registry.Register("cardano", env.driver))

	env.proc = New(Config{
		Transactions: env.txs,
		Chains:       registry,
		Notifier:     env.notes,
		SignTimeout:  5 * time.Minute,
		Now:          func() time.Time { return env.now },
		Logger:       zerolog.Nop(),
	})
	return env
}

// addTransaction stores an approved transaction of txType for a fresh event and forces it into status.
func (e *testEnv) addTransaction(t *testing.T, txID, eventID, txType, status string) {
	t.Helper()
	_, err := e.events.InsertConfirmedEvent(&store.Event{
		EventID:    eventID,
		FromChain:  "ergo",
		ToChain:    "cardano",
		SourceTxID: "src-" + eventID,
	})
	require.NoError(t, err)
	if txType == store.TxTypeReward {
		e.forceEvent(t, eventID, store.EventStatusPendingReward)
	}

	stored, err := e.txs.InsertApprovedTransaction(&store.Transaction{
		TxID:    txID,
		Network: "cardano",
		EventID: eventID,
		TxType:  txType,
		TxBytes: []byte("unsigned-" + txID),
	})
	require.NoError(t, err)
	require.True(t, stored)
	e.forceTx(t, txID, map[string]any{"status": status})
}

func (e *testEnv) forceTx(t *testing.T, txID string, updates map[string]any) {
	t.Helper()
	require.NoError(t, e.events.DB().Model(&store.Transaction{}).Where("tx_id = ?", txID).Updates(updates).Error)
}

func (e *testEnv) forceEvent(t *testing.T, eventID, status string) {
	t.Helper()
	require.NoError(t, e.events.DB().Model(&store.Event{}).Where("event_id = ?", eventID).Update("status", status).Error)
}

func (e *testEnv) tx(t *testing.T, txID string) *store.Transaction {
	t.Helper()
	tx, err := e.txs.GetTransaction(txID)
	require.NoError(t, err)
	return tx
}

func (e *testEnv) event(t *testing.T, eventID string) *store.Event {
	t.Helper()
	ev, err := e.events.GetEvent(eventID)
	require.NoError(t, err)
	return ev
}

func (e *testEnv) sweep(t *testing.T) {
	t.Helper()
	require.NoError(t, e.proc.ProcessTransactions(context.Background()))
	e.proc.Wait()
}

func signedCopy(tx *chains.PaymentTransaction) *chains.PaymentTransaction {
	out := *tx
	out.TxBytes = []byte("signed-" + tx.TxID)
	return &out
}

func TestApprovedIsSignedInBackground(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "T1", "E1", store.TxTypePayment, store.TxStatusApproved)
	env.driver.On("SignTransaction", mock.Anything, mock.Anything).
		Return(func(_ context.Context, tx *chains.PaymentTransaction) *chains.PaymentTransaction { return signedCopy(tx) }, nil)

	env.sweep(t)

	tx := env.tx(t, "T1")
	assert.Equal(t, store.TxStatusSigned, tx.Status)
	assert.Equal(t, []byte("signed-T1"), tx.TxBytes)
	require.NotNil(t, tx.SignRequestedAt)
	assert.True(t, env.now.Equal(*tx.SignRequestedAt))
}

func TestSignErrorMarksSignFailed(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "T1", "E1", store.TxTypePayment, store.TxStatusApproved)
	env.driver.On("SignTransaction", mock.Anything, mock.Anything).Return(nil, errors.New("signer unreachable"))

	env.sweep(t)

	tx := env.tx(t, "T1")
	assert.Equal(t, store.TxStatusSignFailed, tx.Status)
	assert.True(t, tx.FailedInSign)
}

func TestSignTimeout(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "stale", "E1", store.TxTypePayment, store.TxStatusInSign)
	env.forceTx(t, "stale", map[string]any{"sign_requested_at": env.now.Add(-10 * time.Minute)})
	env.addTransaction(t, "recent", "E2", store.TxTypePayment, store.TxStatusInSign)
	env.forceTx(t, "recent", map[string]any{"sign_requested_at": env.now.Add(-time.Minute)})

	env.sweep(t)

	assert.Equal(t, store.TxStatusSignFailed, env.tx(t, "stale").Status)
	assert.Equal(t, store.TxStatusInSign, env.tx(t, "recent").Status)
}

func TestSignedIsSubmitted(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "T1", "E1", store.TxTypePayment, store.TxStatusSigned)
	env.driver.On("GetHeight", mock.Anything).Return(uint64(100), nil)
	env.driver.On("SubmitTransaction", mock.Anything, mock.Anything).Return(errors.New("node busy")).Once()
	env.driver.On("SubmitTransaction", mock.Anything, mock.Anything).Return(nil)

	env.sweep(t)
	assert.Equal(t, store.TxStatusSigned, env.tx(t, "T1").Status, "a failed submission is retried next sweep")

	env.sweep(t)
	tx := env.tx(t, "T1")
	assert.Equal(t, store.TxStatusSent, tx.Status)
	assert.Equal(t, uint64(100), tx.LastCheck)
}

func TestSentConfirmedCompletesOwner(t *testing.T) {
	cases := []struct {
		txType      string
		eventStatus string
	}{
		{store.TxTypePayment, store.EventStatusPendingReward},
		{store.TxTypeReward, store.EventStatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.txType, func(t *testing.T) {
			env := setupTestEnv(t)
			env.addTransaction(t, "T1", "E1", tc.txType, store.TxStatusSent)
			env.driver.On("GetTxConfirmationStatus", mock.Anything, "T1", tc.txType).Return(chains.ConfirmedEnough, nil)

			env.sweep(t)

			assert.Equal(t, store.TxStatusCompleted, env.tx(t, "T1").Status)
			assert.Equal(t, tc.eventStatus, env.event(t, "E1").Status)
		})
	}
}

func TestSentArbitraryCompletesOrder(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.events.InsertOrder(&store.Order{OrderID: "O1", Network: "cardano", OrderJSON: []byte(`{}`)}))
	stored, err := env.txs.InsertApprovedTransaction(&store.Transaction{
		TxID: "T1", Network: "cardano", OrderID: "O1", TxType: store.TxTypeArbitrary,
	})
	require.NoError(t, err)
	require.True(t, stored)
	env.forceTx(t, "T1", map[string]any{"status": store.TxStatusSent})
	env.driver.On("GetTxConfirmationStatus", mock.Anything, "T1", store.TxTypeArbitrary).Return(chains.ConfirmedEnough, nil)

	env.sweep(t)

	order, err := env.events.GetOrder("O1")
	require.NoError(t, err)
	assert.Equal(t, store.OrderStatusCompleted, order.Status)
}

func TestSentPendingRefreshesLastCheck(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "waiting", "E1", store.TxTypePayment, store.TxStatusSent)
	env.addTransaction(t, "mempool", "E2", store.TxTypePayment, store.TxStatusSent)
	env.driver.On("GetTxConfirmationStatus", mock.Anything, "waiting", mock.Anything).Return(chains.NotConfirmedEnough, nil)
	env.driver.On("GetTxConfirmationStatus", mock.Anything, "mempool", mock.Anything).Return(chains.NotFound, nil)
	env.driver.On("IsTxInMempool", mock.Anything, "mempool").Return(true, nil)
	env.driver.On("GetHeight", mock.Anything).Return(uint64(120), nil)

	env.sweep(t)

	for _, id := range []string{"waiting", "mempool"} {
		tx := env.tx(t, id)
		assert.Equal(t, store.TxStatusSent, tx.Status)
		assert.Equal(t, uint64(120), tx.LastCheck)
	}
	env.driver.AssertNotCalled(t, "IsTxValid", mock.Anything, mock.Anything)
}

func TestSentVanishedButValidIsResubmitted(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "T1", "E1", store.TxTypePayment, store.TxStatusSent)
	env.driver.On("GetTxConfirmationStatus", mock.Anything, "T1", mock.Anything).Return(chains.NotFound, nil)
	env.driver.On("IsTxInMempool", mock.Anything, "T1").Return(false, nil)
	env.driver.On("IsTxValid", mock.Anything, mock.Anything).Return(chains.Validity{Valid: true}, nil)
	env.driver.On("SubmitTransaction", mock.Anything, mock.MatchedBy(func(tx *chains.PaymentTransaction) bool {
		return tx.TxID == "T1"
	})).Return(nil)

	env.sweep(t)

	assert.Equal(t, store.TxStatusSent, env.tx(t, "T1").Status)
	env.driver.AssertNumberOfCalls(t, "SubmitTransaction", 1)
}

func TestInvalidationWaitsForConfirmations(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "T1", "E1", store.TxTypePayment, store.TxStatusSent)
	env.forceTx(t, "T1", map[string]any{"last_check": uint64(100)})
	env.driver.On("GetTxConfirmationStatus", mock.Anything, "T1", mock.Anything).Return(chains.NotFound, nil)
	env.driver.On("IsTxInMempool", mock.Anything, "T1").Return(false, nil)
	env.driver.On("IsTxValid", mock.Anything, mock.Anything).
		Return(chains.Validity{Valid: false, Reason: "inputs spent by T1 itself"}, nil)
	env.driver.On("GetTxRequiredConfirmation", store.TxTypePayment).Return(uint64(10))
	env.driver.On("GetHeight", mock.Anything).Return(uint64(105), nil).Once()
	env.driver.On("GetHeight", mock.Anything).Return(uint64(110), nil)

	env.sweep(t)
	assert.Equal(t, store.TxStatusSent, env.tx(t, "T1").Status, "five blocks are not enough to give up")
	assert.Equal(t, store.EventStatusInPayment, env.event(t, "E1").Status)

	env.sweep(t)
	assert.Equal(t, store.TxStatusInvalid, env.tx(t, "T1").Status)
	ev := env.event(t, "E1")
	assert.Equal(t, store.EventStatusPendingPayment, ev.Status)
	assert.Equal(t, 0, ev.UnexpectedFails, "an expected invalidation does not count")
	assert.Empty(t, env.notes.All())
}

func TestSignFailedUnexpectedInvalidation(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "T1", "E1", store.TxTypePayment, store.TxStatusSignFailed)
	env.driver.On("GetTxConfirmationStatus", mock.Anything, "T1", mock.Anything).Return(chains.NotFound, nil)
	env.driver.On("IsTxInMempool", mock.Anything, "T1").Return(false, nil)
	env.driver.On("IsTxValid", mock.Anything, mock.Anything).
		Return(chains.Validity{Valid: false, Reason: "script rejected", Unexpected: true}, nil)
	env.driver.On("GetTxRequiredConfirmation", store.TxTypePayment).Return(uint64(10))
	env.driver.On("GetHeight", mock.Anything).Return(uint64(50), nil)

	env.sweep(t)

	assert.Equal(t, store.TxStatusInvalid, env.tx(t, "T1").Status)
	ev := env.event(t, "E1")
	assert.Equal(t, store.EventStatusPendingPayment, ev.Status)
	assert.Equal(t, 1, ev.UnexpectedFails)
	notes := env.notes.All()
	require.Len(t, notes, 1)
	assert.Equal(t, notification.SeverityError, notes[0].Severity)
	assert.Contains(t, notes[0].Message, "script rejected")
}

func TestSignFailedFoundOnChain(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "confirmed", "E1", store.TxTypePayment, store.TxStatusSignFailed)
	env.addTransaction(t, "mempool", "E2", store.TxTypePayment, store.TxStatusSignFailed)
	env.driver.On("GetTxConfirmationStatus", mock.Anything, "confirmed", mock.Anything).Return(chains.NotConfirmedEnough, nil)
	env.driver.On("GetTxConfirmationStatus", mock.Anything, "mempool", mock.Anything).Return(chains.NotFound, nil)
	env.driver.On("IsTxInMempool", mock.Anything, "mempool").Return(true, nil)
	env.driver.On("GetHeight", mock.Anything).Return(uint64(77), nil)

	env.sweep(t)

	for _, id := range []string{"confirmed", "mempool"} {
		tx := env.tx(t, id)
		assert.Equal(t, store.TxStatusSent, tx.Status, id)
		assert.Equal(t, uint64(77), tx.LastCheck, id)
	}
}

func TestSignFailedStillValidIsSignedAgain(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "T1", "E1", store.TxTypePayment, store.TxStatusSignFailed)
	env.driver.On("GetTxConfirmationStatus", mock.Anything, "T1", mock.Anything).Return(chains.NotFound, nil)
	env.driver.On("IsTxInMempool", mock.Anything, "T1").Return(false, nil)
	env.driver.On("IsTxValid", mock.Anything, mock.Anything).Return(chains.Validity{Valid: true}, nil)
	env.driver.On("SignTransaction", mock.Anything, mock.Anything).
		Return(func(_ context.Context, tx *chains.PaymentTransaction) *chains.PaymentTransaction { return signedCopy(tx) }, nil)

	env.sweep(t)

	assert.Equal(t, store.TxStatusSigned, env.tx(t, "T1").Status)
}

func TestUnknownNetworkDoesNotStopSweep(t *testing.T) {
	env := setupTestEnv(t)
	env.addTransaction(t, "orphan", "E1", store.TxTypePayment, store.TxStatusSigned)
	env.forceTx(t, "orphan", map[string]any{"network": "bitcoin"})
	env.addTransaction(t, "T2", "E2", store.TxTypePayment, store.TxStatusSigned)
	env.driver.On("GetHeight", mock.Anything).Return(uint64(1), nil)
	env.driver.On("SubmitTransaction", mock.Anything, mock.Anything).Return(nil)

	env.sweep(t)

	assert.Equal(t, store.TxStatusSigned, env.tx(t, "orphan").Status)
	assert.Equal(t, store.TxStatusSent, env.tx(t, "T2").Status)
}
