package arbitraryprocessor

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
)

type staticTurn bool

func (s staticTurn) IsMyTurn(int) bool { return bool(s) }

type fakeProposer struct {
	proposed []*chains.PaymentTransaction
	err      error
}

func (f *fakeProposer) Propose(_ context.Context, tx *chains.PaymentTransaction) error {
	if f.err != nil {
		return f.err
	}
	f.proposed = append(f.proposed, tx)
	return nil
}

type testEnv struct {
	proc     *Processor
	orders   *eventstore.Store
	driver   *chainsmock.Driver
	proposer *fakeProposer
	notes    *notification.Recorder
	now      time.Time
}

func setupTestEnv(t *testing.T, myTurn bool) *testEnv {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	env := &testEnv{
		orders:   eventstore.NewStore(database.Client(), zerolog.Nop()),
		driver:   &chainsmock.Driver{},
		proposer: &fakeProposer{},
		notes:    &notification.Recorder{},
		now:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	registry := chains.NewRegistry(zerolog.Nop())
	require.NoError(t, registry.Register("ergo", env.driver))

	env.proc = New(Config{
		Index:                1,
		Turn:                 staticTurn(myTurn),
		Orders:               env.orders,
		Chains:               registry,
		Agreement:            env.proposer,
		Notifier:             env.notes,
		UnexpectedFailsLimit: 2,
		OrderTimeout:         time.Hour,
		Now:                  func() time.Time { return env.now },
		Logger:               zerolog.Nop(),
	})
	return env
}

func (e *testEnv) submit(t *testing.T, orderID, network string) {
	t.Helper()
	_, err := e.proc.SubmitOrder(context.Background(), orderID, network, []byte(`{"to":"9f...","amount":"100"}`))
	require.NoError(t, err)
}

func (e *testEnv) status(t *testing.T, orderID string) string {
	t.Helper()
	o, err := e.orders.GetOrder(orderID)
	require.NoError(t, err)
	return o.Status
}

func arbitrary(txID, orderID string) chains.GenerateResult {
	return chains.Generated(&chains.PaymentTransaction{TxID: txID, OrderID: orderID, TxType: store.TxTypeArbitrary})
}

func TestSubmitOrder(t *testing.T) {
	env := setupTestEnv(t, false)
	ctx := context.Background()

	order, err := env.proc.SubmitOrder(ctx, "O1", "ergo", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, store.OrderStatusPending, order.Status)
	assert.Equal(t, env.now, order.FirstSeenAt)

	_, err = env.proc.SubmitOrder(ctx, "O1", "ergo", []byte(`{"a":1}`))
	assert.ErrorIs(t, err, eventstore.ErrOrderExists)

	_, err = env.proc.SubmitOrder(ctx, "", "ergo", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = env.proc.SubmitOrder(ctx, "O2", "", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = env.proc.SubmitOrder(ctx, "O2", "ergo", []byte(`{`))
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestProcessOrdersOutsideTurn(t *testing.T) {
	env := setupTestEnv(t, false)
	env.submit(t, "O1", "ergo")

	require.NoError(t, env.proc.ProcessOrders(context.Background()))

	env.driver.AssertNotCalled(t, "GenerateTransaction", mock.Anything, mock.Anything)
}

func TestProcessOrdersProposes(t *testing.T) {
	env := setupTestEnv(t, true)
	env.submit(t, "O1", "ergo")
	env.driver.On("GenerateTransaction", mock.Anything, mock.MatchedBy(func(req chains.GenerateRequest) bool {
		return req.TxType == store.TxTypeArbitrary && req.Order != nil && req.Order.OrderID == "O1"
	})).Return(arbitrary("T1", "O1"))

	require.NoError(t, env.proc.ProcessOrders(context.Background()))

	require.Len(t, env.proposer.proposed, 1)
	assert.Equal(t, "ergo", env.proposer.proposed[0].Network)
	assert.Equal(t, "O1", env.proposer.proposed[0].OwnerID())
}

func TestProcessOrdersRejectsUnknownNetwork(t *testing.T) {
	env := setupTestEnv(t, true)
	env.submit(t, "O1", "bitcoin")

	require.NoError(t, env.proc.ProcessOrders(context.Background()))

	assert.Equal(t, store.OrderStatusRejected, env.status(t, "O1"))
}

func TestProcessOrdersInsufficientFunds(t *testing.T) {
	env := setupTestEnv(t, true)
	env.submit(t, "O1", "ergo")
	env.driver.On("GenerateTransaction", mock.Anything, mock.Anything).Return(chains.InsufficientFunds(errors.New("empty")))

	require.NoError(t, env.proc.ProcessOrders(context.Background()))

	assert.Equal(t, store.OrderStatusWaiting, env.status(t, "O1"))
	assert.Len(t, env.notes.All(), 1)

	require.NoError(t, env.proc.RequeueWaitingOrders(context.Background()))
	assert.Equal(t, store.OrderStatusPending, env.status(t, "O1"))
}

func TestProcessOrdersFatalLeavesOrderPending(t *testing.T) {
	env := setupTestEnv(t, true)
	env.submit(t, "O1", "ergo")
	env.driver.On("GenerateTransaction", mock.Anything, mock.Anything).Return(chains.Fatal(errors.New("bad order body")))

	require.NoError(t, env.proc.ProcessOrders(context.Background()))

	assert.Equal(t, store.OrderStatusPending, env.status(t, "O1"))
	assert.Empty(t, env.proposer.proposed)
}

func TestProcessOrdersReachedLimit(t *testing.T) {
	env := setupTestEnv(t, true)
	env.submit(t, "O1", "ergo")
	require.NoError(t, eventstore.IncrementOrderUnexpectedFails(env.orders.DB(), "O1"))
	require.NoError(t, eventstore.IncrementOrderUnexpectedFails(env.orders.DB(), "O1"))

	require.NoError(t, env.proc.ProcessOrders(context.Background()))

	assert.Equal(t, store.OrderStatusReachedLimit, env.status(t, "O1"))
	env.driver.AssertNotCalled(t, "GenerateTransaction", mock.Anything, mock.Anything)
}

func TestTimeoutLeftoverOrders(t *testing.T) {
	env := setupTestEnv(t, false)
	env.submit(t, "old", "ergo")
	env.now = env.now.Add(30 * time.Minute)
	env.submit(t, "fresh", "ergo")
	env.now = env.now.Add(45 * time.Minute)

	require.NoError(t, env.proc.TimeoutLeftoverOrders(context.Background()))

	assert.Equal(t, store.OrderStatusTimeout, env.status(t, "old"))
	assert.Equal(t, store.OrderStatusPending, env.status(t, "fresh"))
}
