// Package mock provides a testify-backed chains.Driver for tests.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pushchain/bridge-guard/guard/chains"
	"github.com/pushchain/bridge-guard/guard/store"
)

// Driver is a mock chains.Driver.
type Driver struct{ mock.Mock }

var _ chains.Driver = (*Driver)(nil)

func (m *Driver) GenerateTransaction(ctx context.Context, req chains.GenerateRequest) chains.GenerateResult {
	args := m.Called(ctx, req)
	return args.Get(0).(chains.GenerateResult)
}

func (m *Driver) VerifyEvent(ctx context.Context, event *store.Event) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

func (m *Driver) VerifyTransactionAgainstSource(ctx context.Context, tx *chains.PaymentTransaction, source chains.Source) (bool, error) {
	args := m.Called(ctx, tx, source)
	return args.Bool(0), args.Error(1)
}

func (m *Driver) SignTransaction(ctx context.Context, tx *chains.PaymentTransaction) (*chains.PaymentTransaction, error) {
	args := m.Called(ctx, tx)
	if fn, ok := args.Get(0).(func(context.Context, *chains.PaymentTransaction) *chains.PaymentTransaction); ok {
		return fn(ctx, tx), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chains.PaymentTransaction), args.Error(1)
}

func (m *Driver) SubmitTransaction(ctx context.Context, tx *chains.PaymentTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *Driver) GetTxConfirmationStatus(ctx context.Context, txID string, txType string) (chains.ConfirmationStatus, error) {
	args := m.Called(ctx, txID, txType)
	return args.Get(0).(chains.ConfirmationStatus), args.Error(1)
}

func (m *Driver) IsTxInMempool(ctx context.Context, txID string) (bool, error) {
	args := m.Called(ctx, txID)
	return args.Bool(0), args.Error(1)
}

func (m *Driver) IsTxValid(ctx context.Context, tx *chains.PaymentTransaction) (chains.Validity, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(chains.Validity), args.Error(1)
}

func (m *Driver) GetHeight(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *Driver) GetTxRequiredConfirmation(txType string) uint64 {
	args := m.Called(txType)
	return args.Get(0).(uint64)
}
