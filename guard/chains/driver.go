// Package chains defines the chain-agnostic contract every supported network implements, and the
// registry the guard uses to look drivers up by network name.
package chains

import (
	"context"

	"github.com/pushchain/bridge-guard/guard/store"
)

// Driver generates, signs, submits and confirms transactions on one network.
// Implementations live outside the guard core.
type Driver interface {
	// GenerateTransaction builds the payment, reward or arbitrary transaction for an event or order.
	GenerateTransaction(ctx context.Context, req GenerateRequest) GenerateResult

	// VerifyEvent checks the lock transaction on the source chain against the event's claimed fields.
	VerifyEvent(ctx context.Context, event *store.Event) (bool, error)

	// VerifyTransactionAgainstSource checks a proposed transaction against the event or order it pays.
	VerifyTransactionAgainstSource(ctx context.Context, tx *PaymentTransaction, source Source) (bool, error)

	// SignTransaction returns the transaction with its threshold signature attached.
	SignTransaction(ctx context.Context, tx *PaymentTransaction) (*PaymentTransaction, error)

	// SubmitTransaction sends a signed transaction to the network.
	SubmitTransaction(ctx context.Context, tx *PaymentTransaction) error

	// GetTxConfirmationStatus reports how far the transaction is confirmed.
	GetTxConfirmationStatus(ctx context.Context, txID string, txType string) (ConfirmationStatus, error)

	// IsTxInMempool reports whether the transaction is waiting in the network mempool.
	IsTxInMempool(ctx context.Context, txID string) (bool, error)

	// IsTxValid reports whether the transaction can still be included in a block.
	IsTxValid(ctx context.Context, tx *PaymentTransaction) (Validity, error)

	// GetHeight returns the current height of the network.
	GetHeight(ctx context.Context) (uint64, error)

	// GetTxRequiredConfirmation returns the number of blocks a transaction of the given type needs.
	GetTxRequiredConfirmation(txType string) uint64
}

// ConfirmationStatus is the on-chain state of a submitted transaction.
type ConfirmationStatus int

const (
	NotFound ConfirmationStatus = iota
	NotConfirmedEnough
	ConfirmedEnough
)

func (s ConfirmationStatus) String() string {
	switch s {
	case NotFound:
		return "not-found"
	case NotConfirmedEnough:
		return "not-confirmed-enough"
	case ConfirmedEnough:
		return "confirmed-enough"
	default:
		return "unknown"
	}
}

// Validity is the result of re-validating a transaction against current chain state.
// Unexpected is set when the chain rejects a transaction the guard believed valid.
type Validity struct {
	Valid      bool
	Reason     string
	Unexpected bool
}

// Source is the record a transaction pays out. Exactly one of Event and Order is set.
type Source struct {
	Event *store.Event
	Order *store.Order
}

// GenerateRequest asks a driver to build a transaction for an event or order.
type GenerateRequest struct {
	TxType string
	Event  *store.Event
	Order  *store.Order
}

// Outcome tags the result of GenerateTransaction.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeInsufficientFunds means the custody address cannot cover the transaction yet.
	OutcomeInsufficientFunds
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeInsufficientFunds:
		return "insufficient-funds"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// GenerateResult is what a driver returns for a generation request. Tx is set only for OutcomeOK.
type GenerateResult struct {
	Outcome Outcome
	Tx      *PaymentTransaction
	Err     error
}

// Generated wraps a successfully built transaction.
func Generated(tx *PaymentTransaction) GenerateResult {
	return GenerateResult{Outcome: OutcomeOK, Tx: tx}
}

// InsufficientFunds reports that the custody address lacks the assets for the transaction.
func InsufficientFunds(err error) GenerateResult {
	return GenerateResult{Outcome: OutcomeInsufficientFunds, Err: err}
}

// Fatal reports any other generation failure.
func Fatal(err error) GenerateResult {
	return GenerateResult{Outcome: OutcomeFatal, Err: err}
}
