// Package txprocessor drives approved transactions through signing, submission and confirmation.
//
// Every sweep loads the unfinished transactions and advances each by at most one step:
//
//	approved    -> in-sign      signing requested, runs in the background
//	in-sign     -> sign-failed  signer did not answer within the sign timeout
//	sign-failed -> sent         transaction turned up on chain or in the mempool anyway
//	sign-failed -> in-sign      still valid, signing requested again
//	sign-failed -> invalid      no longer valid
//	signed      -> sent         submitted to the network
//	sent        -> completed    confirmed enough, the owner advances
//	sent        -> invalid      gone from the chain and no longer valid
package txprocessor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/bridge-guard/guard/chains"
	guarderrors "github.com/pushchain/bridge-guard/guard/errors"
	"github.com/pushchain/bridge-guard/guard/metrics"
	"github.com/pushchain/bridge-guard/guard/notification"
	"github.com/pushchain/bridge-guard/guard/store"
	"github.com/pushchain/bridge-guard/guard/txstore"
)

const defaultSignTimeout = 5 * time.Minute

// Config holds configuration for the transaction processor.
type Config struct {
	Transactions *txstore.Store
	Chains       *chains.Registry
	Notifier     notification.Notifier
	SignTimeout  time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Processor advances approved transactions to a terminal status.
type Processor struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	signing map[string]struct{}
	wg      sync.WaitGroup
}

// New creates a new transaction processor.
func New(cfg Config) *Processor {
	if cfg.SignTimeout <= 0 {
		cfg.SignTimeout = defaultSignTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "tx_processor").Logger(),
		signing: make(map[string]struct{}),
	}
}

// Wait blocks until every signing request started by this processor has returned.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// ProcessTransactions advances every unfinished transaction by one step. A failing transaction is
// logged and left for the next sweep without affecting the others.
func (p *Processor) ProcessTransactions(ctx context.Context) error {
	txs, err := p.cfg.Transactions.GetUnfinishedTransactions()
	if err != nil {
		return errors.Wrap(err, "failed to load unfinished transactions")
	}

	for i := range txs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tx := &txs[i]
		if err := p.processTransaction(ctx, tx); err != nil {
			metrics.SweepErrors.WithLabelValues("process_transactions").Inc()
			p.logger.Error().
				Err(err).
				Str("tx_id", tx.TxID).
				Str("status", tx.Status).
				Str("network", tx.Network).
				Msg("failed to process transaction")
			if guarderrors.IsInvariant(err) {
				p.cfg.Notifier.Notify(ctx, notification.SeverityCritical, "Invariant violation",
					fmt.Sprintf("transaction %s: %v", tx.TxID, err))
			}
		}
	}
	return nil
}

func (p *Processor) processTransaction(ctx context.Context, tx *store.Transaction) error {
	driver, err := p.cfg.Chains.Get(tx.Network)
	if err != nil {
		return err
	}

	switch tx.Status {
	case store.TxStatusApproved:
		return p.requestSign(ctx, driver, tx)
	case store.TxStatusInSign:
		return p.checkSignTimeout(tx)
	case store.TxStatusSignFailed:
		return p.processSignFailed(ctx, driver, tx)
	case store.TxStatusSigned:
		return p.submit(ctx, driver, tx)
	case store.TxStatusSent:
		return p.processSent(ctx, driver, tx)
	default:
		return nil
	}
}

// requestSign moves tx to in-sign and signs it in the background.
func (p *Processor) requestSign(ctx context.Context, driver chains.Driver, tx *store.Transaction) error {
	p.mu.Lock()
	if _, busy := p.signing[tx.TxID]; busy {
		p.mu.Unlock()
		return nil
	}
	p.signing[tx.TxID] = struct{}{}
	p.mu.Unlock()

	if err := p.cfg.Transactions.SetSignRequested(tx.TxID, tx.Status, p.cfg.Now()); err != nil {
		p.release(tx.TxID)
		return err
	}
	p.transitioned(tx, store.TxStatusInSign)

	unsigned := chains.FromRecord(tx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(unsigned.TxID)
		p.sign(ctx, driver, tx, unsigned)
	}()
	return nil
}

func (p *Processor) release(txID string) {
	p.mu.Lock()
	delete(p.signing, txID)
	p.mu.Unlock()
}

func (p *Processor) sign(ctx context.Context, driver chains.Driver, tx *store.Transaction, unsigned *chains.PaymentTransaction) {
	logger := p.logger.With().Str("tx_id", unsigned.TxID).Str("network", unsigned.Network).Logger()

	signed, err := driver.SignTransaction(ctx, unsigned)
	if err == nil && (signed == nil || signed.TxID != unsigned.TxID) {
		err = errors.New("signer returned a different transaction")
	}
	if err != nil {
		logger.Warn().Err(err).Msg("signing failed")
		if err := p.cfg.Transactions.SetSignFailed(unsigned.TxID); err != nil {
			logger.Warn().Err(err).Msg("failed to record signing failure")
			return
		}
		p.transitioned(tx, store.TxStatusSignFailed)
		return
	}

	if err := p.cfg.Transactions.SetSigned(unsigned.TxID, signed.TxBytes); err != nil {
		// the sign timeout fired first
		logger.Warn().Err(err).Msg("discarding late signature")
		return
	}
	p.transitioned(tx, store.TxStatusSigned)
	logger.Info().Msg("transaction signed")
}

func (p *Processor) checkSignTimeout(tx *store.Transaction) error {
	if tx.SignRequestedAt != nil && p.cfg.Now().Sub(*tx.SignRequestedAt) <= p.cfg.SignTimeout {
		return nil
	}
	if err := p.cfg.Transactions.SetSignFailed(tx.TxID); err != nil {
		return err
	}
	p.transitioned(tx, store.TxStatusSignFailed)
	p.logger.Warn().Str("tx_id", tx.TxID).Dur("sign_timeout", p.cfg.SignTimeout).Msg("signing timed out")
	return nil
}

func (p *Processor) processSignFailed(ctx context.Context, driver chains.Driver, tx *store.Transaction) error {
	alive, err := p.onChain(ctx, driver, tx)
	if err != nil {
		return err
	}
	if alive {
		height, err := driver.GetHeight(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to get %s height", tx.Network)
		}
		if err := p.cfg.Transactions.SetSent(tx.TxID, store.TxStatusSignFailed, height); err != nil {
			return err
		}
		p.transitioned(tx, store.TxStatusSent)
		p.logger.Info().Str("tx_id", tx.TxID).Msg("sign-failed transaction found on chain, tracking as sent")
		return nil
	}

	validity, err := driver.IsTxValid(ctx, chains.FromRecord(tx))
	if err != nil {
		return errors.Wrapf(err, "failed to validate transaction %s", tx.TxID)
	}
	if validity.Valid {
		return p.requestSign(ctx, driver, tx)
	}
	return p.SetTransactionAsInvalid(ctx, tx, validity)
}

// onChain reports whether tx is known to the network, confirmed to any degree or in the mempool.
func (p *Processor) onChain(ctx context.Context, driver chains.Driver, tx *store.Transaction) (bool, error) {
	status, err := driver.GetTxConfirmationStatus(ctx, tx.TxID, tx.TxType)
	if err != nil {
		return false, errors.Wrapf(err, "failed to get confirmation of %s", tx.TxID)
	}
	if status != chains.NotFound {
		return true, nil
	}
	inMempool, err := driver.IsTxInMempool(ctx, tx.TxID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check mempool for %s", tx.TxID)
	}
	return inMempool, nil
}

func (p *Processor) submit(ctx context.Context, driver chains.Driver, tx *store.Transaction) error {
	height, err := driver.GetHeight(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to get %s height", tx.Network)
	}
	if err := driver.SubmitTransaction(ctx, chains.FromRecord(tx)); err != nil {
		return errors.Wrapf(err, "failed to submit transaction %s", tx.TxID)
	}
	if err := p.cfg.Transactions.SetSent(tx.TxID, store.TxStatusSigned, height); err != nil {
		return err
	}
	p.transitioned(tx, store.TxStatusSent)
	p.logger.Info().Str("tx_id", tx.TxID).Uint64("height", height).Msg("transaction submitted")
	return nil
}

func (p *Processor) processSent(ctx context.Context, driver chains.Driver, tx *store.Transaction) error {
	status, err := driver.GetTxConfirmationStatus(ctx, tx.TxID, tx.TxType)
	if err != nil {
		return errors.Wrapf(err, "failed to get confirmation of %s", tx.TxID)
	}

	switch status {
	case chains.ConfirmedEnough:
		if err := p.cfg.Transactions.Complete(tx); err != nil {
			return err
		}
		p.transitioned(tx, store.TxStatusCompleted)
		p.logger.Info().
			Str("tx_id", tx.TxID).
			Str("tx_type", tx.TxType).
			Str("owner_id", tx.OwnerID()).
			Msg("transaction confirmed")
		return nil
	case chains.NotConfirmedEnough:
		return p.refreshLastCheck(ctx, driver, tx)
	}

	inMempool, err := driver.IsTxInMempool(ctx, tx.TxID)
	if err != nil {
		return errors.Wrapf(err, "failed to check mempool for %s", tx.TxID)
	}
	if inMempool {
		return p.refreshLastCheck(ctx, driver, tx)
	}

	signed := chains.FromRecord(tx)
	validity, err := driver.IsTxValid(ctx, signed)
	if err != nil {
		return errors.Wrapf(err, "failed to validate transaction %s", tx.TxID)
	}
	if !validity.Valid {
		return p.SetTransactionAsInvalid(ctx, tx, validity)
	}
	if err := driver.SubmitTransaction(ctx, signed); err != nil {
		return errors.Wrapf(err, "failed to resubmit transaction %s", tx.TxID)
	}
	p.logger.Info().Str("tx_id", tx.TxID).Msg("transaction vanished from chain, resubmitted")
	return nil
}

func (p *Processor) refreshLastCheck(ctx context.Context, driver chains.Driver, tx *store.Transaction) error {
	height, err := driver.GetHeight(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to get %s height", tx.Network)
	}
	return p.cfg.Transactions.UpdateLastCheck(tx.TxID, height)
}

// SetTransactionAsInvalid invalidates tx and returns its owner to pending. It does nothing until the
// chain has advanced the transaction's required confirmations past its last check, so a transient
// view of the chain cannot invalidate a live transaction.
func (p *Processor) SetTransactionAsInvalid(ctx context.Context, tx *store.Transaction, validity chains.Validity) error {
	driver, err := p.cfg.Chains.Get(tx.Network)
	if err != nil {
		return err
	}
	height, err := driver.GetHeight(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to get %s height", tx.Network)
	}
	required := driver.GetTxRequiredConfirmation(tx.TxType)
	if height < tx.LastCheck || height-tx.LastCheck < required {
		p.logger.Debug().
			Str("tx_id", tx.TxID).
			Uint64("height", height).
			Uint64("last_check", tx.LastCheck).
			Uint64("required", required).
			Msg("not enough blocks since last check to invalidate")
		return nil
	}

	if err := p.cfg.Transactions.Invalidate(tx, validity.Unexpected); err != nil {
		return err
	}
	p.transitioned(tx, store.TxStatusInvalid)
	metrics.TxInvalidations.WithLabelValues(tx.Network, strconv.FormatBool(validity.Unexpected)).Inc()

	p.logger.Warn().
		Str("tx_id", tx.TxID).
		Str("owner_id", tx.OwnerID()).
		Str("reason", validity.Reason).
		Bool("unexpected", validity.Unexpected).
		Msg("transaction invalidated")
	if validity.Unexpected {
		p.cfg.Notifier.Notify(ctx, notification.SeverityError, "Transaction invalidated unexpectedly",
			fmt.Sprintf("%s transaction %s of %s on %s was rejected by the chain: %s",
				tx.TxType, tx.TxID, tx.OwnerID(), tx.Network, validity.Reason))
	}
	return nil
}

func (p *Processor) transitioned(tx *store.Transaction, status string) {
	metrics.TxTransitions.WithLabelValues(tx.Network, status).Inc()
}
