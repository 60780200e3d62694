// Package eventprocessor drives confirmed bridge events through payment and reward.
//
// On this guard's turn every pending event is verified against its source chain, a payment or
// reward transaction is built by the responsible chain driver and handed to the agreement engine.
// All guards run the timeout and requeue sweeps regardless of turn.
package eventprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/bridge-guard/guard/agreement"
	"github.com/pushchain/bridge-guard/guard/chains"
	guarderrors "github.com/pushchain/bridge-guard/guard/errors"
	"github.com/pushchain/bridge-guard/guard/eventstore"
	"github.com/pushchain/bridge-guard/guard/metrics"
	"github.com/pushchain/bridge-guard/guard/notification"
	"github.com/pushchain/bridge-guard/guard/store"
)

const defaultBatchSize = 100

// TurnSource tells whether this guard may propose right now.
type TurnSource interface {
	IsMyTurn(index int) bool
}

// Proposer starts an agreement round for a generated transaction.
type Proposer interface {
	Propose(ctx context.Context, tx *chains.PaymentTransaction) error
}

// EventSource yields lock events observed by the scanning subsystem. Events may be returned more
// than once; ingestion is idempotent.
type EventSource interface {
	ObservedEvents(ctx context.Context) ([]store.Event, error)
}

// Config holds configuration for the event processor.
type Config struct {
	Index     int
	Turn      TurnSource
	Events    *eventstore.Store
	Chains    *chains.Registry
	Agreement Proposer
	Notifier  notification.Notifier
	Source    EventSource // Optional, nil disables ingestion

	UnexpectedFailsLimit int
	EventTimeout         time.Duration
	// EventConfirmations is the number of source-chain blocks a lock needs before it is stored.
	EventConfirmations map[string]uint64
	BatchSize          int
	Now                func() time.Time
	Logger             zerolog.Logger
}

// Processor moves events from pending to in-payment/in-reward.
type Processor struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a new event processor.
func New(cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "event_processor").Logger(),
	}
}

// ProcessEvents proposes a transaction for every pending event. It only acts on this guard's turn.
func (p *Processor) ProcessEvents(ctx context.Context) error {
	if !p.cfg.Turn.IsMyTurn(p.cfg.Index) {
		return nil
	}

	events, err := p.cfg.Events.GetEventsByStatus(
		[]string{store.EventStatusPendingPayment, store.EventStatusPendingReward}, p.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to load pending events")
	}

	for i := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev := &events[i]
		if err := p.processEvent(ctx, ev); err != nil {
			p.recordFailure(ctx, ev, err)
		}
	}
	return nil
}

func (p *Processor) processEvent(ctx context.Context, ev *store.Event) error {
	logger := p.logger.With().Str("event_id", ev.EventID).Str("status", ev.Status).Logger()

	if p.cfg.UnexpectedFailsLimit > 0 && ev.UnexpectedFails >= p.cfg.UnexpectedFailsLimit {
		if err := p.transition(ev, store.EventStatusReachedLimit); err != nil {
			return err
		}
		logger.Warn().Int("unexpected_fails", ev.UnexpectedFails).Msg("event reached the unexpected failure limit")
		p.cfg.Notifier.Notify(ctx, notification.SeverityWarning, "Event reached failure limit",
			fmt.Sprintf("event %s failed %d transactions unexpectedly and is no longer processed", ev.EventID, ev.UnexpectedFails))
		return nil
	}

	txType := store.TxTypePayment
	network := ev.ToChain
	if ev.Status == store.EventStatusPendingReward {
		txType = store.TxTypeReward
		network = ev.FromChain
	}

	if txType == store.TxTypePayment {
		ok, err := p.verify(ctx, ev)
		if err != nil {
			return err
		}
		if !ok {
			logger.Info().Msg("event failed source verification, rejecting")
			return p.transition(ev, store.EventStatusRejected)
		}
	}

	driver, err := p.cfg.Chains.Get(network)
	if err != nil {
		if txType == store.TxTypePayment {
			logger.Warn().Str("network", network).Msg("no driver for target chain, rejecting event")
			return p.transition(ev, store.EventStatusRejected)
		}
		return errors.Wrapf(err, "no driver to pay reward of event %s", ev.EventID)
	}

	res := driver.GenerateTransaction(ctx, chains.GenerateRequest{TxType: txType, Event: ev})
	switch res.Outcome {
	case chains.OutcomeOK:
	case chains.OutcomeInsufficientFunds:
		waiting := store.EventStatusPaymentWaiting
		if txType == store.TxTypeReward {
			waiting = store.EventStatusRewardWaiting
		}
		if err := p.transition(ev, waiting); err != nil {
			return err
		}
		logger.Warn().Err(res.Err).Str("network", network).Msg("not enough assets to build transaction")
		p.cfg.Notifier.Notify(ctx, notification.SeverityWarning, "Insufficient funds",
			fmt.Sprintf("cannot build %s transaction for event %s on %s: %v", txType, ev.EventID, network, res.Err))
		return nil
	default:
		return errors.Wrapf(res.Err, "failed to generate %s transaction for event %s", txType, ev.EventID)
	}

	tx := res.Tx
	if tx == nil || tx.EventID != ev.EventID || tx.TxType != txType {
		return guarderrors.NewInvariantError("driver returned a transaction for another owner").
			WithContext("event_id", ev.EventID).
			WithContext("network", network)
	}
	if tx.Network == "" {
		tx.Network = network
	}

	if err := p.cfg.Agreement.Propose(ctx, tx); err != nil {
		if errors.Is(err, agreement.ErrAgreementInProgress) || errors.Is(err, agreement.ErrNotMyTurn) {
			logger.Debug().Err(err).Str("tx_id", tx.TxID).Msg("skipped proposal")
			return nil
		}
		return errors.Wrapf(err, "failed to propose transaction %s", tx.TxID)
	}
	logger.Info().Str("tx_id", tx.TxID).Str("tx_type", txType).Msg("proposed transaction for event")
	return nil
}

// verify checks the lock on the source chain and that the locked amount covers the fees.
func (p *Processor) verify(ctx context.Context, ev *store.Event) (bool, error) {
	driver, err := p.cfg.Chains.Get(ev.FromChain)
	if err != nil {
		return false, nil
	}
	if !coversFees(ev) {
		return false, nil
	}
	ok, err := driver.VerifyEvent(ctx, ev)
	if err != nil {
		return false, errors.Wrapf(err, "failed to verify event %s on %s", ev.EventID, ev.FromChain)
	}
	return ok, nil
}

// TimeoutLeftoverEvents moves events that stayed pending or waiting longer than the event timeout
// to timeout.
func (p *Processor) TimeoutLeftoverEvents(ctx context.Context) error {
	if p.cfg.EventTimeout <= 0 {
		return nil
	}
	n, err := p.cfg.Events.TimeoutEvents(p.cfg.Now().Add(-p.cfg.EventTimeout))
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.EventTransitions.WithLabelValues(store.EventStatusTimeout).Add(float64(n))
		p.logger.Warn().Int64("count", n).Msg("timed out leftover events")
		p.cfg.Notifier.Notify(ctx, notification.SeverityWarning, "Events timed out",
			fmt.Sprintf("%d events were not paid within %s and need manual intervention", n, p.cfg.EventTimeout))
	}
	return nil
}

// RequeueWaitingEvents moves payment-waiting and reward-waiting events back to pending.
func (p *Processor) RequeueWaitingEvents(_ context.Context) error {
	n, err := p.cfg.Events.RequeueWaitingEvents()
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Info().Int64("count", n).Msg("requeued waiting events")
	}
	return nil
}

// IngestScannedEvents stores observed events once their lock has enough confirmations.
func (p *Processor) IngestScannedEvents(ctx context.Context) error {
	if p.cfg.Source == nil {
		return nil
	}
	observed, err := p.cfg.Source.ObservedEvents(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to fetch observed events")
	}

	heights := make(map[string]uint64)
	stored := 0
	for i := range observed {
		ev := &observed[i]
		expected := chains.EventID(ev.SourceTxID)
		if ev.EventID == "" {
			ev.EventID = expected
		}
		if ev.EventID != expected {
			p.logger.Warn().
				Str("event_id", ev.EventID).
				Str("source_tx_id", ev.SourceTxID).
				Msg("observed event id does not match its source transaction, ignoring")
			continue
		}

		height, ok := heights[ev.FromChain]
		if !ok {
			driver, err := p.cfg.Chains.Get(ev.FromChain)
			if err != nil {
				p.logger.Debug().Str("event_id", ev.EventID).Str("from_chain", ev.FromChain).Msg("no driver for source chain")
				continue
			}
			height, err = driver.GetHeight(ctx)
			if err != nil {
				p.logger.Warn().Err(err).Str("from_chain", ev.FromChain).Msg("failed to get source chain height")
				continue
			}
			heights[ev.FromChain] = height
		}
		if height < ev.SourceBlockHeight+p.cfg.EventConfirmations[ev.FromChain] {
			continue
		}

		ev.Status = ""
		ev.UnexpectedFails = 0
		inserted, err := p.cfg.Events.InsertConfirmedEvent(ev)
		if err != nil {
			p.logger.Error().Err(err).Str("event_id", ev.EventID).Msg("failed to store confirmed event")
			metrics.SweepErrors.WithLabelValues("ingest_events").Inc()
			continue
		}
		if inserted {
			stored++
			metrics.EventTransitions.WithLabelValues(store.EventStatusPendingPayment).Inc()
		}
	}
	if stored > 0 {
		p.logger.Info().Int("stored", stored).Int("observed", len(observed)).Msg("ingested confirmed events")
	}
	return nil
}

func (p *Processor) transition(ev *store.Event, status string) error {
	if err := p.cfg.Events.UpdateEventStatus(ev.EventID, status); err != nil {
		return err
	}
	metrics.EventTransitions.WithLabelValues(status).Inc()
	return nil
}

func (p *Processor) recordFailure(ctx context.Context, ev *store.Event, err error) {
	metrics.SweepErrors.WithLabelValues("process_events").Inc()
	p.logger.Error().Err(err).Str("event_id", ev.EventID).Msg("failed to process event")
	if guarderrors.IsInvariant(err) {
		p.cfg.Notifier.Notify(ctx, notification.SeverityCritical, "Invariant violation",
			fmt.Sprintf("event %s: %v", ev.EventID, err))
	}
}

// coversFees reports whether the locked amount pays at least the bridge and network fees.
func coversFees(ev *store.Event) bool {
	amount, err := uint256.FromDecimal(ev.Amount)
	if err != nil {
		return false
	}
	bridgeFee, err := decimalOrZero(ev.BridgeFee)
	if err != nil {
		return false
	}
	networkFee, err := decimalOrZero(ev.NetworkFee)
	if err != nil {
		return false
	}
	fees, overflow := new(uint256.Int).AddOverflow(bridgeFee, networkFee)
	return !overflow && !amount.Lt(fees)
}

func decimalOrZero(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}
