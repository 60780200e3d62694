// Package arbitraryprocessor drives externally submitted orders the way eventprocessor drives
// bridge events, without source verification and without a reward phase.
package arbitraryprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

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

// ErrInvalidOrder is returned by SubmitOrder for orders that cannot be stored.
var ErrInvalidOrder = guarderrors.NewProtocolInputError("invalid order")

// TurnSource tells whether this guard may propose right now.
type TurnSource interface {
	IsMyTurn(index int) bool
}

// Proposer starts an agreement round for a generated transaction.
type Proposer interface {
	Propose(ctx context.Context, tx *chains.PaymentTransaction) error
}

// Config holds configuration for the order processor.
type Config struct {
	Index     int
	Turn      TurnSource
	Orders    *eventstore.Store
	Chains    *chains.Registry
	Agreement Proposer
	Notifier  notification.Notifier

	UnexpectedFailsLimit int
	OrderTimeout         time.Duration
	BatchSize            int
	Now                  func() time.Time
	Logger               zerolog.Logger
}

// Processor moves orders from pending to in-progress.
type Processor struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a new order processor.
func New(cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "arbitrary_processor").Logger(),
	}
}

// SubmitOrder stores a new order. The order body is opaque JSON interpreted by the network's driver.
func (p *Processor) SubmitOrder(_ context.Context, orderID, network string, orderJSON []byte) (*store.Order, error) {
	switch {
	case orderID == "":
		return nil, errors.Wrap(ErrInvalidOrder, "order id is empty")
	case network == "":
		return nil, errors.Wrap(ErrInvalidOrder, "network is empty")
	case !json.Valid(orderJSON):
		return nil, errors.Wrap(ErrInvalidOrder, "order body is not valid JSON")
	}

	order := &store.Order{
		OrderID:     orderID,
		Network:     network,
		OrderJSON:   append([]byte(nil), orderJSON...),
		FirstSeenAt: p.cfg.Now(),
	}
	if err := p.cfg.Orders.InsertOrder(order); err != nil {
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues(store.OrderStatusPending).Inc()
	return order, nil
}

// ProcessOrders proposes a transaction for every pending order. It only acts on this guard's turn.
func (p *Processor) ProcessOrders(ctx context.Context) error {
	if !p.cfg.Turn.IsMyTurn(p.cfg.Index) {
		return nil
	}

	orders, err := p.cfg.Orders.GetOrdersByStatus([]string{store.OrderStatusPending}, p.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to load pending orders")
	}

	for i := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		order := &orders[i]
		if err := p.processOrder(ctx, order); err != nil {
			metrics.SweepErrors.WithLabelValues("process_orders").Inc()
			p.logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to process order")
			if guarderrors.IsInvariant(err) {
				p.cfg.Notifier.Notify(ctx, notification.SeverityCritical, "Invariant violation",
					fmt.Sprintf("order %s: %v", order.OrderID, err))
			}
		}
	}
	return nil
}

func (p *Processor) processOrder(ctx context.Context, order *store.Order) error {
	logger := p.logger.With().Str("order_id", order.OrderID).Str("network", order.Network).Logger()

	if p.cfg.UnexpectedFailsLimit > 0 && order.UnexpectedFails >= p.cfg.UnexpectedFailsLimit {
		if err := p.transition(order, store.OrderStatusReachedLimit); err != nil {
			return err
		}
		logger.Warn().Int("unexpected_fails", order.UnexpectedFails).Msg("order reached the unexpected failure limit")
		p.cfg.Notifier.Notify(ctx, notification.SeverityWarning, "Order reached failure limit",
			fmt.Sprintf("order %s failed %d transactions unexpectedly and is no longer processed", order.OrderID, order.UnexpectedFails))
		return nil
	}

	driver, err := p.cfg.Chains.Get(order.Network)
	if err != nil {
		logger.Warn().Msg("no driver for order network, rejecting")
		return p.transition(order, store.OrderStatusRejected)
	}

	res := driver.GenerateTransaction(ctx, chains.GenerateRequest{TxType: store.TxTypeArbitrary, Order: order})
	switch res.Outcome {
	case chains.OutcomeOK:
	case chains.OutcomeInsufficientFunds:
		if err := p.transition(order, store.OrderStatusWaiting); err != nil {
			return err
		}
		logger.Warn().Err(res.Err).Msg("not enough assets to build order transaction")
		p.cfg.Notifier.Notify(ctx, notification.SeverityWarning, "Insufficient funds",
			fmt.Sprintf("cannot build transaction for order %s on %s: %v", order.OrderID, order.Network, res.Err))
		return nil
	default:
		return errors.Wrapf(res.Err, "failed to generate transaction for order %s", order.OrderID)
	}

	tx := res.Tx
	if tx == nil || tx.OrderID != order.OrderID || tx.TxType != store.TxTypeArbitrary {
		return guarderrors.NewInvariantError("driver returned a transaction for another owner").
			WithContext("order_id", order.OrderID).
			WithContext("network", order.Network)
	}
	if tx.Network == "" {
		tx.Network = order.Network
	}

	if err := p.cfg.Agreement.Propose(ctx, tx); err != nil {
		if errors.Is(err, agreement.ErrAgreementInProgress) || errors.Is(err, agreement.ErrNotMyTurn) {
			logger.Debug().Err(err).Str("tx_id", tx.TxID).Msg("skipped proposal")
			return nil
		}
		return errors.Wrapf(err, "failed to propose transaction %s", tx.TxID)
	}
	logger.Info().Str("tx_id", tx.TxID).Msg("proposed transaction for order")
	return nil
}

// TimeoutLeftoverOrders moves orders that stayed pending or waiting longer than the order timeout
// to timeout.
func (p *Processor) TimeoutLeftoverOrders(ctx context.Context) error {
	if p.cfg.OrderTimeout <= 0 {
		return nil
	}
	n, err := p.cfg.Orders.TimeoutOrders(p.cfg.Now().Add(-p.cfg.OrderTimeout))
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.OrderTransitions.WithLabelValues(store.OrderStatusTimeout).Add(float64(n))
		p.logger.Warn().Int64("count", n).Msg("timed out leftover orders")
		p.cfg.Notifier.Notify(ctx, notification.SeverityWarning, "Orders timed out",
			fmt.Sprintf("%d orders were not paid within %s and need manual intervention", n, p.cfg.OrderTimeout))
	}
	return nil
}

// RequeueWaitingOrders moves waiting orders back to pending.
func (p *Processor) RequeueWaitingOrders(_ context.Context) error {
	n, err := p.cfg.Orders.RequeueWaitingOrders()
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Info().Int64("count", n).Msg("requeued waiting orders")
	}
	return nil
}

func (p *Processor) transition(order *store.Order, status string) error {
	if err := p.cfg.Orders.UpdateOrderStatus(order.OrderID, status); err != nil {
		return err
	}
	metrics.OrderTransitions.WithLabelValues(status).Inc()
	return nil
}
