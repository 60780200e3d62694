// Package node assembles one guard: storage, broadcast channel, agreement engine, processors,
// notification, query server, and the scheduler that drives them.
package node

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pushchain/bridge-guard/guard/agreement"
	"github.com/pushchain/bridge-guard/guard/api"
	"github.com/pushchain/bridge-guard/guard/arbitraryprocessor"
	"github.com/pushchain/bridge-guard/guard/chains"
	"github.com/pushchain/bridge-guard/guard/config"
	"github.com/pushchain/bridge-guard/guard/constant"
	"github.com/pushchain/bridge-guard/guard/db"
	"github.com/pushchain/bridge-guard/guard/eventprocessor"
	"github.com/pushchain/bridge-guard/guard/eventstore"
	"github.com/pushchain/bridge-guard/guard/network"
	"github.com/pushchain/bridge-guard/guard/notification"
	"github.com/pushchain/bridge-guard/guard/scheduler"
	"github.com/pushchain/bridge-guard/guard/signer"
	"github.com/pushchain/bridge-guard/guard/transport"
	"github.com/pushchain/bridge-guard/guard/transport/libp2p"
	"github.com/pushchain/bridge-guard/guard/turn"
	"github.com/pushchain/bridge-guard/guard/txprocessor"
	"github.com/pushchain/bridge-guard/guard/txstore"
)

// Job names.
const (
	JobIngestEvents         = "ingest_events"
	JobProcessEvents        = "process_events"
	JobProcessOrders        = "process_orders"
	JobProcessTransactions  = "process_transactions"
	JobResendAgreement      = "resend_agreement"
	JobClearInFlight        = "clear_in_flight"
	JobClearPendingApproval = "clear_pending_approval"
	JobTimeoutEvents        = "timeout_events"
	JobTimeoutOrders        = "timeout_orders"
	JobRequeueEvents        = "requeue_events"
	JobRequeueOrders        = "requeue_orders"
	JobCleanTransactions    = "clean_transactions"
)

// Options carries what the configuration file cannot: chain drivers and test seams.
type Options struct {
	// Drivers maps network names to their drivers.
	Drivers map[string]chains.Driver
	// Source reports lock events observed on source chains. Nil disables ingestion.
	Source eventprocessor.EventSource
	// Database overrides the file database under the node home.
	Database *db.DB
	// Transport overrides the libp2p transport built from the configuration.
	Transport transport.Transport
	// Clock overrides the wall clock used for turns.
	Clock turn.Clock
	// Sinks are added to the notification dispatcher next to the configured ones.
	Sinks []notification.Sink
}

// Node is a fully wired guard.
type Node struct {
	cfg    config.Config
	logger zerolog.Logger

	database  *db.DB
	transport transport.Transport
	network   *network.Network
	turn      *turn.Turn
	registry  *chains.Registry
	events    *eventstore.Store
	txs       *txstore.Store

	agreement *agreement.Agreement
	eventProc *eventprocessor.Processor
	orderProc *arbitraryprocessor.Processor
	txProc    *txprocessor.Processor
	notifier  *notification.Dispatcher
	api       *api.Server
	scheduler *scheduler.Scheduler
	jobs      map[string]scheduler.Job
}

// New builds every component once. The configuration must already be validated.
func New(cfg config.Config, opts Options, logger zerolog.Logger) (_ *Node, err error) {
	n := &Node{
		cfg:    cfg,
		logger: logger.With().Str("component", "node").Logger(),
		jobs:   make(map[string]scheduler.Job),
	}
	defer func() {
		if err == nil {
			return
		}
		if n.transport != nil && opts.Transport == nil {
			_ = n.transport.Close()
		}
		if n.database != nil && opts.Database == nil {
			_ = n.database.Close()
		}
	}()

	guardSigner, err := signer.New(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	publicKeys := make([]string, len(cfg.Guards))
	for i, g := range cfg.Guards {
		publicKeys[i] = g.PublicKey
	}
	verifier, err := signer.NewVerifier(publicKeys)
	if err != nil {
		return nil, err
	}
	sig, err := guardSigner.Sign(keyCheckDigest)
	if err != nil {
		return nil, err
	}
	if !verifier.Verify(cfg.GuardIndex, keyCheckDigest, sig) {
		return nil, errors.Errorf("private key does not match the public key of guard %d", cfg.GuardIndex)
	}

	n.registry = chains.NewRegistry(logger)
	for name, driver := range opts.Drivers {
		if err := n.registry.Register(name, driver); err != nil {
			return nil, err
		}
	}
	if len(opts.Drivers) == 0 {
		n.logger.Warn().Msg("no chain drivers registered; the guard will only relay agreement messages")
	}

	n.database = opts.Database
	if n.database == nil {
		n.database, err = db.OpenFileDB(filepath.Join(cfg.NodeHome, constant.DataSubdir), constant.DBFileName, true)
		if err != nil {
			return nil, err
		}
	}
	n.events = eventstore.NewStore(n.database.Client(), logger)
	n.txs = txstore.NewStore(n.database.Client(), logger)

	n.transport = opts.Transport
	if n.transport == nil {
		p2p, err := libp2p.New(libp2p.Config{
			ListenAddrs:   []string{cfg.P2PListen},
			PrivateKeyHex: cfg.P2PPrivateKeyHex,
		}, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to start p2p transport")
		}
		n.transport = p2p
	}
	n.network = network.New(cfg.GuardIndex, n.transport, logger)
	for i, g := range cfg.Guards {
		if i == cfg.GuardIndex || g.PeerID == "" {
			continue
		}
		if err := n.network.AddPeer(network.Peer{Index: i, PeerID: g.PeerID, Addrs: g.Addrs}); err != nil {
			return nil, err
		}
	}

	var turnOpts []turn.Option
	if opts.Clock != nil {
		turnOpts = append(turnOpts, turn.WithClock(opts.Clock))
	}
	n.turn = turn.New(cfg.GuardCount(), cfg.TurnDuration(), turnOpts...)

	sinks := []notification.Sink{notification.NewLogSink(logger)}
	if cfg.Notification.SlackWebhookURL != "" {
		sinks = append(sinks, notification.NewSlackSink(cfg.Notification.SlackWebhookURL, cfg.Notification.GuardName))
	}
	if cfg.Notification.WebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookSink(cfg.Notification.WebhookURL, cfg.Notification.GuardName))
	}
	sinks = append(sinks, opts.Sinks...)
	n.notifier = notification.NewDispatcher(time.Duration(cfg.Notification.CooldownSeconds)*time.Second, logger, sinks...)

	n.agreement, err = agreement.New(agreement.Config{
		Index:            cfg.GuardIndex,
		GuardCount:       cfg.GuardCount(),
		MinimumAgreement: cfg.MinimumAgreement,
		Turn:             n.turn,
		Signer:           guardSigner,
		Verifier:         verifier,
		Messenger:        n.network,
		Chains:           n.registry,
		Records:          n.events,
		Transactions:     n.txs,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	n.eventProc = eventprocessor.New(eventprocessor.Config{
		Index:                cfg.GuardIndex,
		Turn:                 n.turn,
		Events:               n.events,
		Chains:               n.registry,
		Agreement:            n.agreement,
		Notifier:             n.notifier,
		Source:               opts.Source,
		UnexpectedFailsLimit: cfg.UnexpectedFailsLimit,
		EventTimeout:         cfg.EventTimeout(),
		EventConfirmations:   cfg.EventConfirmations(),
		Logger:               logger,
	})
	n.orderProc = arbitraryprocessor.New(arbitraryprocessor.Config{
		Index:                cfg.GuardIndex,
		Turn:                 n.turn,
		Orders:               n.events,
		Chains:               n.registry,
		Agreement:            n.agreement,
		Notifier:             n.notifier,
		UnexpectedFailsLimit: cfg.UnexpectedFailsLimit,
		OrderTimeout:         cfg.OrderTimeout(),
		Logger:               logger,
	})
	n.txProc = txprocessor.New(txprocessor.Config{
		Transactions: n.txs,
		Chains:       n.registry,
		Notifier:     n.notifier,
		SignTimeout:  cfg.SignTimeout(),
		Logger:       logger,
	})

	if cfg.QueryServerPort >= 0 {
		n.api = api.NewServer(api.Config{
			Port:         cfg.QueryServerPort,
			GuardIndex:   cfg.GuardIndex,
			Events:       n.events,
			Transactions: n.txs,
			Orders:       n.orderProc,
			Turn:         n.turn,
			Logger:       logger,
		})
	}

	n.scheduler = scheduler.New(logger)
	if err := n.registerJobs(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) registerJobs() error {
	every := func(seconds int) time.Duration { return time.Duration(seconds) * time.Second }
	cleaner := db.NewTransactionCleaner(n.database, every(n.cfg.TransactionRetentionPeriodSeconds), n.logger)

	jobs := []scheduler.Job{
		{Name: JobIngestEvents, Interval: every(n.cfg.ScanIntervalSeconds), Run: n.eventProc.IngestScannedEvents},
		{Name: JobProcessEvents, Interval: every(n.cfg.EventProcessIntervalSeconds), Run: n.eventProc.ProcessEvents},
		{Name: JobProcessOrders, Interval: every(n.cfg.OrderProcessIntervalSeconds), Run: n.orderProc.ProcessOrders},
		{Name: JobProcessTransactions, Interval: every(n.cfg.TxProcessIntervalSeconds), Run: n.txProc.ProcessTransactions},
		{Name: JobResendAgreement, Interval: n.cfg.ResendInterval(), Run: func(ctx context.Context) error {
			n.agreement.ResendOutstanding(ctx)
			return nil
		}},
		{Name: JobClearInFlight, NextDelay: n.turn.UntilTurnEnds, Run: func(context.Context) error {
			n.agreement.ClearInFlight()
			return nil
		}},
		{Name: JobClearPendingApproval, NextDelay: n.turn.UntilCycleReset, Run: func(context.Context) error {
			n.agreement.ClearPendingApproval()
			return nil
		}},
		{Name: JobTimeoutEvents, Interval: every(n.cfg.TimeoutCheckIntervalSeconds), Run: n.eventProc.TimeoutLeftoverEvents},
		{Name: JobTimeoutOrders, Interval: every(n.cfg.TimeoutCheckIntervalSeconds), Run: n.orderProc.TimeoutLeftoverOrders},
		{Name: JobRequeueEvents, Interval: every(n.cfg.RequeueIntervalSeconds), Run: n.eventProc.RequeueWaitingEvents},
		{Name: JobRequeueOrders, Interval: every(n.cfg.RequeueIntervalSeconds), Run: n.orderProc.RequeueWaitingOrders},
		{Name: JobCleanTransactions, Interval: every(n.cfg.TransactionCleanupIntervalSeconds), RunImmediately: true, Run: cleaner.Run},
	}
	for _, job := range jobs {
		if err := n.scheduler.Add(job); err != nil {
			return err
		}
		n.jobs[job.Name] = job
	}
	return nil
}

// Run starts the guard and blocks until ctx is canceled or a component fails.
func (n *Node) Run(ctx context.Context) error {
	if err := n.network.Start(); err != nil {
		return errors.Wrap(err, "failed to start broadcast channel")
	}
	n.agreement.Start()

	n.logger.Info().
		Int("guard_index", n.cfg.GuardIndex).
		Int("guard_count", n.cfg.GuardCount()).
		Int("minimum_agreement", n.cfg.MinimumAgreement).
		Str("peer_id", n.transport.ID()).
		Strs("listen_addrs", n.transport.ListenAddrs()).
		Strs("networks", n.registry.Networks()).
		Msg("starting guard")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.scheduler.Start(gCtx)
		<-gCtx.Done()
		n.scheduler.Stop()
		n.txProc.Wait()
		return nil
	})

	if n.api != nil {
		g.Go(func() error {
			if err := n.api.Start(); err != nil {
				return err
			}
			<-gCtx.Done()
			return n.api.Stop(context.Background())
		})
	}

	err := g.Wait()
	n.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (n *Node) shutdown() {
	n.logger.Info().Msg("shutting down guard")
	n.notifier.Wait()
	if err := n.transport.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("failed to close transport")
	}
	if err := n.database.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("failed to close database")
	}
}

// keyCheckDigest is signed once at startup to match the key against the configured guard set.
var keyCheckDigest = make([]byte, 32)
