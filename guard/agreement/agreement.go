// Package agreement implements the guard transaction agreement protocol.
//
// The guard whose turn it is proposes a candidate transaction by broadcasting a signed request.
// Every other guard validates the request and answers the proposer directly with a signed response.
// Once the proposer holds minimumAgreement approvals it broadcasts them, and every guard that can
// verify the set persists the transaction as approved. Candidates live in memory only. A lost
// round is retried from the triggering event or order on a later turn.
package agreement

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/bridge-guard/guard/chains"
	guarderrors "github.com/pushchain/bridge-guard/guard/errors"
	"github.com/pushchain/bridge-guard/guard/metrics"
	"github.com/pushchain/bridge-guard/guard/network"
	"github.com/pushchain/bridge-guard/guard/store"
)

var (
	// ErrNotMyTurn is returned by Propose outside this guard's turn.
	ErrNotMyTurn = guarderrors.NewDomainError("not this guard's turn")

	// ErrAgreementInProgress is returned by Propose when another transaction is being agreed for the same owner.
	ErrAgreementInProgress = guarderrors.NewDomainError("agreement already in progress for owner")

	// ErrUnsupportedTxType is returned for transaction types that cannot be agreed on.
	ErrUnsupportedTxType = guarderrors.NewProtocolInputError("transaction type cannot be agreed on")
)

// Drop reasons, used as metric labels and log fields.
const (
	dropMalformed       = "malformed"
	dropUnknownOwner    = "unknown_owner"
	dropNotTurn         = "not_turn"
	dropConflict        = "conflict"
	dropInProgress      = "in_progress"
	dropBadSignature    = "bad_signature"
	dropUnknownNetwork  = "unknown_network"
	dropUnknownTx       = "unknown_candidate"
	dropNotEnoughSigs   = "insufficient_signatures"
	dropValidationError = "validation_error"
)

// TurnSource tells which guard may propose right now.
type TurnSource interface {
	ActiveGuard() int
}

// Signer signs digests with this guard's key.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
}

// Verifier checks other guards' signatures.
type Verifier interface {
	Verify(index int, digest, sig []byte) bool
}

// Messenger is the broadcast channel between guards.
type Messenger interface {
	Broadcast(ctx context.Context, channel string, payload any) error
	Send(ctx context.Context, channel string, target int, payload any) error
	Subscribe(channel string, handler network.Handler)
}

// RecordStore reads the events and orders transactions pay out.
type RecordStore interface {
	GetEvent(eventID string) (*store.Event, error)
	GetOrder(orderID string) (*store.Order, error)
}

// TransactionStore persists approved transactions.
type TransactionStore interface {
	InsertApprovedTransaction(tx *store.Transaction) (bool, error)
	GetActiveTransaction(ownerID, txType string) (*store.Transaction, error)
}

// Config wires an Agreement.
type Config struct {
	Index            int
	GuardCount       int
	MinimumAgreement int

	Turn         TurnSource
	Signer       Signer
	Verifier     Verifier
	Messenger    Messenger
	Chains       *chains.Registry
	Records      RecordStore
	Transactions TransactionStore
	Logger       zerolog.Logger
}

// Agreement is the consensus engine of one guard.
type Agreement struct {
	cfg        Config
	candidates *candidateStore
	logger     zerolog.Logger
}

// New creates the agreement engine.
func New(cfg Config) (*Agreement, error) {
	if cfg.GuardCount < 1 || cfg.Index < 0 || cfg.Index >= cfg.GuardCount {
		return nil, guarderrors.NewConfigError("guard index out of range")
	}
	if cfg.MinimumAgreement <= cfg.GuardCount/2 || cfg.MinimumAgreement > cfg.GuardCount {
		return nil, guarderrors.NewConfigError("minimum agreement must be a strict majority of guards")
	}
	if cfg.Turn == nil || cfg.Signer == nil || cfg.Verifier == nil || cfg.Messenger == nil ||
		cfg.Chains == nil || cfg.Records == nil || cfg.Transactions == nil {
		return nil, guarderrors.NewConfigError("agreement dependencies are incomplete")
	}
	return &Agreement{
		cfg:        cfg,
		candidates: newCandidateStore(),
		logger:     cfg.Logger.With().Str("component", "tx_agreement").Int("guard_index", cfg.Index).Logger(),
	}, nil
}

// Start subscribes the engine to the agreement channel.
func (a *Agreement) Start() {
	a.cfg.Messenger.Subscribe(Channel, a.dispatch)
}

// Candidates returns the candidates currently held in memory.
func (a *Agreement) Candidates() []CandidateInfo {
	_, infos := a.candidates.snapshot()
	return infos
}

func (a *Agreement) dispatch(ctx context.Context, sender int, raw json.RawMessage) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		a.drop("unknown", dropMalformed, sender, "")
		return
	}
	switch msg.Type {
	case typeRequest:
		var p requestPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			a.drop(typeRequest, dropMalformed, sender, "")
			return
		}
		a.HandleRequest(ctx, sender, p)
	case typeResponse:
		var p responsePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			a.drop(typeResponse, dropMalformed, sender, "")
			return
		}
		a.HandleResponse(ctx, sender, p)
	case typeApproval:
		var p approvalPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			a.drop(typeApproval, dropMalformed, sender, "")
			return
		}
		a.HandleApproval(ctx, sender, p)
	default:
		a.drop(msg.Type, dropMalformed, sender, "")
	}
}

// Propose starts an agreement round for tx. Only the active guard may propose.
func (a *Agreement) Propose(ctx context.Context, tx *chains.PaymentTransaction) error {
	if !agreeable(tx) {
		return ErrUnsupportedTxType
	}
	if a.cfg.Turn.ActiveGuard() != a.cfg.Index {
		return ErrNotMyTurn
	}

	sig, err := a.cfg.Signer.Sign(chains.MetadataDigest(tx))
	if err != nil {
		return errors.Wrapf(err, "failed to sign transaction %s", tx.TxID)
	}

	owner := tx.OwnerID()
	var (
		conflict, resend bool
		finalized        *candidate
	)
	a.candidates.with(owner, func(cur *candidate) *candidate {
		if cur != nil {
			if cur.own && cur.tx.TxID == tx.TxID {
				resend = true
			} else {
				conflict = true
			}
			return cur
		}
		c := &candidate{
			tx:          tx,
			proposer:    a.cfg.Index,
			own:         true,
			proposerSig: sig,
			approvals:   map[int][]byte{a.cfg.Index: sig},
			rejections:  make(map[int]struct{}),
		}
		if len(c.approvals) >= a.cfg.MinimumAgreement {
			finalized = c
			return nil
		}
		return c
	})
	if conflict {
		return errors.Wrapf(ErrAgreementInProgress, "owner %s", owner)
	}

	if finalized != nil {
		metrics.AgreementProposals.WithLabelValues(tx.TxType).Inc()
		a.finalize(ctx, finalized)
		return nil
	}
	if !resend {
		metrics.AgreementProposals.WithLabelValues(tx.TxType).Inc()
		a.updateGauge()
		a.logger.Info().
			Str("tx_id", tx.TxID).
			Str("owner_id", owner).
			Str("tx_type", tx.TxType).
			Msg("proposing transaction")
	}
	return a.broadcast(ctx, typeRequest, requestPayload{Tx: tx, Proposer: a.cfg.Index, Signature: sig})
}

// HandleRequest validates a remote proposal and answers the proposer.
func (a *Agreement) HandleRequest(ctx context.Context, sender int, req requestPayload) {
	tx := req.Tx
	if tx == nil || tx.TxID == "" || tx.OwnerID() == "" || !agreeable(tx) || req.Proposer != sender {
		a.drop(typeRequest, dropMalformed, sender, "")
		return
	}
	if active := a.cfg.Turn.ActiveGuard(); req.Proposer != active {
		a.drop(typeRequest, dropNotTurn, sender, tx.TxID)
		return
	}
	digest := chains.MetadataDigest(tx)
	if !a.cfg.Verifier.Verify(req.Proposer, digest, req.Signature) {
		a.drop(typeRequest, dropBadSignature, sender, tx.TxID)
		return
	}

	source, ok := a.eligibleSource(tx)
	if !ok {
		a.drop(typeRequest, dropUnknownOwner, sender, tx.TxID)
		return
	}
	driver, err := a.cfg.Chains.Get(tx.Network)
	if err != nil {
		a.drop(typeRequest, dropUnknownNetwork, sender, tx.TxID)
		return
	}

	owner := tx.OwnerID()
	var (
		conflict, busy bool
		replay         *responsePayload
	)
	a.candidates.with(owner, func(cur *candidate) *candidate {
		if cur != nil {
			switch {
			case cur.tx.TxID != tx.TxID || cur.own:
				conflict = true
			case cur.validating:
				busy = true
			default:
				replay = cur.response
			}
			return cur
		}
		return &candidate{
			tx:          tx,
			proposer:    req.Proposer,
			validating:  true,
			proposerSig: req.Signature,
			rejections:  make(map[int]struct{}),
		}
	})
	if conflict {
		a.drop(typeRequest, dropConflict, sender, tx.TxID)
		return
	}
	if busy {
		a.drop(typeRequest, dropInProgress, sender, tx.TxID)
		return
	}
	if replay != nil {
		a.respond(ctx, req.Proposer, *replay)
		return
	}

	valid, err := driver.VerifyTransactionAgainstSource(ctx, tx, source)
	if err != nil {
		a.release(owner, tx.TxID)
		a.drop(typeRequest, dropValidationError, sender, tx.TxID)
		a.logger.Warn().Err(err).Str("tx_id", tx.TxID).Msg("could not validate proposed transaction")
		return
	}
	if !valid {
		a.release(owner, tx.TxID)
		sig, err := a.cfg.Signer.Sign(chains.RejectionDigest(tx))
		if err != nil {
			a.logger.Error().Err(err).Str("tx_id", tx.TxID).Msg("failed to sign rejection")
			return
		}
		a.logger.Info().
			Str("tx_id", tx.TxID).
			Int("proposer", req.Proposer).
			Msg("proposed transaction failed validation, disagreeing")
		a.respond(ctx, req.Proposer, responsePayload{TxID: tx.TxID, OwnerID: owner, Agree: false, Signature: sig})
		return
	}

	sig, err := a.cfg.Signer.Sign(digest)
	if err != nil {
		a.release(owner, tx.TxID)
		a.logger.Error().Err(err).Str("tx_id", tx.TxID).Msg("failed to sign approval")
		return
	}
	resp := responsePayload{TxID: tx.TxID, OwnerID: owner, Agree: true, Signature: sig}
	stillOurs := false
	a.candidates.with(owner, func(cur *candidate) *candidate {
		if cur != nil && cur.tx.TxID == tx.TxID && cur.validating {
			cur.validating = false
			cur.response = &resp
			stillOurs = true
		}
		return cur
	})
	if !stillOurs {
		// cleared or superseded by an approval while validating
		return
	}
	a.updateGauge()
	a.logger.Info().
		Str("tx_id", tx.TxID).
		Str("owner_id", owner).
		Int("proposer", req.Proposer).
		Msg("agreed to transaction")
	a.respond(ctx, req.Proposer, resp)
}

// HandleResponse records a guard's answer to one of this guard's proposals.
func (a *Agreement) HandleResponse(ctx context.Context, sender int, resp responsePayload) {
	if resp.TxID == "" || resp.OwnerID == "" || sender == a.cfg.Index {
		a.drop(typeResponse, dropMalformed, sender, resp.TxID)
		return
	}

	var (
		reason    string
		finalized *candidate
		aborted   *candidate
	)
	a.candidates.with(resp.OwnerID, func(cur *candidate) *candidate {
		if cur == nil || !cur.own || cur.tx.TxID != resp.TxID {
			reason = dropUnknownTx
			return cur
		}
		digest := chains.MetadataDigest(cur.tx)
		if !resp.Agree {
			digest = chains.RejectionDigest(cur.tx)
		}
		if !a.cfg.Verifier.Verify(sender, digest, resp.Signature) {
			reason = dropBadSignature
			return cur
		}

		if resp.Agree {
			cur.approvals[sender] = resp.Signature
			delete(cur.rejections, sender)
			if len(cur.approvals) >= a.cfg.MinimumAgreement {
				finalized = cur
				return nil
			}
			return cur
		}

		cur.rejections[sender] = struct{}{}
		delete(cur.approvals, sender)
		if len(cur.rejections) > a.cfg.GuardCount-a.cfg.MinimumAgreement {
			aborted = cur
			return nil
		}
		return cur
	})

	switch {
	case reason != "":
		a.drop(typeResponse, reason, sender, resp.TxID)
	case finalized != nil:
		a.finalize(ctx, finalized)
	case aborted != nil:
		metrics.AgreementAborts.Inc()
		a.updateGauge()
		a.logger.Info().
			Str("tx_id", resp.TxID).
			Str("owner_id", resp.OwnerID).
			Int("rejections", len(aborted.rejections)).
			Msg("majority can no longer be reached, aborting candidate")
	}
}

// HandleApproval persists a transaction another guard collected enough approvals for.
func (a *Agreement) HandleApproval(ctx context.Context, sender int, ap approvalPayload) {
	tx := ap.Tx
	if tx == nil || tx.TxID == "" || tx.OwnerID() == "" || !agreeable(tx) {
		a.drop(typeApproval, dropMalformed, sender, "")
		return
	}

	digest := chains.MetadataDigest(tx)
	signers := make(map[int]struct{}, len(ap.Signatures))
	for _, s := range ap.Signatures {
		if !a.cfg.Verifier.Verify(s.Guard, digest, s.Signature) {
			a.drop(typeApproval, dropBadSignature, sender, tx.TxID)
			return
		}
		signers[s.Guard] = struct{}{}
	}
	if len(signers) < a.cfg.MinimumAgreement {
		a.drop(typeApproval, dropNotEnoughSigs, sender, tx.TxID)
		return
	}
	if !a.ownerKnown(tx) {
		a.drop(typeApproval, dropUnknownOwner, sender, tx.TxID)
		return
	}

	a.persist(tx, ap.Signatures)
}

// ResendOutstanding re-broadcasts the requests of this guard's unfinished candidates. It does
// nothing outside this guard's turn.
func (a *Agreement) ResendOutstanding(ctx context.Context) {
	if a.cfg.Turn.ActiveGuard() != a.cfg.Index {
		return
	}
	requests, _ := a.candidates.snapshot()
	for _, req := range requests {
		if err := a.broadcast(ctx, typeRequest, req); err != nil {
			a.logger.Warn().Err(err).Str("tx_id", req.Tx.TxID).Msg("failed to resend request")
		}
	}
	if len(requests) > 0 {
		a.logger.Debug().Int("count", len(requests)).Msg("resent outstanding requests")
	}
}

// ClearInFlight drops this guard's own candidates that did not reach approval within its turn.
func (a *Agreement) ClearInFlight() {
	removed := a.candidates.removeIf(func(c *candidate) bool { return c.own })
	a.cleared("in_flight", len(removed))
}

// ClearPendingApproval drops candidates this guard agreed to that never reached approval.
func (a *Agreement) ClearPendingApproval() {
	removed := a.candidates.removeIf(func(c *candidate) bool { return !c.own })
	a.cleared("pending_approval", len(removed))
}

func (a *Agreement) cleared(kind string, n int) {
	a.updateGauge()
	if n == 0 {
		return
	}
	metrics.AgreementCleared.WithLabelValues(kind).Add(float64(n))
	a.logger.Info().Str("kind", kind).Int("count", n).Msg("cleared stale candidates")
}

func (a *Agreement) finalize(ctx context.Context, c *candidate) {
	approvals := c.sortedApprovals()
	a.logger.Info().
		Str("tx_id", c.tx.TxID).
		Str("owner_id", c.tx.OwnerID()).
		Int("approvals", len(approvals)).
		Msg("transaction reached agreement")
	if err := a.broadcast(ctx, typeApproval, approvalPayload{Tx: c.tx, Signatures: approvals}); err != nil {
		a.logger.Warn().Err(err).Str("tx_id", c.tx.TxID).Msg("failed to broadcast approval")
	}
	a.persist(c.tx, approvals)
}

func (a *Agreement) persist(tx *chains.PaymentTransaction, approvals []Approval) {
	owner := tx.OwnerID()
	record := tx.ToRecord()
	sigs, err := json.Marshal(approvals)
	if err != nil {
		a.logger.Error().Err(err).Str("tx_id", tx.TxID).Msg("failed to encode approvals")
		return
	}
	record.Signatures = sigs

	stored, err := a.cfg.Transactions.InsertApprovedTransaction(record)

	// A replayed or losing approval must not free the slot held by another transaction.
	a.candidates.with(owner, func(cur *candidate) *candidate {
		if cur == nil || cur.tx.TxID == tx.TxID || (err == nil && stored) {
			return nil
		}
		return cur
	})
	a.updateGauge()

	if err != nil {
		ev := a.logger.Error().Err(err).Str("tx_id", tx.TxID).Str("owner_id", owner)
		if guarderrors.IsInvariant(err) {
			metrics.InvariantViolations.WithLabelValues("agreement").Inc()
			ev = ev.Str("severity", string(guarderrors.SeverityCritical))
		}
		ev.Msg("failed to persist approved transaction")
		return
	}
	if stored {
		metrics.AgreementApprovals.WithLabelValues(tx.TxType).Inc()
		a.logger.Info().
			Str("tx_id", tx.TxID).
			Str("owner_id", owner).
			Str("tx_type", tx.TxType).
			Msg("transaction approved")
	}
}

// eligibleSource loads the owner of tx and reports whether a new agreement may start for it: the
// owner must be waiting for this transaction type, or hold an approved transaction the proposal
// would replace.
func (a *Agreement) eligibleSource(tx *chains.PaymentTransaction) (chains.Source, bool) {
	var (
		source            chains.Source
		status            string
		pending, progress string
	)
	if tx.TxType == store.TxTypeArbitrary {
		order, err := a.cfg.Records.GetOrder(tx.OrderID)
		if err != nil {
			return source, false
		}
		source.Order = order
		status, pending, progress = order.Status, store.OrderStatusPending, store.OrderStatusInProgress
	} else {
		event, err := a.cfg.Records.GetEvent(tx.EventID)
		if err != nil {
			return source, false
		}
		source.Event = event
		status = event.Status
		pending, progress, _ = store.InProgressEventStatus(tx.TxType)
	}

	switch status {
	case pending:
		return source, true
	case progress:
		active, err := a.cfg.Transactions.GetActiveTransaction(tx.OwnerID(), tx.TxType)
		if err != nil {
			var ev *zerolog.Event
			if guarderrors.IsInvariant(err) {
				metrics.InvariantViolations.WithLabelValues("agreement").Inc()
				ev = a.logger.Error().Str("severity", string(guarderrors.SeverityCritical))
			} else {
				ev = a.logger.Warn()
			}
			ev.Err(err).Str("tx_id", tx.TxID).Str("owner_id", tx.OwnerID()).Msg("failed to load active transaction")
			return source, false
		}
		if active == nil {
			return source, false
		}
		return source, active.Status == store.TxStatusApproved && tx.TxID < active.TxID
	default:
		return source, false
	}
}

func (a *Agreement) ownerKnown(tx *chains.PaymentTransaction) bool {
	if tx.TxType == store.TxTypeArbitrary {
		_, err := a.cfg.Records.GetOrder(tx.OrderID)
		return err == nil
	}
	_, err := a.cfg.Records.GetEvent(tx.EventID)
	return err == nil
}

// release removes a candidate reserved by HandleRequest if it is still the one for txID.
func (a *Agreement) release(owner, txID string) {
	a.candidates.with(owner, func(cur *candidate) *candidate {
		if cur != nil && cur.tx.TxID == txID && !cur.own {
			return nil
		}
		return cur
	})
}

func (a *Agreement) respond(ctx context.Context, target int, resp responsePayload) {
	msg, err := encode(typeResponse, resp)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to encode response")
		return
	}
	if err := a.cfg.Messenger.Send(ctx, Channel, target, msg); err != nil {
		a.logger.Warn().Err(err).Int("target", target).Str("tx_id", resp.TxID).Msg("failed to send response")
	}
}

func (a *Agreement) broadcast(ctx context.Context, kind string, payload any) error {
	msg, err := encode(kind, payload)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", kind)
	}
	return a.cfg.Messenger.Broadcast(ctx, Channel, msg)
}

func (a *Agreement) drop(kind, reason string, sender int, txID string) {
	metrics.AgreementDropped.WithLabelValues(kind, reason).Inc()
	a.logger.Debug().
		Str("message", kind).
		Str("reason", reason).
		Int("sender", sender).
		Str("tx_id", txID).
		Msg("dropped agreement message")
}

func (a *Agreement) updateGauge() {
	metrics.AgreementCandidates.Set(float64(a.candidates.count()))
}

func agreeable(tx *chains.PaymentTransaction) bool {
	if tx == nil {
		return false
	}
	switch tx.TxType {
	case store.TxTypePayment, store.TxTypeReward, store.TxTypeArbitrary:
		return true
	default:
		return false
	}
}
