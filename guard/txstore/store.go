// Package txstore persists agreed transactions and keeps the status of their owning event or order in
// step with them. Every write that touches both a transaction and its owner runs in one database
// transaction.
package txstore

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	guarderrors "github.com/pushchain/bridge-guard/guard/errors"
	"github.com/pushchain/bridge-guard/guard/eventstore"
	"github.com/pushchain/bridge-guard/guard/store"
)

var (
	// ErrNotFound is returned when the requested transaction does not exist.
	ErrNotFound = errors.New("transaction not found")

	// ErrStatusChanged is returned when a compare-and-set found the transaction in another status.
	ErrStatusChanged = errors.New("transaction status changed concurrently")

	// ErrOwnerBusy is returned when a competing transaction for the same owner already advanced past approved.
	ErrOwnerBusy = errors.New("owner already has a transaction in progress")
)

// Store provides database access for approved transactions.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a new transaction store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "tx_store").Logger(),
	}
}

// InsertApprovedTransaction persists tx as approved and moves its owner to the in-progress status.
//
// If the owner already has an active transaction of the same type, the existing row is replaced only
// while it is still approved and only by a lexicographically smaller tx id. A larger id loses and is
// dropped. Reports whether tx is now the stored transaction.
func (s *Store) InsertApprovedTransaction(tx *store.Transaction) (bool, error) {
	stored := false
	err := s.db.Transaction(func(dbTx *gorm.DB) error {
		var same int64
		if err := dbTx.Model(&store.Transaction{}).Where("tx_id = ?", tx.TxID).Count(&same).Error; err != nil {
			return errors.Wrapf(err, "failed to look up transaction %s", tx.TxID)
		}
		if same > 0 {
			// replayed approval
			return nil
		}

		owner := tx.OwnerID()
		var existing []store.Transaction
		if owner != "" {
			var err error
			existing, err = activeForOwner(dbTx, tx.TxType, owner)
			if err != nil {
				return err
			}
		}

		switch {
		case len(existing) > 1:
			return guarderrors.NewInvariantError("more than one active transaction for owner").
				WithContext("owner_id", owner).
				WithContext("tx_type", tx.TxType)
		case len(existing) == 1:
			current := existing[0]
			if current.Status != store.TxStatusApproved {
				return errors.Wrapf(ErrOwnerBusy, "owner %s has transaction %s in status %s", owner, current.TxID, current.Status)
			}
			if tx.TxID >= current.TxID {
				s.logger.Info().
					Str("tx_id", tx.TxID).
					Str("kept_tx_id", current.TxID).
					Str("owner_id", owner).
					Msg("competing transaction lost tie-break")
				return nil
			}
			if err := dbTx.Unscoped().Delete(&store.Transaction{}, current.ID).Error; err != nil {
				return errors.Wrapf(err, "failed to replace transaction %s", current.TxID)
			}
			s.logger.Info().
				Str("tx_id", tx.TxID).
				Str("replaced_tx_id", current.TxID).
				Str("owner_id", owner).
				Msg("replaced approved transaction with smaller id")
		default:
			if err := markOwnerInProgress(dbTx, tx); err != nil {
				return err
			}
		}

		tx.Status = store.TxStatusApproved
		tx.LastStatusUpdate = time.Now()
		if err := dbTx.Create(tx).Error; err != nil {
			return errors.Wrapf(err, "failed to insert transaction %s", tx.TxID)
		}
		stored = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

func activeForOwner(db *gorm.DB, txType, owner string) ([]store.Transaction, error) {
	column := "event_id"
	if txType == store.TxTypeArbitrary {
		column = "order_id"
	}
	var txs []store.Transaction
	err := db.Where(column+" = ? AND tx_type = ? AND status IN ?", owner, txType, store.ActiveTxStatuses).
		Find(&txs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query active transactions of %s", owner)
	}
	return txs, nil
}

func markOwnerInProgress(db *gorm.DB, tx *store.Transaction) error {
	if tx.TxType == store.TxTypeArbitrary {
		return eventstore.TransitionOrder(db, tx.OrderID, store.OrderStatusInProgress)
	}
	if _, inProgress, ok := store.InProgressEventStatus(tx.TxType); ok {
		return eventstore.TransitionEvent(db, tx.EventID, inProgress)
	}
	return nil
}

// GetTransaction retrieves a transaction by id.
func (s *Store) GetTransaction(txID string) (*store.Transaction, error) {
	var tx store.Transaction
	err := s.db.Where("tx_id = ?", txID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get transaction %s", txID)
	}
	return &tx, nil
}

// GetTransactionsByStatus returns transactions in any of the given statuses, oldest first.
func (s *Store) GetTransactionsByStatus(statuses []string) ([]store.Transaction, error) {
	var txs []store.Transaction
	if err := s.db.Where("status IN ?", statuses).Order("id ASC").Find(&txs).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query transactions with status %v", statuses)
	}
	return txs, nil
}

// GetUnfinishedTransactions returns every transaction not yet completed or invalid.
func (s *Store) GetUnfinishedTransactions() ([]store.Transaction, error) {
	return s.GetTransactionsByStatus(store.UnfinishedTxStatuses)
}

// GetActiveTransaction returns the active transaction of the given type for an owner, or nil.
func (s *Store) GetActiveTransaction(ownerID, txType string) (*store.Transaction, error) {
	txs, err := activeForOwner(s.db, txType, ownerID)
	if err != nil {
		return nil, err
	}
	switch len(txs) {
	case 0:
		return nil, nil
	case 1:
		return &txs[0], nil
	default:
		return nil, guarderrors.NewInvariantError("more than one active transaction for owner").
			WithContext("owner_id", ownerID).
			WithContext("tx_type", txType)
	}
}

// UpdateStatus moves a transaction from one status to another if it is still in the expected one.
func (s *Store) UpdateStatus(txID, from, to string) error {
	return s.update(txID, from, to, nil)
}

// SetSignRequested marks a signing request as outstanding.
func (s *Store) SetSignRequested(txID, from string, at time.Time) error {
	return s.update(txID, from, store.TxStatusInSign, map[string]any{"sign_requested_at": at})
}

// SetSigned stores the signed bytes of a transaction still waiting for its signature.
func (s *Store) SetSigned(txID string, txBytes []byte) error {
	return s.update(txID, store.TxStatusInSign, store.TxStatusSigned, map[string]any{"tx_bytes": txBytes})
}

// SetSignFailed records that the outstanding signing request failed or timed out.
func (s *Store) SetSignFailed(txID string) error {
	return s.update(txID, store.TxStatusInSign, store.TxStatusSignFailed, map[string]any{"failed_in_sign": true})
}

// SetSent marks a transaction as submitted at the given chain height.
func (s *Store) SetSent(txID, from string, height uint64) error {
	return s.update(txID, from, store.TxStatusSent, map[string]any{"last_check": height})
}

// UpdateLastCheck refreshes the chain height at which the transaction was last seen alive.
func (s *Store) UpdateLastCheck(txID string, height uint64) error {
	result := s.db.Model(&store.Transaction{}).
		Where("tx_id = ?", txID).
		Update("last_check", height)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update last check of %s", txID)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "transaction %s", txID)
	}
	return nil
}

func (s *Store) update(txID, from, to string, extra map[string]any) error {
	return updateStatus(s.db, txID, from, to, extra)
}

func updateStatus(db *gorm.DB, txID, from, to string, extra map[string]any) error {
	if !store.CanTransitionTx(from, to) {
		return errors.Wrapf(eventstore.ErrIllegalTransition, "transaction %s cannot move from %s to %s", txID, from, to)
	}
	updates := map[string]any{
		"status":             to,
		"last_status_update": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := db.Model(&store.Transaction{}).
		Where("tx_id = ? AND status = ?", txID, from).
		Updates(updates)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update transaction %s", txID)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&store.Transaction{}).Where("tx_id = ?", txID).Count(&count).Error; err != nil {
			return errors.Wrapf(err, "failed to look up transaction %s", txID)
		}
		if count == 0 {
			return errors.Wrapf(ErrNotFound, "transaction %s", txID)
		}
		return errors.Wrapf(ErrStatusChanged, "transaction %s is no longer %s", txID, from)
	}
	return nil
}

// Complete marks a sent transaction as completed and advances its owner: a finished payment opens the
// reward phase, a finished reward completes the event and a finished arbitrary transaction completes
// the order.
func (s *Store) Complete(tx *store.Transaction) error {
	return s.db.Transaction(func(dbTx *gorm.DB) error {
		if err := updateStatus(dbTx, tx.TxID, store.TxStatusSent, store.TxStatusCompleted, nil); err != nil {
			return err
		}
		switch tx.TxType {
		case store.TxTypePayment:
			return eventstore.TransitionEvent(dbTx, tx.EventID, store.EventStatusPendingReward)
		case store.TxTypeReward:
			return eventstore.TransitionEvent(dbTx, tx.EventID, store.EventStatusCompleted)
		case store.TxTypeArbitrary:
			return eventstore.TransitionOrder(dbTx, tx.OrderID, store.OrderStatusCompleted)
		}
		return nil
	})
}

// Invalidate marks a transaction invalid and returns its owner to the pending status so a fresh
// transaction can be proposed. When unexpected is set, the owner's unexpected failure counter is
// incremented as well.
func (s *Store) Invalidate(tx *store.Transaction, unexpected bool) error {
	return s.db.Transaction(func(dbTx *gorm.DB) error {
		if err := updateStatus(dbTx, tx.TxID, tx.Status, store.TxStatusInvalid, nil); err != nil {
			return err
		}
		if tx.TxType == store.TxTypeArbitrary {
			if err := eventstore.TransitionOrder(dbTx, tx.OrderID, store.OrderStatusPending); err != nil {
				return err
			}
			if unexpected {
				return eventstore.IncrementOrderUnexpectedFails(dbTx, tx.OrderID)
			}
			return nil
		}
		pending, _, ok := store.InProgressEventStatus(tx.TxType)
		if !ok {
			return nil
		}
		if err := eventstore.TransitionEvent(dbTx, tx.EventID, pending); err != nil {
			return err
		}
		if unexpected {
			return eventstore.IncrementEventUnexpectedFails(dbTx, tx.EventID)
		}
		return nil
	})
}
