package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/bridge-guard/guard/store"
)

// TransactionCleaner removes invalid transactions once they have been kept for the retention period.
// Completed transactions are never removed: they keep their owner from being paid twice.
type TransactionCleaner struct {
	database        *DB
	retentionPeriod time.Duration
	now             func() time.Time
	logger          zerolog.Logger
}

// NewTransactionCleaner creates a new transaction cleaner.
func NewTransactionCleaner(database *DB, retentionPeriod time.Duration, logger zerolog.Logger) *TransactionCleaner {
	return &TransactionCleaner{
		database:        database,
		retentionPeriod: retentionPeriod,
		now:             time.Now,
		logger:          logger.With().Str("component", "transaction_cleaner").Logger(),
	}
}

// Run performs one cleanup pass. It is meant to be scheduled periodically.
func (tc *TransactionCleaner) Run(_ context.Context) error {
	if tc.retentionPeriod <= 0 {
		return nil
	}
	start := time.Now()
	cutoff := tc.now().Add(-tc.retentionPeriod)

	result := tc.database.Client().Unscoped().
		Where("status = ? AND updated_at < ?", store.TxStatusInvalid, cutoff).
		Delete(&store.Transaction{})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to delete old invalid transactions")
	}

	if result.RowsAffected == 0 {
		tc.logger.Debug().
			Dur("duration", time.Since(start)).
			Msg("transaction cleanup completed - no transactions to delete")
		return nil
	}

	tc.logger.Info().
		Int64("deleted_count", result.RowsAffected).
		Dur("duration", time.Since(start)).
		Msg("transaction cleanup completed")
	tc.checkpointWAL()
	return nil
}

// checkpointWAL truncates the write-ahead log after rows were removed.
func (tc *TransactionCleaner) checkpointWAL() {
	if err := tc.database.Client().Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		tc.logger.Warn().Err(err).Msg("failed to checkpoint WAL")
	}
}
