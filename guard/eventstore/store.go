package eventstore

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pushchain/bridge-guard/guard/store"
)

// ErrNotFound is returned when the requested event or order does not exist.
var ErrNotFound = errors.New("record not found")

// ErrIllegalTransition is returned when a status write does not follow the lifecycle lattice.
var ErrIllegalTransition = errors.New("illegal status transition")

// Store provides database access for confirmed events and submitted orders.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a new event store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "event_store").Logger(),
	}
}

// DB exposes the underlying handle so other stores can share transactions.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// InsertConfirmedEvent persists a newly confirmed event with status pending-payment.
// Returns false without error if the event is already known.
func (s *Store) InsertConfirmedEvent(event *store.Event) (bool, error) {
	var count int64
	if err := s.db.Model(&store.Event{}).Where("event_id = ?", event.EventID).Count(&count).Error; err != nil {
		return false, errors.Wrapf(err, "failed to check event %s", event.EventID)
	}
	if count > 0 {
		return false, nil
	}

	event.Status = store.EventStatusPendingPayment
	if event.FirstSeenAt.IsZero() {
		event.FirstSeenAt = time.Now()
	}
	if err := s.db.Create(event).Error; err != nil {
		return false, errors.Wrapf(err, "failed to create event %s", event.EventID)
	}
	s.logger.Info().
		Str("event_id", event.EventID).
		Str("from_chain", event.FromChain).
		Str("to_chain", event.ToChain).
		Msg("stored confirmed event")
	return true, nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(eventID string) (*store.Event, error) {
	var event store.Event
	err := s.db.Where("event_id = ?", eventID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get event %s", eventID)
	}
	return &event, nil
}

// GetEventsByStatus returns events in any of the given statuses, oldest first.
func (s *Store) GetEventsByStatus(statuses []string, limit int) ([]store.Event, error) {
	var events []store.Event
	query := s.db.Where("status IN ?", statuses).Order("first_seen_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query events with status %v", statuses)
	}
	return events, nil
}

// UpdateEventStatus moves an event to a new status, following the event lattice.
func (s *Store) UpdateEventStatus(eventID, status string) error {
	return TransitionEvent(s.db, eventID, status)
}

// TransitionEvent applies an event status change on the given handle (plain or transactional).
// The write is a compare-and-set on the statuses allowed to reach the target.
func TransitionEvent(db *gorm.DB, eventID, status string) error {
	sources := store.EventSourcesFor(status)
	if len(sources) == 0 {
		return errors.Wrapf(ErrIllegalTransition, "no event status leads to %s", status)
	}
	result := db.Model(&store.Event{}).
		Where("event_id = ? AND status IN ?", eventID, sources).
		Update("status", status)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update event %s", eventID)
	}
	if result.RowsAffected == 0 {
		return missingOrIllegal(db, &store.Event{}, "event_id", eventID, status)
	}
	return nil
}

// IncrementEventUnexpectedFails bumps the unexpected failure counter of an event.
func IncrementEventUnexpectedFails(db *gorm.DB, eventID string) error {
	result := db.Model(&store.Event{}).
		Where("event_id = ?", eventID).
		Update("unexpected_fails", gorm.Expr("unexpected_fails + 1"))
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to increment unexpected fails of event %s", eventID)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "event %s", eventID)
	}
	return nil
}

// TimeoutEvents moves every pending or waiting event first seen before cutoff to timeout.
func (s *Store) TimeoutEvents(cutoff time.Time) (int64, error) {
	result := s.db.Model(&store.Event{}).
		Where("status IN ? AND first_seen_at < ?", store.EventSourcesFor(store.EventStatusTimeout), cutoff).
		Update("status", store.EventStatusTimeout)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to time out leftover events")
	}
	return result.RowsAffected, nil
}

// RequeueWaitingEvents moves waiting events back to their pending status.
func (s *Store) RequeueWaitingEvents() (int64, error) {
	var total int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for waiting, pending := range map[string]string{
			store.EventStatusPaymentWaiting: store.EventStatusPendingPayment,
			store.EventStatusRewardWaiting:  store.EventStatusPendingReward,
		} {
			result := tx.Model(&store.Event{}).Where("status = ?", waiting).Update("status", pending)
			if result.Error != nil {
				return result.Error
			}
			total += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to requeue waiting events")
	}
	return total, nil
}

func missingOrIllegal(db *gorm.DB, model any, column, id, status string) error {
	var count int64
	if err := db.Model(model).Where(column+" = ?", id).Count(&count).Error; err != nil {
		return errors.Wrapf(err, "failed to look up %s", id)
	}
	if count == 0 {
		return errors.Wrapf(ErrNotFound, "%s", id)
	}
	return errors.Wrapf(ErrIllegalTransition, "%s cannot move to %s", id, status)
}
