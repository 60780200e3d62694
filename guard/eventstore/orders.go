package eventstore

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/pushchain/bridge-guard/guard/store"
)

// ErrOrderExists is returned when an order id is submitted twice.
var ErrOrderExists = errors.New("order already exists")

// InsertOrder persists a submitted order with status pending.
func (s *Store) InsertOrder(order *store.Order) error {
	var count int64
	if err := s.db.Model(&store.Order{}).Where("order_id = ?", order.OrderID).Count(&count).Error; err != nil {
		return errors.Wrapf(err, "failed to check order %s", order.OrderID)
	}
	if count > 0 {
		return errors.Wrapf(ErrOrderExists, "order %s", order.OrderID)
	}

	order.Status = store.OrderStatusPending
	if order.FirstSeenAt.IsZero() {
		order.FirstSeenAt = time.Now()
	}
	if err := s.db.Create(order).Error; err != nil {
		return errors.Wrapf(err, "failed to create order %s", order.OrderID)
	}
	s.logger.Info().
		Str("order_id", order.OrderID).
		Str("network", order.Network).
		Msg("stored arbitrary order")
	return nil
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(orderID string) (*store.Order, error) {
	var order store.Order
	err := s.db.Where("order_id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get order %s", orderID)
	}
	return &order, nil
}

// GetOrdersByStatus returns orders in any of the given statuses, oldest first.
func (s *Store) GetOrdersByStatus(statuses []string, limit int) ([]store.Order, error) {
	var orders []store.Order
	query := s.db.Where("status IN ?", statuses).Order("first_seen_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query orders with status %v", statuses)
	}
	return orders, nil
}

// UpdateOrderStatus moves an order to a new status, following the order lattice.
func (s *Store) UpdateOrderStatus(orderID, status string) error {
	return TransitionOrder(s.db, orderID, status)
}

// TransitionOrder applies an order status change on the given handle.
func TransitionOrder(db *gorm.DB, orderID, status string) error {
	sources := store.OrderSourcesFor(status)
	if len(sources) == 0 {
		return errors.Wrapf(ErrIllegalTransition, "no order status leads to %s", status)
	}
	result := db.Model(&store.Order{}).
		Where("order_id = ? AND status IN ?", orderID, sources).
		Update("status", status)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update order %s", orderID)
	}
	if result.RowsAffected == 0 {
		return missingOrIllegal(db, &store.Order{}, "order_id", orderID, status)
	}
	return nil
}

// IncrementOrderUnexpectedFails bumps the unexpected failure counter of an order.
func IncrementOrderUnexpectedFails(db *gorm.DB, orderID string) error {
	result := db.Model(&store.Order{}).
		Where("order_id = ?", orderID).
		Update("unexpected_fails", gorm.Expr("unexpected_fails + 1"))
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to increment unexpected fails of order %s", orderID)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "order %s", orderID)
	}
	return nil
}

// TimeoutOrders moves every pending or waiting order first seen before cutoff to timeout.
func (s *Store) TimeoutOrders(cutoff time.Time) (int64, error) {
	result := s.db.Model(&store.Order{}).
		Where("status IN ? AND first_seen_at < ?", store.OrderSourcesFor(store.OrderStatusTimeout), cutoff).
		Update("status", store.OrderStatusTimeout)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to time out leftover orders")
	}
	return result.RowsAffected, nil
}

// RequeueWaitingOrders moves waiting orders back to pending.
func (s *Store) RequeueWaitingOrders() (int64, error) {
	result := s.db.Model(&store.Order{}).
		Where("status = ?", store.OrderStatusWaiting).
		Update("status", store.OrderStatusPending)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to requeue waiting orders")
	}
	return result.RowsAffected, nil
}
