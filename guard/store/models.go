// Package store contains the GORM-backed SQLite models persisted by a guard node.
//
// Database Structure (database file: guard.db):
//
//	<NodeHome>/
//	└── databases/
//	    └── guard.db
//	        ├── events        confirmed bridge events
//	        ├── orders        externally submitted arbitrary orders
//	        └── transactions  approved payment transactions and their lifecycle
//
// In-flight agreement state is never persisted: only an approved transaction and the status of its
// owning event/order survive a restart.
package store

import (
	"time"

	"gorm.io/gorm"
)

// Event is a confirmed lock observed on a source chain. Every field except Status and
// UnexpectedFails is immutable once persisted.
type Event struct {
	gorm.Model
	EventID            string `gorm:"uniqueIndex;not null"` // blake2b256(SourceTxID), hex
	FromChain          string `gorm:"not null"`
	ToChain            string `gorm:"not null"`
	FromAddress        string
	ToAddress          string
	Amount             string // decimal string in source token units
	BridgeFee          string
	NetworkFee         string
	SourceChainTokenID string
	TargetChainTokenID string
	SourceTxID         string `gorm:"not null"`
	SourceBlockID      string
	SourceBlockHeight  uint64
	WIDsHash           string // hash over contributing watcher commitments
	WIDsCount          int
	Status             string    `gorm:"index;not null"`
	UnexpectedFails    int       `gorm:"not null;default:0"`
	FirstSeenAt        time.Time `gorm:"index"`
}

// TableName specifies the table name for Event.
func (Event) TableName() string {
	return "events"
}

// Order is an externally submitted one-off payment instruction. OrderJSON is opaque to the core and
// interpreted only by the chain driver of Network.
type Order struct {
	gorm.Model
	OrderID         string    `gorm:"uniqueIndex;not null"`
	Network         string    `gorm:"not null"`
	OrderJSON       []byte    `gorm:"type:text"`
	Status          string    `gorm:"index;not null"`
	UnexpectedFails int       `gorm:"not null;default:0"`
	FirstSeenAt     time.Time `gorm:"index"`
}

// TableName specifies the table name for Order.
func (Order) TableName() string {
	return "orders"
}

// Transaction is an agreed (approved) transaction. At most one non-invalid row exists per owner.
type Transaction struct {
	gorm.Model
	TxID             string `gorm:"uniqueIndex;not null"`
	Network          string `gorm:"not null"`
	EventID          string `gorm:"index"` // owner for payment, reward, coldStorage and manual
	OrderID          string `gorm:"index"` // owner for arbitrary
	TxType           string `gorm:"not null"`
	TxBytes          []byte
	Status           string `gorm:"index;not null"`
	LastCheck        uint64 // target chain height at the last status check
	LastStatusUpdate time.Time
	SignRequestedAt  *time.Time
	FailedInSign     bool
	Signatures       []byte `gorm:"type:text"` // JSON-encoded guard approvals
}

// TableName specifies the table name for Transaction.
func (Transaction) TableName() string {
	return "transactions"
}

// OwnerID returns the id of the event or order that owns the transaction.
func (t *Transaction) OwnerID() string {
	if t.TxType == TxTypeArbitrary {
		return t.OrderID
	}
	return t.EventID
}
