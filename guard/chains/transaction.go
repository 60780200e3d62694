package chains

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"

	"github.com/pushchain/bridge-guard/guard/store"
)

const (
	approveDomain = "bridge-guard/tx-agreement/approve"
	rejectDomain  = "bridge-guard/tx-agreement/reject"
)

// PaymentTransaction is the chain-agnostic envelope around a serialized transaction.
type PaymentTransaction struct {
	Network string `json:"network"`
	TxID    string `json:"txId"`
	EventID string `json:"eventId,omitempty"`
	OrderID string `json:"orderId,omitempty"`
	TxType  string `json:"txType"`
	TxBytes []byte `json:"txBytes"`
}

// OwnerID returns the id of the event or order the transaction pays.
func (p *PaymentTransaction) OwnerID() string {
	if p.TxType == store.TxTypeArbitrary {
		return p.OrderID
	}
	return p.EventID
}

// ToRecord converts the envelope into a transaction row.
func (p *PaymentTransaction) ToRecord() *store.Transaction {
	return &store.Transaction{
		TxID:    p.TxID,
		Network: p.Network,
		EventID: p.EventID,
		OrderID: p.OrderID,
		TxType:  p.TxType,
		TxBytes: append([]byte(nil), p.TxBytes...),
	}
}

// FromRecord converts a stored transaction back into an envelope.
func FromRecord(tx *store.Transaction) *PaymentTransaction {
	return &PaymentTransaction{
		Network: tx.Network,
		TxID:    tx.TxID,
		EventID: tx.EventID,
		OrderID: tx.OrderID,
		TxType:  tx.TxType,
		TxBytes: append([]byte(nil), tx.TxBytes...),
	}
}

// MetadataDigest is the digest guards sign to approve a transaction. It covers only the tx id and
// owner id so every guard recomputes it identically regardless of how the bytes were built.
func MetadataDigest(tx *PaymentTransaction) []byte {
	return digest(approveDomain, tx)
}

// RejectionDigest is the digest signed in a disagreeing response. It never verifies as an approval.
func RejectionDigest(tx *PaymentTransaction) []byte {
	return digest(rejectDomain, tx)
}

func digest(domain string, tx *PaymentTransaction) []byte {
	sep := []byte{0}
	return crypto.Keccak256(
		[]byte(domain), sep,
		[]byte(tx.TxType), sep,
		[]byte(tx.TxID), sep,
		[]byte(tx.OwnerID()),
	)
}

// EventID derives the identity of a bridge event from its source transaction id.
func EventID(sourceTxID string) string {
	sum := blake2b.Sum256([]byte(sourceTxID))
	return hex.EncodeToString(sum[:])
}
