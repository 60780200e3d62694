package agreement

import (
	"encoding/json"

	"github.com/pushchain/bridge-guard/guard/chains"
)

// Channel is the broadcast channel agreement messages travel on.
const Channel = "tx-agreement"

const (
	typeRequest  = "request"
	typeResponse = "response"
	typeApproval = "approval"
)

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type requestPayload struct {
	Tx        *chains.PaymentTransaction `json:"tx"`
	Proposer  int                        `json:"proposerId"`
	Signature []byte                     `json:"signature"`
}

type responsePayload struct {
	TxID      string `json:"txId"`
	OwnerID   string `json:"ownerId"`
	Agree     bool   `json:"agree"`
	Signature []byte `json:"signature"`
}

type approvalPayload struct {
	Tx         *chains.PaymentTransaction `json:"tx"`
	Signatures []Approval                 `json:"signatures"`
}

// Approval is one guard's signature over the metadata digest of a transaction.
type Approval struct {
	Guard     int    `json:"guardId"`
	Signature []byte `json:"signature"`
}

func encode(kind string, payload any) (message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return message{}, err
	}
	return message{Type: kind, Payload: raw}, nil
}
