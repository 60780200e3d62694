package api

import "encoding/json"

// QueryResponse represents the standard query response format
type QueryResponse struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitOrderRequest is the body of POST /api/v1/orders. Order is the network specific order body.
type SubmitOrderRequest struct {
	OrderID string          `json:"order_id"`
	Network string          `json:"network"`
	Order   json.RawMessage `json:"order"`
}

// TurnResponse describes the current proposer slot as seen by this guard.
type TurnResponse struct {
	GuardIndex             int   `json:"guard_index"`
	GuardCount             int   `json:"guard_count"`
	ActiveGuard            int   `json:"active_guard"`
	MyTurn                 bool  `json:"my_turn"`
	SecondsUntilTurnEnds   int64 `json:"seconds_until_turn_ends"`
	SecondsUntilCycleReset int64 `json:"seconds_until_cycle_reset"`
}
