package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	guarderrors "github.com/pushchain/bridge-guard/guard/errors"
	"github.com/pushchain/bridge-guard/guard/eventstore"
	"github.com/pushchain/bridge-guard/guard/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxOrderBodySize = 1 << 20
)

var openEventStatuses = []string{
	store.EventStatusPendingPayment, store.EventStatusPaymentWaiting, store.EventStatusInPayment,
	store.EventStatusPendingReward, store.EventStatusRewardWaiting, store.EventStatusInReward,
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleEvents handles GET /api/v1/events?status=<s1,s2>&limit=<n>
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.cfg.Events.GetEventsByStatus(statusFilter(r, openEventStatuses), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list events")
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: events, Count: len(events)})
}

// handleTransactions handles GET /api/v1/transactions?status=<s1,s2>
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.cfg.Transactions.GetTransactionsByStatus(statusFilter(r, store.UnfinishedTxStatuses))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list transactions")
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: txs, Count: len(txs)})
}

// handleSubmitOrder handles POST /api/v1/orders
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := s.cfg.Orders.SubmitOrder(r.Context(), req.OrderID, req.Network, req.Order)
	switch {
	case err == nil:
		s.logger.Info().Str("order_id", order.OrderID).Str("network", order.Network).Msg("order submitted")
		writeJSON(w, http.StatusCreated, QueryResponse{Data: order})
	case errors.Is(err, eventstore.ErrOrderExists):
		writeError(w, http.StatusConflict, err.Error())
	case guarderrors.IsCode(err, guarderrors.ErrCodeProtocolInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Str("order_id", req.OrderID).Msg("failed to submit order")
		writeError(w, http.StatusInternalServerError, "failed to submit order")
	}
}

// handleGetOrder handles GET /api/v1/orders/{id}
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	order, err := s.cfg.Events.GetOrder(orderID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, QueryResponse{Data: order})
	case errors.Is(err, eventstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "order "+orderID+" not found")
	default:
		s.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to get order")
		writeError(w, http.StatusInternalServerError, "failed to get order")
	}
}

// handleTurn handles GET /api/v1/turn
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	active := s.cfg.Turn.ActiveGuard()
	writeJSON(w, http.StatusOK, TurnResponse{
		GuardIndex:             s.cfg.GuardIndex,
		GuardCount:             s.cfg.Turn.GuardCount(),
		ActiveGuard:            active,
		MyTurn:                 active == s.cfg.GuardIndex,
		SecondsUntilTurnEnds:   s.cfg.Turn.SecondsUntilTurnEnds(),
		SecondsUntilCycleReset: s.cfg.Turn.SecondsUntilCycleReset(),
	})
}

func statusFilter(r *http.Request, fallback []string) []string {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return fallback
	}
	var statuses []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, s)
		}
	}
	return statuses
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
