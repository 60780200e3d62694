package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/bridge-guard/guard/arbitraryprocessor"
	"github.com/pushchain/bridge-guard/guard/chains"
	"github.com/pushchain/bridge-guard/guard/db"
	"github.com/pushchain/bridge-guard/guard/eventstore"
	"github.com/pushchain/bridge-guard/guard/notification"
	"github.com/pushchain/bridge-guard/guard/store"
	"github.com/pushchain/bridge-guard/guard/txstore"
)

type fixedTurn struct{ active int }

func (f fixedTurn) GuardCount() int               { return 4 }
func (f fixedTurn) ActiveGuard() int              { return f.active }
func (f fixedTurn) SecondsUntilTurnEnds() int64   { return 42 }
func (f fixedTurn) SecondsUntilCycleReset() int64 { return 142 }

type testServer struct {
	handler http.Handler
	events  *eventstore.Store
	txs     *txstore.Store
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	logger := zerolog.New(zerolog.NewTestWriter(t))
	events := eventstore.NewStore(database.Client(), logger)
	txs := txstore.NewStore(database.Client(), logger)
	orders := arbitraryprocessor.New(arbitraryprocessor.Config{
		Orders:   events,
		Chains:   chains.NewRegistry(logger),
		Notifier: &notification.Recorder{},
		Logger:   logger,
	})

	server := NewServer(Config{
		Port:         0,
		GuardIndex:   1,
		Events:       events,
		Transactions: txs,
		Orders:       orders,
		Turn:         fixedTurn{active: 1},
		Logger:       logger,
	})
	return &testServer{handler: server.Handler(), events: events, txs: txs}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestRoutes(t *testing.T) {
	ts := setupTestServer(t)

	testCases := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"Health endpoint", http.MethodGet, "/health", http.StatusOK},
		{"Metrics endpoint", http.MethodGet, "/metrics", http.StatusOK},
		{"Turn endpoint", http.MethodGet, "/api/v1/turn", http.StatusOK},
		{"Wrong method", http.MethodPost, "/api/v1/events", http.StatusMethodNotAllowed},
		{"Non-existent endpoint", http.MethodGet, "/api/v1/non-existent", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, tc.method, tc.path, nil)
			assert.Equal(t, tc.expectedStatus, w.Code)
		})
	}
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestHandleEvents(t *testing.T) {
	ts := setupTestServer(t)
	for _, e := range []store.Event{
		{EventID: "e1", FromChain: "ergo", ToChain: "cardano", SourceTxID: "s1", Amount: "10", FirstSeenAt: time.Now()},
		{EventID: "e2", FromChain: "ergo", ToChain: "cardano", SourceTxID: "s2", Amount: "20", FirstSeenAt: time.Now()},
	} {
		e := e
		_, err := ts.events.InsertConfirmedEvent(&e)
		require.NoError(t, err)
	}
	require.NoError(t, ts.events.UpdateEventStatus("e2", store.EventStatusRejected))

	t.Run("default lists open events", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/events", nil)
		require.Equal(t, http.StatusOK, w.Code)
		events := decodeData[[]store.Event](t, w)
		require.Len(t, events, 1)
		assert.Equal(t, "e1", events[0].EventID)
	})

	t.Run("status filter", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/events?status=rejected,pending-payment", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeData[[]store.Event](t, w), 2)
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/events?limit=-3", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleTransactions(t *testing.T) {
	ts := setupTestServer(t)
	_, err := ts.events.InsertConfirmedEvent(&store.Event{
		EventID: "e1", FromChain: "ergo", ToChain: "cardano", SourceTxID: "s1", Amount: "10", FirstSeenAt: time.Now(),
	})
	require.NoError(t, err)
	stored, err := ts.txs.InsertApprovedTransaction(&store.Transaction{
		TxID: "t1", Network: "cardano", EventID: "e1", TxType: store.TxTypePayment,
	})
	require.NoError(t, err)
	require.True(t, stored)

	w := ts.do(t, http.MethodGet, "/api/v1/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	txs := decodeData[[]store.Transaction](t, w)
	require.Len(t, txs, 1)
	assert.Equal(t, store.TxStatusApproved, txs[0].Status)

	w = ts.do(t, http.MethodGet, "/api/v1/transactions?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeData[[]store.Transaction](t, w))
}

func TestOrders(t *testing.T) {
	ts := setupTestServer(t)
	body := []byte(`{"order_id":"O1","network":"ergo","order":{"to":"9f","amount":"5"}}`)

	w := ts.do(t, http.MethodPost, "/api/v1/orders", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, store.OrderStatusPending, decodeData[store.Order](t, w).Status)

	w = ts.do(t, http.MethodPost, "/api/v1/orders", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/orders", []byte(`{"order_id":"","network":"ergo","order":{}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/orders", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/orders/O1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	order := decodeData[store.Order](t, w)
	assert.Equal(t, "ergo", order.Network)
	assert.JSONEq(t, `{"to":"9f","amount":"5"}`, string(order.OrderJSON))

	w = ts.do(t, http.MethodGet, "/api/v1/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "not found"))
}

func TestHandleTurn(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/turn", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, TurnResponse{
		GuardIndex:             1,
		GuardCount:             4,
		ActiveGuard:            1,
		MyTurn:                 true,
		SecondsUntilTurnEnds:   42,
		SecondsUntilCycleReset: 142,
	}, resp)
}
