package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	v1.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodGet)
	v1.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	v1.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	v1.HandleFunc("/turn", s.handleTurn).Methods(http.MethodGet)

	return r
}
