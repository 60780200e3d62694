package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Agreement
	AgreementProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "agreement",
		Name:      "proposals_total",
		Help:      "Total transactions proposed by this guard",
	}, []string{"tx_type"})

	AgreementApprovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "agreement",
		Name:      "approvals_total",
		Help:      "Total transactions finalized as approved",
	}, []string{"tx_type"})

	AgreementAborts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "agreement",
		Name:      "aborts_total",
		Help:      "Total candidates aborted after a disagreeing majority",
	})

	AgreementDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "agreement",
		Name:      "dropped_messages_total",
		Help:      "Total agreement messages dropped at the message boundary",
	}, []string{"message", "reason"})

	AgreementCleared = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "agreement",
		Name:      "cleared_candidates_total",
		Help:      "Total in-memory candidates dropped by turn-end and cycle-reset clears",
	}, []string{"kind"})

	AgreementCandidates = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guard",
		Subsystem: "agreement",
		Name:      "candidates",
		Help:      "Candidates currently held in memory",
	})

	// Lifecycle
	EventTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "events",
		Name:      "transitions_total",
		Help:      "Total event status transitions written by processors",
	}, []string{"status"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Total order status transitions written by processors",
	}, []string{"status"})

	TxTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "transactions",
		Name:      "transitions_total",
		Help:      "Total transaction status transitions",
	}, []string{"network", "status"})

	TxInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "transactions",
		Name:      "invalidations_total",
		Help:      "Total transactions invalidated",
	}, []string{"network", "unexpected"})

	// Scheduler
	SweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "scheduler",
		Name:      "errors_total",
		Help:      "Total per-record and per-run errors of scheduled duties",
	}, []string{"job"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guard",
		Subsystem: "scheduler",
		Name:      "run_duration_seconds",
		Help:      "Duration of a single run of a scheduled duty",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"job"})

	InvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "errors",
		Name:      "invariant_violations_total",
		Help:      "Total invariant violations detected per component",
	}, []string{"component"})

	// Notifications
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "notification",
		Name:      "sent_total",
		Help:      "Total operator notifications delivered per sink",
	}, []string{"sink", "severity"})

	NotificationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Subsystem: "notification",
		Name:      "errors_total",
		Help:      "Total failed notification deliveries per sink",
	}, []string{"sink"})
)
