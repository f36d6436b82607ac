package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	paymentEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_received_total",
		Help: "Total provider notifications stored by the ingestion path",
	}, []string{
		"provider", // mpesa_c2b, mpesa_stk, bank_transfer, generic
		"status",   // received, duplicate
	})

	// Intake metrics
	paymentEventsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_validated_total",
		Help: "Total validation outcomes",
	}, []string{
		"provider",
		"outcome", // queued, failed, duplicate
	})

	// Matching metrics
	matchOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "match_outcomes_total",
		Help: "Total matching attempts by resulting status",
	}, []string{
		"status", // matched, partial_match, unmatched, exception
	})

	matchConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "match_confidence",
		Help: "Confidence of the best candidate per matching attempt",
		// Buckets follow the default bands: low 20, high 55
		Buckets: []float64{0, 10, 20, 30, 40, 55, 70, 85, 100},
	})

	matchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "match_candidates",
		Help:    "Number of scored candidates per matching attempt",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 25},
	})

	// Queue metrics
	queueRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_retries_total",
		Help: "Total failed attempts scheduled for retry",
	}, []string{
		"status",
	})

	manualReviewTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_manual_review_total",
		Help: "Total items escalated to manual review",
	}, []string{
		"reason", // retries_exhausted, reversal, application_conflict
	})

	// Ledger metrics
	ledgerApplicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_applications_total",
		Help: "Total ledger application attempts",
	}, []string{
		"result", // applied, already_applied, conflict, failed
	})

	ledgerAppliedMinor = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_applied_amount_minor_total",
		Help: "Total amount credited to fee accounts in minor units",
	}, []string{
		"currency",
	})

	// Operator metrics
	operatorActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operator_actions_total",
		Help: "Total manual-review actions",
	}, []string{
		"action", // confirm, ignore, requeue, resubmit
	})

	// Notification metrics
	notificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Notifications dropped because a buffer was full or a sink failed",
	}, []string{
		"stage", // broker, subscriber, sink, circuit_open
	})

	sinkCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notification_sink_circuit_state",
		Help: "Circuit breaker state per notification sink (0 closed, 1 open, 2 half-open)",
	}, []string{"sink"})
)

// RecordEventReceived records a stored provider notification
func RecordEventReceived(provider, status string) {
	paymentEventsReceived.WithLabelValues(provider, status).Inc()
}

// RecordValidation records the intake outcome for one event
func RecordValidation(provider, outcome string) {
	paymentEventsValidated.WithLabelValues(provider, outcome).Inc()
}

// RecordMatchOutcome records one matching attempt
func RecordMatchOutcome(status string, confidence float64, candidates int) {
	matchOutcomesTotal.WithLabelValues(status).Inc()
	matchConfidence.Observe(confidence)
	matchCandidates.Observe(float64(candidates))
}

// RecordQueueRetry records a failed attempt that was rescheduled
func RecordQueueRetry(status string) {
	queueRetriesTotal.WithLabelValues(status).Inc()
}

// RecordManualReview records an escalation to manual review
func RecordManualReview(reason string) {
	manualReviewTotal.WithLabelValues(reason).Inc()
}

// RecordLedgerApplication records a ledger application attempt.
// Only applied results count toward the credited amount.
func RecordLedgerApplication(result string, amountMinor int64, currency string) {
	ledgerApplicationsTotal.WithLabelValues(result).Inc()
	if result == "applied" {
		ledgerAppliedMinor.WithLabelValues(currency).Add(float64(amountMinor))
	}
}

// RecordOperatorAction records a manual-review action
func RecordOperatorAction(action string) {
	operatorActionsTotal.WithLabelValues(action).Inc()
}

// RecordNotificationDropped records a notification that was not delivered
func RecordNotificationDropped(stage string) {
	notificationsDropped.WithLabelValues(stage).Inc()
}

// RecordSinkCircuitState records a notification sink's breaker state
func RecordSinkCircuitState(sink string, state int) {
	sinkCircuitState.WithLabelValues(sink).Set(float64(state))
}
