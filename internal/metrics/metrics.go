// Package metrics holds the Prometheus collectors exported on /metrics
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

const namespace = "receiptguard"

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluations_total",
		Help:      "Receipts evaluated, by resulting action",
	}, []string{"action"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "evaluation_duration_seconds",
		Help:      "End-to-end evaluation latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	signalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "signal_duration_seconds",
		Help:      "Latency of each signal extractor",
		Buckets:   prometheus.DefBuckets,
	}, []string{"signal"})

	fraudScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fraud_score",
		Help:      "Distribution of fraud scores",
		Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 80, 100},
	})

	duplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_total",
		Help:      "Duplicate receipts detected, by kind",
	}, []string{"kind"})

	validatorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validator_calls_total",
		Help:      "Content validator attempts, by provider and outcome",
	}, []string{"provider", "outcome"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Current state of circuit breakers (0=closed, 0.5=half-open, 1=open)",
	}, []string{"breaker"})

	corpusEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "corpus_entries",
		Help:      "Entries in the receipt corpus as of the last record",
	})
)

// ObserveEvaluation records one finished evaluation
func ObserveEvaluation(action string, score int, seconds float64) {
	evaluationsTotal.WithLabelValues(action).Inc()
	fraudScore.Observe(float64(score))
	evaluationDuration.Observe(seconds)
}

// ObserveSignal records how long one extractor took
func ObserveSignal(signal string, seconds float64) {
	signalDuration.WithLabelValues(signal).Observe(seconds)
}

// IncDuplicate counts a detected duplicate; kind is same_submitter,
// cross_submitter or concurrent
func IncDuplicate(kind string) {
	duplicatesTotal.WithLabelValues(kind).Inc()
}

// IncValidatorCall counts one validator attempt
func IncValidatorCall(provider, outcome string) {
	validatorCalls.WithLabelValues(provider, outcome).Inc()
}

// SetCorpusEntries publishes the corpus size
func SetCorpusEntries(n int) {
	corpusEntries.Set(float64(n))
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	default:
		return -1
	}
}

// RecordBreakerState publishes a breaker transition
func RecordBreakerState(name string, state gobreaker.State) {
	breakerState.WithLabelValues(name).Set(breakerStateValue(state))
}
