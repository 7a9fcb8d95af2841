package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	scanWorker = "scan_worker"

	moduleInvocationsTotal = "module_invocations_total"
	moduleDurationSeconds  = "module_duration_seconds"
	circuitBreakerTrips    = "circuit_breaker_trips_total"
	scansTotal             = "scans_total"
	detectionTruncations   = "detection_truncations_total"
	validationTokensTotal  = "validation_tokens_total"
	intakeMessagesTotal    = "intake_messages_total"
	findingsTotal          = "findings_total"
	eventsDroppedTotal     = "events_dropped_total"

	// Labels
	moduleLabel    = "module"
	outcomeLabel   = "outcome"
	stateLabel     = "state"
	transportLabel = "transport"
	decisionLabel  = "decision"
	severityLabel  = "severity"
)

var moduleInvocationsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: scanWorker,
		Name:      moduleInvocationsTotal,
		Help:      "number of module invocations by outcome",
	},
	[]string{moduleLabel, outcomeLabel},
)

var moduleDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: scanWorker,
		Name:      moduleDurationSeconds,
		Help:      "time spent by a module on one scan",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
	},
	[]string{moduleLabel},
)

var circuitBreakerTripsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: scanWorker,
		Name:      circuitBreakerTrips,
		Help:      "number of per-scan circuit breakers opened",
	},
	[]string{moduleLabel},
)

var scansTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: scanWorker,
		Name:      scansTotal,
		Help:      "number of scans reaching a terminal state",
	},
	[]string{stateLabel},
)

var detectionTruncationsMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: scanWorker,
		Name:      detectionTruncations,
		Help:      "number of input units truncated by the noise cap",
	},
)

var validationTokensMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: scanWorker,
		Name:      validationTokensTotal,
		Help:      "number of tokens sent to the validation service",
	},
	[]string{outcomeLabel},
)

var intakeMessagesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: scanWorker,
		Name:      intakeMessagesTotal,
		Help:      "number of inbound scan messages by transport and decision",
	},
	[]string{transportLabel, decisionLabel},
)

var findingsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: scanWorker,
		Name:      findingsTotal,
		Help:      "number of persisted findings by severity",
	},
	[]string{severityLabel},
)

var eventsDroppedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: scanWorker,
		Name:      eventsDroppedTotal,
		Help:      "number of outbound events given up after retries",
	},
)

func IncreaseModuleInvocations(module, outcome string, count int) {
	moduleInvocationsMetric.With(prometheus.Labels{moduleLabel: module, outcomeLabel: outcome}).Add(float64(count))
}

func ObserveModuleDuration(module string, d time.Duration) {
	moduleDurationMetric.With(prometheus.Labels{moduleLabel: module}).Observe(d.Seconds())
}

func IncreaseCircuitBreakerTrips(module string) {
	circuitBreakerTripsMetric.With(prometheus.Labels{moduleLabel: module}).Inc()
}

func IncreaseScansTotal(state string) {
	scansTotalMetric.With(prometheus.Labels{stateLabel: state}).Inc()
}

func IncreaseDetectionTruncations(count int) {
	detectionTruncationsMetric.Add(float64(count))
}

func IncreaseValidationTokens(outcome string, count int) {
	validationTokensMetric.With(prometheus.Labels{outcomeLabel: outcome}).Add(float64(count))
}

func IncreaseIntakeMessages(transport, decision string) {
	intakeMessagesMetric.With(prometheus.Labels{transportLabel: transport, decisionLabel: decision}).Inc()
}

func IncreaseFindingsTotal(severity string) {
	findingsTotalMetric.With(prometheus.Labels{severityLabel: severity}).Inc()
}

func IncreaseEventsDropped() {
	eventsDroppedMetric.Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(moduleInvocationsMetric)
	prometheus.MustRegister(moduleDurationMetric)
	prometheus.MustRegister(circuitBreakerTripsMetric)
	prometheus.MustRegister(scansTotalMetric)
	prometheus.MustRegister(detectionTruncationsMetric)
	prometheus.MustRegister(validationTokensMetric)
	prometheus.MustRegister(intakeMessagesMetric)
	prometheus.MustRegister(findingsTotalMetric)
	prometheus.MustRegister(eventsDroppedMetric)
}
