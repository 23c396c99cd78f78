package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_notes_active_sessions",
		Help: "Number of open note sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_notes_sessions_total",
		Help: "Total number of note sessions opened",
	})

	// Summarization metrics
	summaryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_summary_requests_total",
		Help: "Total number of summarization requests by outcome",
	}, []string{"outcome"}) // success, failure, rejected

	summaryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_notes_summary_latency_seconds",
		Help:    "Latency of summarization calls in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	summariesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_notes_summaries_in_flight",
		Help: "Number of summarization calls currently outstanding",
	})

	// Recognition metrics
	recognitionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_recognition_total",
		Help: "Total number of speech recognitions by outcome",
	}, []string{"outcome"}) // success, no_speech, cancelled, error

	// One-shot UI events
	uiEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_ui_events_total",
		Help: "One-shot UI events by kind and delivery",
	}, []string{"event", "delivery"}) // delivery: delivered, dropped

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_notes_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_notes_audio_bytes_total",
		Help: "Total audio bytes received for server-side recognition",
	})
)

// RecordSessionOpen records a new note session
func RecordSessionOpen() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionClose records a closed note session
func RecordSessionClose() {
	activeSessions.Dec()
}

// SummaryTimer tracks one summarization call
type SummaryTimer struct {
	start time.Time
}

// StartSummary marks a summarization call as in flight
func StartSummary() *SummaryTimer {
	summariesInFlight.Inc()
	return &SummaryTimer{start: time.Now()}
}

// Done records the outcome and latency of the call
func (t *SummaryTimer) Done(success bool) {
	summariesInFlight.Dec()
	summaryLatency.Observe(time.Since(t.start).Seconds())

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	summaryRequests.WithLabelValues(outcome).Inc()
}

// RecordSummaryRejected records a summarization rejected before any network call
func RecordSummaryRejected() {
	summaryRequests.WithLabelValues("rejected").Inc()
}

// RecordRecognition records a speech recognition outcome
func RecordRecognition(outcome string) {
	recognitionRequests.WithLabelValues(outcome).Inc()
}

// RecordUIEvent records a one-shot event and whether an observer received it
func RecordUIEvent(event string, delivered bool) {
	delivery := "delivered"
	if !delivered {
		delivery = "dropped"
	}
	uiEvents.WithLabelValues(event, delivery).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes received
func RecordAudioBytes(bytes int) {
	audioBytesProcessed.Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
