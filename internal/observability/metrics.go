package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_active_calls",
		Help: "Number of active voice calls",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_calls_total",
		Help: "Total number of calls started",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_call_duration_seconds",
		Help:    "Duration of voice calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Audio pipeline metrics
	audioFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_audio_frames_total",
		Help: "Total audio frames processed",
	}, []string{"direction"}) // direction: "in" or "out"

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"})

	bufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_jitter_buffer_depth_samples",
		Help: "Current jitter buffer depth in samples",
	})

	bufferOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_jitter_buffer_overflow_samples_total",
		Help: "Total samples dropped by jitter buffer overflow",
	})

	flushSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_flush_size_samples",
		Help:    "Samples extracted per jitter buffer flush",
		Buckets: []float64{12000, 24000, 48000, 72000, 96000, 120000},
	})

	interrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_interrupts_total",
		Help: "Total barge-in interrupts fired",
	})

	schedulingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_scheduling_failures_total",
		Help: "Total playback blocks rejected by the output device",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_client_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single call.
type Metrics struct {
	callID    string
	startTime time.Time
}

// NewCallMetrics creates a new metrics tracker for a call.
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call.
func (m *Metrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
	m.startTime = time.Now()
}

// RecordCallEnd records the end of a call.
func (m *Metrics) RecordCallEnd() {
	activeCalls.Dec()
	callDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFrame records one audio frame by direction ("in" or "out").
func (m *Metrics) RecordFrame(direction string, bytes int64) {
	audioFrames.WithLabelValues(direction).Inc()
	audioBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordBufferDepth updates the jitter buffer depth gauge.
func (m *Metrics) RecordBufferDepth(samples int) {
	bufferDepth.Set(float64(samples))
}

// RecordBufferOverflow records samples dropped during an overflow.
func (m *Metrics) RecordBufferOverflow(samples int64) {
	bufferOverflows.Add(float64(samples))
}

// RecordFlush records the size of a jitter buffer flush.
func (m *Metrics) RecordFlush(samples int) {
	flushSize.Observe(float64(samples))
}

// RecordInterrupt records a fired barge-in interrupt.
func (m *Metrics) RecordInterrupt() {
	interrupts.Inc()
}

// RecordSchedulingFailure records a rejected playback block.
func (m *Metrics) RecordSchedulingFailure() {
	schedulingFailures.Inc()
}

// RecordError records an error.
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates the circuit breaker state metric.
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments the circuit breaker failure counter.
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
