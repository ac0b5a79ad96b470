package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_gateway_active_sessions",
		Help: "Number of active call sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_gateway_sessions_total",
		Help: "Total number of call sessions processed",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_gateway_session_duration_seconds",
		Help:    "Duration of call sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	sessionEndings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_session_endings_total",
		Help: "Total session endings by trigger",
	}, []string{"reason"}) // reason: client_disconnect, end_phrase, silence_timeout, upstream_stall, upstream_error, shutdown

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	droppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_dropped_frames_total",
		Help: "Audio frames dropped on queue overflow",
	}, []string{"queue"}) // queue: "to_upstream" or "from_upstream"

	// Transcript metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_turns_total",
		Help: "Total transcript entries flushed",
	}, []string{"role"}) // role: "USER" or "AI"

	// Upstream metrics
	upstreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_upstream_reconnects_total",
		Help: "Total upstream reconnection attempts",
	}, []string{"status"})

	summaryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_summary_requests_total",
		Help: "Total diary summary requests",
	}, []string{"status"})

	summaryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_gateway_summary_latency_seconds",
		Help:    "Diary summary generation latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// SessionMetrics tracks metrics for a single call session
type SessionMetrics struct {
	sessionID        string
	startTime        time.Time
	summaryStartTime time.Time
	mu               sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session and its trigger
func (m *SessionMetrics) RecordSessionEnd(reason string) {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
	sessionEndings.WithLabelValues(reason).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordDroppedFrames records frames dropped on queue overflow
func (m *SessionMetrics) RecordDroppedFrames(queue string, count int) {
	if count > 0 {
		droppedFrames.WithLabelValues(queue).Add(float64(count))
	}
}

// RecordTurn records a flushed transcript entry
func (m *SessionMetrics) RecordTurn(role string) {
	turnsTotal.WithLabelValues(role).Inc()
}

// RecordReconnect records an upstream reconnection attempt
func (m *SessionMetrics) RecordReconnect(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	upstreamReconnects.WithLabelValues(status).Inc()
}

// RecordSummaryStart records the start of diary summary generation
func (m *SessionMetrics) RecordSummaryStart() {
	m.mu.Lock()
	m.summaryStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSummaryEnd records the end of diary summary generation
func (m *SessionMetrics) RecordSummaryEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.summaryStartTime.IsZero() {
		summaryLatency.Observe(time.Since(m.summaryStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	summaryRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
