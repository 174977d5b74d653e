// Package metrics exposes the Prometheus instrumentation carried by this
// core regardless of spec.md's non-goals: turns, tool calls, permission
// decisions, envelope throughput, and handshake outcomes are all ambient
// observability concerns, not the conversation-persistence feature
// spec.md explicitly excludes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TurnsTotal counts completed turns by terminal status.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acp_turns_total",
			Help: "Total number of turns by terminal status",
		},
		[]string{"status"},
	)

	// ToolCallsActive tracks the size of the backend's active-tool-call set.
	ToolCallsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acp_tool_calls_active",
			Help: "Number of tool calls currently tracked as active",
		},
	)

	// ToolCallDuration tracks tool-call lifetime by tool name.
	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acp_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"tool"},
	)

	// PermissionRequestsTotal counts requestPermission outcomes by decision.
	PermissionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acp_permission_requests_total",
			Help: "Total number of permission requests by decision",
		},
		[]string{"decision"},
	)

	// EnvelopesEmittedTotal counts session envelopes emitted by kind.
	EnvelopesEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acp_envelopes_emitted_total",
			Help: "Total number of session envelopes emitted by kind",
		},
		[]string{"kind"},
	)

	// IdleTimerFiredTotal counts idle-status emissions triggered by timer
	// expiry (as opposed to draining the active-tool-call set directly).
	IdleTimerFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acp_idle_timer_fired_total",
			Help: "Total number of idle statuses emitted by idle timer expiry",
		},
	)

	// HandshakeAttemptsTotal counts initialize/newSession attempts by
	// outcome (ok, retry, error).
	HandshakeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acp_handshake_attempts_total",
			Help: "Total number of handshake attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// the tool bridge's HTTP middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var (
	bridgeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acp_tool_bridge_requests_total",
			Help: "Total number of HTTP requests served by the local tool bridge",
		},
		[]string{"method", "path", "status"},
	)
	bridgeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acp_tool_bridge_request_duration_seconds",
			Help:    "Tool bridge HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// BridgeMiddleware instruments the tool bridge's HTTP surface.
func BridgeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		bridgeRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		bridgeRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTurnEnd records a turn's terminal status.
func RecordTurnEnd(status string) {
	TurnsTotal.WithLabelValues(status).Inc()
}

// RecordToolCallEnd records a tool call's completion and observes its
// duration.
func RecordToolCallEnd(tool string, durationSeconds float64) {
	ToolCallDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordPermissionDecision records a requestPermission outcome.
func RecordPermissionDecision(decision string) {
	PermissionRequestsTotal.WithLabelValues(decision).Inc()
}

// RecordEnvelope records an emitted session envelope.
func RecordEnvelope(kind string) {
	EnvelopesEmittedTotal.WithLabelValues(kind).Inc()
}

// RecordIdleTimerFired records an idle status emitted by idle timer
// expiry, as opposed to one emitted by draining the active-tool-call set
// directly.
func RecordIdleTimerFired() {
	IdleTimerFiredTotal.Inc()
}

// RecordHandshakeAttempt records a handshake attempt outcome.
func RecordHandshakeAttempt(outcome string) {
	HandshakeAttemptsTotal.WithLabelValues(outcome).Inc()
}
