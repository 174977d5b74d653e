// Package audit records a structured decision log for permission
// decisions (including a handler error mapped to "cancel"), handshake
// attempts, and tool-call timeouts. It is deliberately narrow: no
// persistence, matching the core's non-goals.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Operation identifies the kind of auditable decision.
type Operation string

const (
	OpPermissionDecision Operation = "permission.decision"
	OpHandshakeAttempt   Operation = "handshake.attempt"
	OpToolCallTimeout    Operation = "tool_call.timeout"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Operation Operation              `json:"operation"`
	SessionID string                 `json:"session_id,omitempty"`
	ToolCall  string                 `json:"tool_call_id,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Logger emits Events as structured slog records.
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the process-wide audit logger, enabled by default.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New creates an audit logger writing JSON records to stdout.
func New(enabled bool) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{logger: slog.New(handler), enabled: enabled}
}

// SetEnabled toggles whether Log is a no-op.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event.
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()
	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.ToolCall != "" {
		attrs = append(attrs, slog.String("tool_call_id", event.ToolCall))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// LogPermissionDecision records a requestPermission resolution — the
// auto-selection path, a handler's decision, or a handler error mapped to
// "cancel" (spec.md §7: "mapped to cancel optionId; logged; no
// escalation").
func LogPermissionDecision(sessionID, toolCallID, decision string, handlerErr error) {
	errMsg := ""
	if handlerErr != nil {
		errMsg = handlerErr.Error()
	}
	Default().Log(&Event{
		Operation: OpPermissionDecision,
		SessionID: sessionID,
		ToolCall:  toolCallID,
		Success:   handlerErr == nil,
		Error:     errMsg,
		Details:   map[string]interface{}{"decision": decision},
	})
}

// LogHandshakeAttempt records one initialize/newSession attempt.
func LogHandshakeAttempt(sessionID string, attempt int, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	Default().Log(&Event{
		Operation: OpHandshakeAttempt,
		SessionID: sessionID,
		Success:   err == nil,
		Error:     errMsg,
		Details:   map[string]interface{}{"attempt": attempt},
	})
}

// LogToolCallTimeout records a tool call that was cleaned up after its
// timeout fired rather than observing a terminal status.
func LogToolCallTimeout(sessionID, toolCallID string, elapsed time.Duration) {
	Default().Log(&Event{
		Operation: OpToolCallTimeout,
		SessionID: sessionID,
		ToolCall:  toolCallID,
		Success:   false,
		Details:   map[string]interface{}{"elapsed_seconds": elapsed.Seconds()},
	})
}
