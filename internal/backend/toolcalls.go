package backend

import (
	"sync"
	"time"

	"github.com/happyhq/happy-acp/internal/audit"
	"github.com/happyhq/happy-acp/internal/metrics"
	"github.com/happyhq/happy-acp/internal/transport"
)

// toolCallState tracks one in-flight tool call so the backend can apply
// per-call timeouts and drop it from the active set if the child never
// reports a terminal status.
type toolCallState struct {
	callID    string
	toolName  string
	startedAt time.Time
	timer     *time.Timer
}

// toolCallTracker owns the active-tool-call set. All methods are
// mutex-guarded because notifications arrive on the acpwire dispatch
// goroutine while idle/timeout bookkeeping runs from timers fired on their
// own goroutines.
type toolCallTracker struct {
	mu     sync.Mutex
	active map[string]*toolCallState
	// terminated remembers every callID that has already reached a
	// terminal state (completed/failed/cancelled/timeout) so a duplicate
	// tool_call_update for the same id doesn't produce a second
	// tool-result. It is distinct from active's absence: a callID can be
	// absent from active either because it was never started (a
	// legitimate orphan result, spec.md §8 scenario 4) or because it
	// already terminated once (a duplicate, which should not re-emit).
	terminated map[string]struct{}
	hooks      transport.Hooks
	sessionID  string
	onTimeout  func(callID, toolName string)
}

func newToolCallTracker(hooks transport.Hooks, sessionID string, onTimeout func(callID, toolName string)) *toolCallTracker {
	return &toolCallTracker{
		active:     make(map[string]*toolCallState),
		terminated: make(map[string]struct{}),
		hooks:      hooks,
		sessionID:  sessionID,
		onTimeout:  onTimeout,
	}
}

// start registers a tool call and arms its timeout, using the extended
// investigation-tool timeout when the hooks classify it as one.
func (t *toolCallTracker) start(callID, toolName string, input map[string]any, ctx map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[callID]; exists {
		return
	}

	timeout := t.hooks.ToolCallTimeout(callID, toolName)
	if t.hooks.IsInvestigationTool(callID, toolName) {
		timeout = transport.InvestigationToolTimeout
	}

	state := &toolCallState{
		callID:    callID,
		toolName:  toolName,
		startedAt: time.Now(),
	}
	state.timer = time.AfterFunc(timeout, func() { t.fireTimeout(callID) })
	t.active[callID] = state
	metrics.ToolCallsActive.Set(float64(len(t.active)))
}

// isTracked reports whether callID is currently in the active set.
func (t *toolCallTracker) isTracked(callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[callID]
	return ok
}

// end removes a tool call from the active set if present, stops its timer,
// records its duration, and marks callID terminated either way. Returns
// false if the call was never tracked (an orphan result, or a duplicate
// arriving after the call already terminated once).
func (t *toolCallTracker) end(callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.terminated[callID] = struct{}{}

	state, ok := t.active[callID]
	if !ok {
		return false
	}
	state.timer.Stop()
	delete(t.active, callID)
	metrics.ToolCallsActive.Set(float64(len(t.active)))
	metrics.RecordToolCallEnd(state.toolName, time.Since(state.startedAt).Seconds())
	return true
}

// alreadyTerminated reports whether callID already reached a terminal
// state once before, so a caller can drop a duplicate tool_call_update
// without emitting a second tool-result for the same call.
func (t *toolCallTracker) alreadyTerminated(callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.terminated[callID]
	return ok
}

// empty reports whether no tool calls remain active, the condition the
// idle timer checks before emitting an idle status.
func (t *toolCallTracker) empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active) == 0
}

// count returns the number of active tool calls.
func (t *toolCallTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *toolCallTracker) fireTimeout(callID string) {
	t.mu.Lock()
	t.terminated[callID] = struct{}{}
	state, ok := t.active[callID]
	if ok {
		delete(t.active, callID)
		metrics.ToolCallsActive.Set(float64(len(t.active)))
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	audit.LogToolCallTimeout(t.sessionID, callID, time.Since(state.startedAt))
	if t.onTimeout != nil {
		t.onTimeout(callID, state.toolName)
	}
}

// stopAll cancels every outstanding timer, used on dispose so timers don't
// fire after the backend has already torn down.
func (t *toolCallTracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, state := range t.active {
		state.timer.Stop()
		delete(t.active, id)
	}
	metrics.ToolCallsActive.Set(0)
}
