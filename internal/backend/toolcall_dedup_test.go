package backend

import (
	"testing"

	"github.com/happyhq/happy-acp/internal/transport"
)

func TestHandleToolCallUpdate_DuplicateCompletedIsSuppressed(t *testing.T) {
	var emitted []Message
	b := &Backend{
		hooks: transport.DefaultHooks{},
		emit:  func(m Message) { emitted = append(emitted, m) },
	}
	b.tracker = newToolCallTracker(b.hooks, "sess-1", b.onToolCallTimeout)

	b.handleToolCall(map[string]any{"toolCallId": "call-1", "title": "ReadFile"})
	b.handleToolCallUpdate(map[string]any{"toolCallId": "call-1", "status": "completed"})
	b.handleToolCallUpdate(map[string]any{"toolCallId": "call-1", "status": "completed"})

	resultCount := 0
	for _, m := range emitted {
		if m.Kind == KindToolResult {
			resultCount++
		}
	}
	if resultCount != 1 {
		t.Errorf("got %d tool-result messages for a duplicate completion, want 1", resultCount)
	}
}

func TestHandleToolCallUpdate_OrphanCompletedStillEmits(t *testing.T) {
	var emitted []Message
	b := &Backend{
		hooks: transport.DefaultHooks{},
		emit:  func(m Message) { emitted = append(emitted, m) },
	}
	b.tracker = newToolCallTracker(b.hooks, "sess-1", b.onToolCallTimeout)

	// No preceding tool_call / in_progress notification for this id.
	b.handleToolCallUpdate(map[string]any{"toolCallId": "orphan-1", "status": "completed"})

	resultCount := 0
	for _, m := range emitted {
		if m.Kind == KindToolResult {
			resultCount++
		}
	}
	if resultCount != 1 {
		t.Errorf("got %d tool-result messages for an orphan completion, want 1 (spec.md §8 scenario 4)", resultCount)
	}
}

func TestHandleToolCallUpdate_CompletedAfterTimeoutIsSuppressed(t *testing.T) {
	var emitted []Message
	b := &Backend{
		hooks: transport.DefaultHooks{},
		emit:  func(m Message) { emitted = append(emitted, m) },
	}
	b.tracker = newToolCallTracker(b.hooks, "sess-1", b.onToolCallTimeout)

	b.handleToolCall(map[string]any{"toolCallId": "call-2", "title": "Bash"})
	b.tracker.fireTimeout("call-2")
	b.handleToolCallUpdate(map[string]any{"toolCallId": "call-2", "status": "completed"})

	for _, m := range emitted {
		if m.Kind == KindToolResult {
			t.Error("a late completion after timeout should not emit a tool-result")
		}
	}
}
