package backend

import (
	"encoding/json"
	"regexp"

	"github.com/happyhq/happy-acp/internal/logger"
)

// thinkingHeaderPattern matches the "**Heading**\n" prefix ACP agents use
// to smuggle a thinking section inside an otherwise ordinary
// agent_message_chunk, per spec.md §4.3.
var thinkingHeaderPattern = regexp.MustCompile(`^\*\*[^*]+\*\*\n`)

// handleSessionUpdate dispatches one inbound session/update notification.
// params is {sessionId, update: {sessionUpdate: "<kind>", ...}}.
func (b *Backend) handleSessionUpdate(params json.RawMessage) {
	var envelope struct {
		SessionID string          `json:"sessionId"`
		Update    json.RawMessage `json:"update"`
	}
	if err := json.Unmarshal(params, &envelope); err != nil {
		logger.Info("backend: malformed session/update: %v", err)
		return
	}

	var update map[string]any
	if err := json.Unmarshal(envelope.Update, &update); err != nil {
		logger.Info("backend: malformed session/update payload: %v", err)
		return
	}

	kind, _ := update["sessionUpdate"].(string)
	switch kind {
	case "agent_message_chunk":
		b.handleAgentMessageChunk(update)
	case "agent_thought_chunk":
		b.handleAgentThoughtChunk(update)
	case "tool_call":
		b.handleToolCall(update)
	case "tool_call_update":
		b.handleToolCallUpdate(update)
	case "available_commands_update", "config_options_update", "config_option_update", "current_mode_update":
		b.emit(Message{Kind: KindEvent, EventName: kind, Payload: update})
	case "":
		b.handleLegacyUpdate(update)
	default:
		logger.Info("backend: unknown session/update kind %q, dropping", kind)
	}
}

func (b *Backend) handleLegacyUpdate(update map[string]any) {
	if chunk, ok := update["messageChunk"].(map[string]any); ok {
		if delta, ok := chunk["textDelta"].(string); ok {
			b.emitModelOutput(delta)
		}
		return
	}
	if _, ok := update["plan"]; ok {
		b.emit(Message{Kind: KindEvent, EventName: "plan", Payload: update})
		return
	}
	if _, ok := update["thinking"]; ok {
		b.emit(Message{Kind: KindEvent, EventName: "thinking", Payload: update})
		return
	}
	logger.Info("backend: unrecognized legacy session/update, dropping: %v", update)
}

func (b *Backend) handleAgentMessageChunk(update map[string]any) {
	text := extractContentText(update["content"])
	if text == "" {
		return
	}
	if thinkingHeaderPattern.MatchString(text) {
		b.emit(Message{Kind: KindEvent, EventName: "thinking", Payload: map[string]any{
			"text":      text,
			"streaming": true,
		}})
		return
	}
	b.emitModelOutput(text)
}

func (b *Backend) handleAgentThoughtChunk(update map[string]any) {
	text := extractContentText(update["content"])
	if text == "" {
		return
	}
	b.emit(Message{Kind: KindEvent, EventName: "thinking", Payload: map[string]any{
		"text":      text,
		"streaming": true,
	}})
}

func (b *Backend) emitModelOutput(delta string) {
	if delta == "" {
		return
	}
	b.emit(Message{Kind: KindModelOutput, TextDelta: delta})
	b.armIdleTimer()
}

func (b *Backend) handleToolCall(update map[string]any) {
	callID, _ := update["toolCallId"].(string)
	if callID == "" {
		callID, _ = update["id"].(string)
	}
	toolName := b.resolveToolName(update, callID)
	args := extractArgs(update)

	b.incTurnCounter()
	b.tracker.start(callID, toolName, args, nil)
	b.emit(Message{Kind: KindStatus, Status: StatusRunning})
	b.emit(Message{
		Kind:     KindToolCall,
		CallID:   callID,
		ToolName: toolName,
		Args:     args,
		Items:    extractItems(update["content"]),
		Location: extractRawSlice(update["locations"]),
	})
}

func (b *Backend) handleToolCallUpdate(update map[string]any) {
	callID, _ := update["toolCallId"].(string)
	if callID == "" {
		callID, _ = update["id"].(string)
	}
	status, _ := update["status"].(string)
	toolName := b.resolveToolName(update, callID)

	switch status {
	case "in_progress", "pending":
		if b.tracker.count() == 0 || !b.tracker.isTracked(callID) {
			b.tracker.start(callID, toolName, extractArgs(update), nil)
			b.emit(Message{Kind: KindStatus, Status: StatusRunning})
			b.emit(Message{Kind: KindToolCall, CallID: callID, ToolName: toolName, Args: extractArgs(update)})
		}
	case "completed":
		if b.tracker.alreadyTerminated(callID) {
			// A duplicate "completed", or one arriving after this call's
			// timeout already fired: the relay already got its one
			// tool-call-end (or none, for a timeout), so don't send another.
			return
		}
		b.tracker.end(callID)
		b.emit(Message{Kind: KindToolResult, CallID: callID, ToolName: toolName, Result: update["content"]})
		b.maybeEmitIdle()
	case "failed", "cancelled":
		if b.tracker.alreadyTerminated(callID) {
			return
		}
		b.tracker.end(callID)
		b.emit(Message{
			Kind:     KindToolResult,
			CallID:   callID,
			ToolName: toolName,
			Result: map[string]any{
				"error":  extractErrorDetail(update),
				"status": status,
			},
		})
		b.maybeEmitIdle()
	default:
		logger.Info("backend: tool_call_update with unrecognized status %q for %s", status, callID)
	}
}

func (b *Backend) resolveToolName(update map[string]any, callID string) string {
	kind, _ := update["kind"].(string)
	toolName, _ := update["toolName"].(string)
	name := firstNonEmpty(toolName, kind)
	if extracted := b.hooks.ExtractToolNameFromID(callID); extracted != "" {
		name = extracted
	}
	return b.hooks.DetermineToolName(name, callID, extractArgs(update), nil)
}

// extractErrorDetail applies spec.md §4.3's fallback chain: prefer
// content.error.message, then content.error, then content.message, then
// status/reason, else a truncated JSON blob.
func extractErrorDetail(update map[string]any) string {
	if content, ok := update["content"].(map[string]any); ok {
		if errObj, ok := content["error"].(map[string]any); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
			if raw, err := json.Marshal(errObj); err == nil {
				return string(raw)
			}
		}
		if errStr, ok := content["error"].(string); ok && errStr != "" {
			return errStr
		}
		if msg, ok := content["message"].(string); ok && msg != "" {
			return msg
		}
	}
	if reason, ok := update["reason"].(string); ok && reason != "" {
		return reason
	}
	if status, ok := update["status"].(string); ok && status != "" {
		return status
	}
	raw, _ := json.Marshal(update)
	s := string(raw)
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

func extractContentText(content any) string {
	switch c := content.(type) {
	case map[string]any:
		if text, ok := c["text"].(string); ok {
			return text
		}
	case string:
		return c
	}
	return ""
}

func extractArgs(update map[string]any) map[string]any {
	if input, ok := update["rawInput"].(map[string]any); ok {
		return input
	}
	if input, ok := update["input"].(map[string]any); ok {
		return input
	}
	return nil
}

func extractItems(content any) []any {
	if arr, ok := content.([]any); ok {
		return arr
	}
	return nil
}

func extractRawSlice(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	return nil
}
