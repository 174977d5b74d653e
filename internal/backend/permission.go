package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/happyhq/happy-acp/internal/acpwire"
	"github.com/happyhq/happy-acp/internal/audit"
	"github.com/happyhq/happy-acp/internal/metrics"
)

// Decision is a permission handler's resolution of a requestPermission
// call, mirroring the decision vocabulary ACP tool-call options use.
type Decision string

const (
	DecisionApproved           Decision = "approved"
	DecisionApprovedForSession Decision = "approved_for_session"
	DecisionDenied             Decision = "denied"
	DecisionAbort              Decision = "abort"
)

// PermissionHandler resolves a requestPermission call. ACP answers
// permission requests synchronously, so the backend calls this from inside
// the JSON-RPC dispatch goroutine and blocks until it returns — per
// spec.md's design note, a systems-language implementation models this as
// a function invokable from the reactor without deadlocking its own
// caller.
type PermissionHandler func(ctx context.Context, toolCallID, toolName string, input map[string]any) (Decision, error)

type requestPermissionParams struct {
	SessionID string          `json:"sessionId"`
	ToolCall  toolCallPayload `json:"toolCall"`
	Options   []acpOption     `json:"options"`
	Kind      string          `json:"kind"`
}

type toolCallPayload struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	ToolName string          `json:"toolName"`
	Title    string          `json:"title"`
	Content  json.RawMessage `json:"content"`
	Locations json.RawMessage `json:"locations"`
}

type acpOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// handleRequestPermission is the server-side implementation of the
// requestPermission RPC ACP issues to this core. method is unused: this
// backend only ever serves one kind of inbound request.
func (b *Backend) handleRequestPermission(method string, params json.RawMessage) (any, error) {
	var p requestPermissionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid requestPermission params: %w", err)
	}

	toolCallID := p.ToolCall.ID
	if toolCallID == "" {
		toolCallID = b.freshCallID()
	}
	toolName := firstNonEmpty(p.ToolCall.Kind, p.ToolCall.ToolName, p.Kind)
	if toolName == "" {
		toolName = b.hooks.DetermineToolName("", toolCallID, nil, nil)
	}

	options := make([]PermissionOption, 0, len(p.Options))
	for _, o := range p.Options {
		options = append(options, PermissionOption{OptionID: o.OptionID, Name: o.Name, Kind: o.Kind})
	}

	b.emit(Message{
		Kind:         KindPermissionRequest,
		PermissionID: toolCallID,
		CallID:       toolCallID,
		ToolName:     toolName,
		Reason:       p.ToolCall.Title,
		Options:      options,
		Payload: map[string]any{
			"title":   p.ToolCall.Title,
			"options": options,
		},
	})

	optionID, decisionLabel, handlerErr := b.resolvePermission(toolCallID, toolName, p, options)

	audit.LogPermissionDecision(b.sessionID, toolCallID, decisionLabel, handlerErr)
	metrics.RecordPermissionDecision(decisionLabel)

	b.emit(Message{
		Kind:     KindToolResult,
		CallID:   toolCallID,
		ToolName: toolName,
		Result: map[string]any{
			"status":   approvalStatus(decisionLabel),
			"decision": decisionLabel,
		},
	})

	return acpwire.RequestPermissionResult{
		Outcome: acpwire.PermissionOutcome{
			Outcome:  acpwire.OutcomeSelected,
			OptionID: optionID,
		},
	}, nil
}

// resolvePermission awaits the configured handler (or auto-selects when
// none is configured) and maps its decision onto one of the request's
// advertised optionId values.
func (b *Backend) resolvePermission(toolCallID, toolName string, p requestPermissionParams, options []PermissionOption) (optionID, label string, handlerErr error) {
	if b.permissionHandler == nil {
		optionID = preferOption(options, "proceed_once")
		return optionID, string(DecisionApproved), nil
	}

	decision, err := b.permissionHandler(context.Background(), toolCallID, toolName, decodeInput(p.ToolCall.Content))
	if err != nil {
		// spec.md §7: permission handler error maps to the cancel optionId,
		// logged, no escalation.
		return preferOption(options, "cancel"), string(DecisionAbort), err
	}

	switch decision {
	case DecisionApproved:
		return preferOption(options, "proceed_once"), string(decision), nil
	case DecisionApprovedForSession:
		return preferOption(options, "proceed_always"), string(decision), nil
	case DecisionDenied, DecisionAbort:
		return preferOption(options, "cancel"), string(decision), nil
	default:
		return preferOption(options, "cancel"), string(decision), nil
	}
}

// preferOption returns the optionId whose optionId or kind matches want,
// falling back to the first advertised option when nothing matches.
func preferOption(options []PermissionOption, want string) string {
	for _, o := range options {
		if o.OptionID == want || o.Kind == want {
			return o.OptionID
		}
	}
	if len(options) > 0 {
		return options[0].OptionID
	}
	return want
}

func approvalStatus(decision string) string {
	switch Decision(decision) {
	case DecisionApproved, DecisionApprovedForSession:
		return "approved"
	default:
		return "cancelled"
	}
}

func decodeInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
