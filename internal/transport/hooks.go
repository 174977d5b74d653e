// Package transport defines the pluggable per-agent policy hooks consumed
// by the backend. Every hook is optional; DefaultHooks answers each one
// with the documented default so a caller that only wants to override one
// or two knobs can embed DefaultHooks and shadow the rest.
package transport

import "time"

// LauncherKind selects how the Backend spawns the child process.
type LauncherKind string

const (
	LauncherDirect    LauncherKind = "direct"
	LauncherSandboxed LauncherKind = "sandboxed"
)

// Hooks is the capability set a per-agent policy implements. Vendor
// quirks (Gemini's thinking-block markers, OpenCode's "other" tool kind,
// a CLI that needs a sandboxed launcher) live behind this interface so the
// backend stays agent-agnostic.
type Hooks interface {
	// InitTimeout bounds a single initialize/newSession attempt.
	InitTimeout() time.Duration
	// IdleTimeout is the quiet interval after the last text chunk before
	// the backend emits an idle status.
	IdleTimeout() time.Duration
	// ToolCallTimeout bounds the lifetime of a tool call identified by id
	// and kind.
	ToolCallTimeout(id, kind string) time.Duration
	// IsInvestigationTool marks a tool call as long-running: it receives
	// InvestigationToolTimeout instead of ToolCallTimeout. Its duration is
	// recorded in seconds like any other call; no minutes figure is logged.
	IsInvestigationTool(id, kind string) bool
	// ExtractToolNameFromID overrides an unreliable kind using the call
	// id. Returning "" means no override.
	ExtractToolNameFromID(id string) string
	// DetermineToolName resolves a "other"/"Unknown" kind into a concrete
	// tool name using the call's input and free-form context.
	DetermineToolName(kind, id string, input map[string]any, ctx map[string]any) string
	// FilterStdoutLine is applied to every raw stdout line before JSON-RPC
	// decoding. A nil slice with ok=false drops the line; a non-nil slice
	// replaces it; ok=true with a nil slice passes it through unchanged.
	FilterStdoutLine(line []byte) (replaced []byte, ok bool)
	// HandleStderr observes a raw stderr line and may synthesize an
	// agent-message carrying detail by returning synth=true.
	HandleStderr(text string) (synth bool, detail string)
	// Launcher selects the process-spawning strategy.
	Launcher() LauncherKind
	// SandboxImage names the container image Launcher() == LauncherSandboxed
	// should run the child in. Ignored when Launcher() is LauncherDirect.
	SandboxImage() string
	// Env returns extra key/value pairs merged into the child's inherited
	// environment (e.g. the tool-bridge URL).
	Env() map[string]string
}

// DefaultHooks implements Hooks with every documented default from
// spec.md §4.1. Embed it and override individual methods to express a
// vendor policy without restating the rest.
type DefaultHooks struct{}

func (DefaultHooks) InitTimeout() time.Duration { return 60 * time.Second }
func (DefaultHooks) IdleTimeout() time.Duration { return 500 * time.Millisecond }

func (DefaultHooks) ToolCallTimeout(id, kind string) time.Duration {
	return 120 * time.Second
}

func (DefaultHooks) IsInvestigationTool(id, kind string) bool { return false }

func (DefaultHooks) ExtractToolNameFromID(id string) string { return "" }

func (DefaultHooks) DetermineToolName(kind, id string, input, ctx map[string]any) string {
	return kind
}

func (DefaultHooks) FilterStdoutLine(line []byte) ([]byte, bool) { return nil, true }

func (DefaultHooks) HandleStderr(text string) (bool, string) { return false, "" }

func (DefaultHooks) Launcher() LauncherKind { return LauncherDirect }

func (DefaultHooks) SandboxImage() string { return "" }

func (DefaultHooks) Env() map[string]string { return nil }

// InvestigationToolTimeout is the extended timeout investigation tools
// receive when a policy marks IsInvestigationTool true. It replaces
// ToolCallTimeout for those calls, whether or not the policy overrides it.
const InvestigationToolTimeout = 10 * time.Minute
