// Package backend owns the ACP child process: it speaks the JSON-RPC
// dialect defined in internal/acpwire, supervises the process lifecycle via
// internal/launcher, and normalizes everything the child says into the flat
// agent-message stream defined here — the contract internal/turnmapper
// consumes.
package backend

// Kind identifies an agent-message variant. The set is closed: every
// notification this core understands from the child is normalized into
// exactly one of these.
type Kind string

const (
	KindStatus             Kind = "status"
	KindModelOutput        Kind = "model-output"
	KindToolCall           Kind = "tool-call"
	KindToolResult         Kind = "tool-result"
	KindEvent              Kind = "event"
	KindPermissionRequest  Kind = "permission-request"
	KindPermissionResponse Kind = "permission-response"
	KindTokenCount         Kind = "token-count"
	KindFSEdit             Kind = "fs-edit"
	KindTerminalOutput     Kind = "terminal-output"
)

// Status is the backend's coarse-grained run state.
type Status string

const (
	StatusRunning  Status = "running"
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusError    Status = "error"
	StatusStopped  Status = "stopped"
)

// Message is the flat agent-message the backend emits. Only the fields
// relevant to Kind are populated: a flat struct with many optional fields,
// generalized from a single vendor's streaming protocol to ACP's
// session/update notification vocabulary.
type Message struct {
	Kind Kind

	// status
	Status Status
	Detail string
	// ChildExited and ExitCode are set only on a status=error raised by
	// the child process terminating on its own (spec.md §6: "child exit
	// code surfaced on abnormal child exit"), as opposed to a protocol or
	// handshake failure where the child is still alive.
	ChildExited bool
	ExitCode    int

	// model-output
	TextDelta string

	// tool-call / tool-result
	CallID   string
	ToolName string
	Args     map[string]any
	Items    []any
	Location []any
	Result   any

	// event (thinking, plan, available_commands, config_options_update,
	// modes_update, current_mode_update, models_update)
	EventName string
	Payload   map[string]any

	// permission-request / permission-response
	PermissionID string
	Reason       string
	Options      []PermissionOption
	Approved     bool

	// token-count
	Total int
}

// PermissionOption is one of the choices offered by a requestPermission
// call, normalized from whatever shape the child sent.
type PermissionOption struct {
	OptionID string
	Name     string
	Kind     string
}

// EmitFunc delivers one normalized agent-message downstream.
type EmitFunc func(Message)
