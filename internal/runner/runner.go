// Package runner wires the backend, the turn mapper, the tool bridge, and
// an external relay session together per spec.md §4.7. It is stateless
// glue: every piece of actual logic lives in internal/backend,
// internal/turnmapper, internal/configprojection, or internal/toolbridge,
// and the Runner's only job is to subscribe them to each other in the
// fixed startup order spec.md §4.7 prescribes.
package runner

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/happyhq/happy-acp/internal/acpwire"
	"github.com/happyhq/happy-acp/internal/backend"
	"github.com/happyhq/happy-acp/internal/configprojection"
	"github.com/happyhq/happy-acp/internal/launcher"
	"github.com/happyhq/happy-acp/internal/logger"
	"github.com/happyhq/happy-acp/internal/metrics"
	"github.com/happyhq/happy-acp/internal/toolbridge"
	"github.com/happyhq/happy-acp/internal/transport"
	"github.com/happyhq/happy-acp/internal/turnmapper"
)

// ToolBridgeEnvVar is the environment variable the child reads to learn
// the local tool bridge's base URL, per spec.md §4.7 step 2.
const ToolBridgeEnvVar = "HAPPY_ACP_TOOL_BRIDGE_URL"

// gracefulBridgeShutdown bounds how long the tool bridge is given to
// drain in-flight requests when the Runner tears it down.
const gracefulBridgeShutdown = 2 * time.Second

// UserMessage is one inbound message from the relay's human/UI side.
type UserMessage struct {
	Text string
	// Meta carries out-of-band hints the relay attaches to a message, of
	// which only permissionMode and model are recognized (spec.md §4.7
	// step 6). Unrecognized keys are ignored.
	Meta map[string]any
}

// RelaySession is the external collaborator spec.md treats as out of
// core scope (§1): the actual transport, auth, and UI all live outside
// this module. The Runner only needs these capabilities from it.
type RelaySession interface {
	// RegisterAbortHandler installs the callback invoked when the relay's
	// "abort" RPC fires.
	RegisterAbortHandler(func())
	// RegisterKillHandler installs the callback invoked when the relay's
	// "kill" RPC fires.
	RegisterKillHandler(func())
	// Inbound returns the channel of user messages the relay delivers.
	// Closing it signals the relay session itself has ended.
	Inbound() <-chan UserMessage
	// SendEnvelope forwards one session envelope to the relay, in order.
	SendEnvelope(turnmapper.Envelope)
	// UpdateMetadata pushes a config-metadata transition to the relay.
	UpdateMetadata(prev, next *configprojection.Metadata)
	// Close tears down the relay session.
	Close()
}

// Config describes the child to spawn and the collaborators to wire.
type Config struct {
	Command string
	Args    []string
	Cwd     string

	Hooks    transport.Hooks
	Launcher launcher.Launcher
	Relay    RelaySession

	PermissionHandler backend.PermissionHandler

	// McpServers are extra MCP server entries forwarded verbatim in
	// newSession, in addition to the tool bridge the Runner starts
	// itself.
	McpServers []acpwire.McpServerSpec

	// BridgeConfig configures the local tool bridge's rate limit. Zero
	// value uses the bridge's own defaults.
	BridgeConfig toolbridge.Config
}

// eventNamesAffectingMetadata are the session/update kinds spec.md §4.7
// step 5 routes through config-metadata projection before forwarding to
// the relay.
var eventNamesAffectingMetadata = map[string]bool{
	"config_options_update": true,
	"config_option_update":  true,
	"current_mode_update":   true,
	"modes_update":          true,
	"models_update":         true,
}

// Runner owns one child session end to end.
type Runner struct {
	cfg Config

	bridge *toolbridge.Server
	be     *backend.Backend
	mapper *turnmapper.Mapper

	metaMu   sync.Mutex
	metadata *configprojection.Metadata

	exitOnce sync.Once
	exitCode int
	exitErr  error
	done     chan struct{}
}

// New constructs a Runner. Call Run to start it.
func New(cfg Config) *Runner {
	return &Runner{
		cfg:      cfg,
		mapper:   turnmapper.New(),
		metadata: &configprojection.Metadata{},
		done:     make(chan struct{}),
	}
}

// Run executes the fixed startup order of spec.md §4.7 and blocks until
// the session ends (normal idle-to-kill lifecycle, relay closure, or a
// terminal backend status during startup). It returns the process exit
// code spec.md §6 describes.
func (r *Runner) Run() (int, error) {
	// Step 1: relay session + RPC handlers.
	r.cfg.Relay.RegisterAbortHandler(r.handleAbort)
	r.cfg.Relay.RegisterKillHandler(r.handleKill)

	// Step 2: local tool bridge, URL passed through the environment.
	bridge, err := toolbridge.New(r.cfg.BridgeConfig)
	if err != nil {
		return 1, fmt.Errorf("runner: starting tool bridge: %w", err)
	}
	r.bridge = bridge
	go func() {
		if err := bridge.Serve(); err != nil {
			logger.Error("runner: tool bridge stopped: %v", err)
		}
	}()

	env := buildEnv(r.cfg.Hooks, bridge.URL())
	mcpServers := append([]acpwire.McpServerSpec{{
		Name: "happy-acp-tool-bridge",
		URL:  bridge.URL(),
	}}, r.cfg.McpServers...)

	// Step 3: Backend with resolved command/args and the default transport.
	spec := launcher.Spec{Command: r.cfg.Command, Args: r.cfg.Args, Env: env, Dir: r.cfg.Cwd}
	r.be = backend.New(r.cfg.Launcher, spec, r.cfg.Hooks, r.handleAgentMessage, r.cfg.PermissionHandler)

	// Step 4: session manager — r.mapper, constructed in New.

	// Step 5/6 wiring happens inside handleAgentMessage/handleInboundMessage,
	// both registered before StartSession so no notification is missed.
	go r.pumpInbound()

	if _, err := r.be.StartSession(r.cfg.Cwd, mcpServers); err != nil {
		// Step 8: a terminal backend status during startup forces exit
		// after tearing down whatever got partway up.
		r.be.Dispose()
		_ = r.bridge.Shutdown(gracefulBridgeShutdown)
		r.cfg.Relay.Close()
		r.finish(1, fmt.Errorf("runner: starting session: %w", err))
		return r.exitCode, r.exitErr
	}

	<-r.done
	return r.exitCode, r.exitErr
}

func buildEnv(hooks transport.Hooks, bridgeURL string) []string {
	env := os.Environ()
	for k, v := range hooks.Env() {
		env = append(env, k+"="+v)
	}
	env = append(env, ToolBridgeEnvVar+"="+bridgeURL)
	return env
}

// handleAgentMessage is the backend.EmitFunc: step 5's subscription from
// backend agent-messages to the session manager, plus the config-metadata
// side channel and the idle/stopped/error → turn-end status mapping.
func (r *Runner) handleAgentMessage(msg backend.Message) {
	if msg.Kind == backend.KindEvent && eventNamesAffectingMetadata[msg.EventName] {
		r.applyMetadata(msg.Payload)
	}

	if msg.Kind == backend.KindStatus {
		r.handleBackendStatus(msg.Status)
	}

	for _, env := range r.mapper.MapMessage(msg) {
		metrics.RecordEnvelope(string(env.Kind))
		r.cfg.Relay.SendEnvelope(env)
	}

	if msg.Kind == backend.KindStatus && msg.ChildExited {
		// spec.md §6: an abnormal child exit surfaces the child's own exit
		// code as this process's exit code, not the runner's usual 0/1.
		r.be.Dispose()
		if r.bridge != nil {
			_ = r.bridge.Shutdown(gracefulBridgeShutdown)
		}
		r.cfg.Relay.Close()
		r.finish(msg.ExitCode, fmt.Errorf("runner: %s", msg.Detail))
	}
}

func (r *Runner) applyMetadata(payload map[string]any) {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	prev := r.metadata.Clone()
	next := configprojection.Merge(r.metadata, payload)
	r.metadata = next
	r.cfg.Relay.UpdateMetadata(prev, next.Clone())
}

// handleBackendStatus maps idle/stopped/error to a turn-end, per spec.md
// §4.7 step 6. running/starting carry no turn-end.
func (r *Runner) handleBackendStatus(status backend.Status) {
	var turnStatus turnmapper.TurnStatus
	switch status {
	case backend.StatusIdle:
		turnStatus = turnmapper.StatusCompleted
	case backend.StatusStopped:
		turnStatus = turnmapper.StatusCancelled
	case backend.StatusError:
		turnStatus = turnmapper.StatusFailed
	default:
		return
	}

	for _, env := range r.mapper.EndTurn(turnStatus) {
		metrics.RecordEnvelope(string(env.Kind))
		r.cfg.Relay.SendEnvelope(env)
		if env.Kind == turnmapper.KindTurnEnd && env.Turn != "" {
			metrics.RecordTurnEnd(string(turnStatus))
		}
	}
}

// pumpInbound is step 6: for each relay message, resolve meta.permissionMode
// / meta.model against the last seen config options, dispatch matches via
// setSessionConfigOption, then open a turn and prompt.
func (r *Runner) pumpInbound() {
	for msg := range r.cfg.Relay.Inbound() {
		r.dispatchInbound(msg)
	}
	r.finish(0, nil)
}

func (r *Runner) dispatchInbound(msg UserMessage) {
	r.metaMu.Lock()
	metadata := r.metadata
	r.metaMu.Unlock()

	plan := planConfigDispatch(metadata, msg.Meta)
	if plan.permissionModeOption != "" {
		r.be.SetSessionConfigOption("permissionMode", plan.permissionModeOption)
	}
	if plan.modelOption != "" {
		r.be.SetSessionConfigOption("model", plan.modelOption)
	}
	if plan.modelDirect != "" {
		r.be.SetSessionModel(plan.modelDirect)
	}

	for _, env := range r.mapper.StartTurn() {
		metrics.RecordEnvelope(string(env.Kind))
		r.cfg.Relay.SendEnvelope(env)
	}
	if err := r.be.SendPrompt(msg.Text); err != nil {
		logger.Error("runner: sendPrompt failed: %v", err)
	}
}

// configDispatch is the pure decision planConfigDispatch produces for one
// inbound message's meta.permissionMode/meta.model hints, kept separate
// from the RPC calls themselves so the matching logic is unit-testable
// without a live backend connection.
type configDispatch struct {
	permissionModeOption string
	modelOption          string
	modelDirect          string
}

// planConfigDispatch implements spec.md §4.7 step 6: a permissionMode or
// model hint is validated against the last seen config options; a match
// dispatches via setSessionConfigOption, a mismatch is ignored. Per Open
// Question 1 (spec.md §9), model is special-cased: when the child has
// advertised no model catalog at all, there is nothing to validate
// against, so the value is sent through the unstable setSessionModel RPC
// directly instead of being silently dropped.
func planConfigDispatch(metadata *configprojection.Metadata, meta map[string]any) configDispatch {
	var plan configDispatch

	if mode, ok := meta["permissionMode"].(string); ok && mode != "" {
		if optionExists(metadata.OperatingModes, mode) {
			plan.permissionModeOption = mode
		}
	}

	if model, ok := meta["model"].(string); ok && model != "" {
		switch {
		case optionExists(metadata.Models, model):
			plan.modelOption = model
		case len(metadata.Models) == 0:
			plan.modelDirect = model
		}
	}

	return plan
}

func optionExists(options []configprojection.Option, code string) bool {
	for _, o := range options {
		if o.Code == code {
			return true
		}
	}
	return false
}

// handleAbort is the relay's "abort" RPC: cancel the in-flight prompt
// without tearing down the child.
func (r *Runner) handleAbort() {
	if err := r.be.Cancel(); err != nil {
		logger.Error("runner: abort failed: %v", err)
	}
}

// handleKill is the relay's "kill" RPC: dispose the backend and exit.
func (r *Runner) handleKill() {
	r.be.Dispose()
	if r.bridge != nil {
		_ = r.bridge.Shutdown(gracefulBridgeShutdown)
	}
	r.cfg.Relay.Close()
	r.finish(0, nil)
}

func (r *Runner) finish(code int, err error) {
	r.exitOnce.Do(func() {
		r.exitCode = code
		r.exitErr = err
		close(r.done)
	})
}
