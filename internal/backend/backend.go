package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/happyhq/happy-acp/internal/acpwire"
	"github.com/happyhq/happy-acp/internal/launcher"
	"github.com/happyhq/happy-acp/internal/logger"
	"github.com/happyhq/happy-acp/internal/metrics"
	"github.com/happyhq/happy-acp/internal/transport"
)

// Backend owns one ACP child process: it speaks the handshake, routes
// session/update notifications through the dispatch in handlers.go, serves
// requestPermission, and exposes the narrow operation surface spec.md §4.3
// describes. All state mutation happens either inside the acpwire dispatch
// goroutine or inside the methods below; callers are expected to serialize
// their own calls the way the runner's single reactor does.
type Backend struct {
	launcher launcher.Launcher
	spec     launcher.Spec
	hooks    transport.Hooks
	emit     EmitFunc

	// newSandboxed constructs the sandboxed launcher on demand, only when
	// hooks.Launcher() opts into it. Overridable in tests so StartSession's
	// launcher-selection logic can be exercised without a Docker daemon.
	newSandboxed func() (launcher.Launcher, error)

	permissionHandler PermissionHandler

	conn   *acpwire.Conn
	handle launcher.Handle
	reader *acpwire.FrameReader

	sessionID string
	tracker   *toolCallTracker

	idleMu    sync.Mutex
	idleTimer *time.Timer

	stateMu                  sync.Mutex
	toolCallCountSincePrompt int

	// exited is closed exactly once, by watchChildExit, when the child
	// process's own Wait() returns — whether that is because Dispose
	// terminated it or because it died on its own.
	exited chan struct{}

	disposeMu   sync.Mutex
	disposing   bool
	disposeOnce sync.Once
}

// New constructs a Backend ready to StartSession. l launches the process,
// spec describes the command/environment, hooks tunes per-agent policy, and
// emit receives the normalized agent-message stream. permissionHandler may
// be nil, in which case requestPermission auto-selects proceed_once.
func New(l launcher.Launcher, spec launcher.Spec, hooks transport.Hooks, emit EmitFunc, permissionHandler PermissionHandler) *Backend {
	if hooks == nil {
		hooks = transport.DefaultHooks{}
	}
	return &Backend{
		launcher:          l,
		spec:              spec,
		hooks:             hooks,
		emit:              emit,
		permissionHandler: permissionHandler,
		newSandboxed: func() (launcher.Launcher, error) {
			return launcher.NewSandboxed()
		},
	}
}

// selectLauncher picks the Launcher StartSession spawns with, consulting
// hooks.Launcher() (spec.md §4.1 getLauncher), and fills in spec.Image from
// the policy's SandboxImage when the caller didn't already set one. It is
// split out from StartSession so the decision is testable without a Docker
// daemon.
func (b *Backend) selectLauncher() (launcher.Launcher, launcher.Spec, error) {
	spec := b.spec
	if b.hooks.Launcher() != transport.LauncherSandboxed {
		return b.launcher, spec, nil
	}

	if spec.Image == "" {
		spec.Image = b.hooks.SandboxImage()
	}
	if spec.Image == "" {
		return nil, spec, fmt.Errorf("sandboxed launcher: no image configured for %q", spec.Command)
	}

	sandboxed, err := b.newSandboxed()
	if err != nil {
		return nil, spec, fmt.Errorf("sandboxed launcher: %w", err)
	}
	return sandboxed, spec, nil
}

// StartSession spawns the child, performs the initialize+newSession
// handshake with retry, and returns the ACP session id. On success it
// emits starting, then idle; on terminal failure it emits error.
func (b *Backend) StartSession(cwd string, mcpServers []acpwire.McpServerSpec) (string, error) {
	b.emit(Message{Kind: KindStatus, Status: StatusStarting})

	active, spec, err := b.selectLauncher()
	if err != nil {
		wrapped := &nonRetryableError{cause: err}
		b.emit(Message{Kind: KindStatus, Status: StatusError, Detail: wrapped.Error()})
		return "", wrapped
	}

	handle, err := active.Launch(context.Background(), spec)
	if err != nil {
		wrapped := &nonRetryableError{cause: err}
		b.emit(Message{Kind: KindStatus, Status: StatusError, Detail: wrapped.Error()})
		return "", wrapped
	}
	b.handle = handle
	b.exited = make(chan struct{})
	go b.watchChildExit()

	reader := acpwire.NewFrameReader(handle.Stdout(), b.hooks.FilterStdoutLine)
	writer := acpwire.NewFrameWriter(handle.Stdin())
	b.conn = acpwire.NewConn(writer, reader, b.handleRequestPermission, b.handleNotification)
	go b.pumpStderr(handle.Stderr())
	b.reader = reader

	var sessionID string
	handshakeErr := withHandshakeRetry("", func(attempt int) error {
		id, err := b.handshake(cwd, mcpServers)
		if err != nil {
			return err
		}
		sessionID = id
		return nil
	})
	if handshakeErr != nil {
		b.emit(Message{Kind: KindStatus, Status: StatusError, Detail: handshakeErr.Error()})
		return "", handshakeErr
	}

	b.sessionID = sessionID
	b.tracker = newToolCallTracker(b.hooks, sessionID, b.onToolCallTimeout)
	b.emit(Message{Kind: KindStatus, Status: StatusIdle})
	return sessionID, nil
}

func (b *Backend) handshake(cwd string, mcpServers []acpwire.McpServerSpec) (string, error) {
	timeout := b.hooks.InitTimeout()

	initResp, err := b.conn.CallTimeout(acpwire.MethodInitialize, acpwire.InitializeParams{
		ProtocolVersion: 1,
		ClientInfo:      acpwire.ClientInfo{Name: "happy-acp", Version: "1"},
		ClientCapabilities: acpwire.ClientCapabilities{
			FS: acpwire.FSCapabilities{ReadTextFile: false, WriteTextFile: false},
		},
	}, timeout, b.conn.Done())
	if err != nil {
		return "", fmt.Errorf("initialize: %w", err)
	}
	_ = initResp

	sessionResp, err := b.conn.CallTimeout(acpwire.MethodNewSession, acpwire.NewSessionParams{
		Cwd:        cwd,
		McpServers: mcpServers,
	}, timeout, b.conn.Done())
	if err != nil {
		return "", fmt.Errorf("newSession: %w", err)
	}

	var result struct {
		SessionID string `json:"sessionId"`
	}
	if err := unmarshalResult(sessionResp, &result); err != nil {
		return "", fmt.Errorf("newSession: malformed response: %w", err)
	}
	if result.SessionID == "" {
		return "", fmt.Errorf("newSession: empty sessionId")
	}
	return result.SessionID, nil
}

// SendPrompt resets per-prompt bookkeeping, emits running, and issues the
// prompt RPC.
func (b *Backend) SendPrompt(text string) error {
	b.stateMu.Lock()
	b.toolCallCountSincePrompt = 0
	b.stateMu.Unlock()

	b.emit(Message{Kind: KindStatus, Status: StatusRunning})

	_, err := b.conn.Call(acpwire.MethodPrompt, acpwire.PromptParams{
		SessionID: b.sessionID,
		Prompt:    []acpwire.PromptBlock{{Type: "text", Text: text}},
	}, b.conn.Done())
	if err != nil {
		b.emit(Message{Kind: KindStatus, Status: StatusError, Detail: err.Error()})
		return err
	}
	return nil
}

// Cancel issues ACP cancel and emits stopped. It does not kill the child.
func (b *Backend) Cancel() error {
	_, err := b.conn.Call(acpwire.MethodCancel, acpwire.CancelParams{SessionID: b.sessionID}, b.conn.Done())
	b.emit(Message{Kind: KindStatus, Status: StatusStopped})
	return err
}

// SetSessionMode is best-effort; it returns whether the RPC round-tripped
// without error and synthesizes a current_mode_update event on success so
// downstream projection sees the change even if the agent stays silent.
func (b *Backend) SetSessionMode(modeID string) bool {
	_, err := b.conn.Call(acpwire.MethodSetSessionMode, map[string]string{
		"sessionId": b.sessionID,
		"modeId":    modeID,
	}, b.conn.Done())
	if err != nil {
		logger.Info("backend: setSessionMode(%s) failed: %v", modeID, err)
		return false
	}
	b.emit(Message{Kind: KindEvent, EventName: "current_mode_update", Payload: map[string]any{"currentModeId": modeID}})
	return true
}

// SetSessionModel mirrors SetSessionMode. The hook is marked unstable in
// ACP and may be entirely unsupported by a given child.
func (b *Backend) SetSessionModel(modelID string) bool {
	_, err := b.conn.Call(acpwire.MethodSetSessionModel, map[string]string{
		"sessionId": b.sessionID,
		"modelId":   modelID,
	}, b.conn.Done())
	if err != nil {
		logger.Info("backend: setSessionModel(%s) failed: %v", modelID, err)
		return false
	}
	b.emit(Message{Kind: KindEvent, EventName: "config_options_update", Payload: map[string]any{"modelId": modelID}})
	return true
}

// SetSessionConfigOption is best-effort; synthesizes a
// config_options_update on success.
func (b *Backend) SetSessionConfigOption(configID string, value any) bool {
	_, err := b.conn.Call(acpwire.MethodSetSessionConfigOption, map[string]any{
		"sessionId": b.sessionID,
		"configId":  configID,
		"value":     value,
	}, b.conn.Done())
	if err != nil {
		logger.Info("backend: setSessionConfigOption(%s) failed: %v", configID, err)
		return false
	}
	b.emit(Message{Kind: KindEvent, EventName: "config_options_update", Payload: map[string]any{configID: value}})
	return true
}

// watchChildExit is the single owner of handle.Wait(): os/exec forbids
// calling it more than once, so Dispose waits on b.exited rather than
// calling Wait itself. A Wait that returns before Dispose ran is an
// unsolicited exit, surfaced as status=error with ChildExited/ExitCode
// set per spec.md §6.
func (b *Backend) watchChildExit() {
	code, _ := b.handle.Wait()
	close(b.exited)

	b.disposeMu.Lock()
	disposing := b.disposing
	b.disposeMu.Unlock()
	if disposing {
		return
	}
	b.emit(Message{
		Kind:        KindStatus,
		Status:      StatusError,
		Detail:      fmt.Sprintf("child exited unexpectedly (code %d)", code),
		ChildExited: true,
		ExitCode:    code,
	})
}

// Dispose is the hard shutdown path: best-effort cancel with a 2s cap, then
// SIGTERM, then SIGKILL after launcher.GraceTimeout. Idempotent.
func (b *Backend) Dispose() {
	b.disposeOnce.Do(func() {
		b.disposeMu.Lock()
		b.disposing = true
		b.disposeMu.Unlock()

		b.idleMu.Lock()
		if b.idleTimer != nil {
			b.idleTimer.Stop()
		}
		b.idleMu.Unlock()
		if b.tracker != nil {
			b.tracker.stopAll()
		}

		if b.conn != nil && b.sessionID != "" {
			cancelDone := make(chan struct{})
			go func() {
				_, _ = b.conn.Call(acpwire.MethodCancel, acpwire.CancelParams{SessionID: b.sessionID}, b.conn.Done())
				close(cancelDone)
			}()
			select {
			case <-cancelDone:
			case <-time.After(2 * time.Second):
			}
		}

		if b.handle == nil {
			return
		}
		if err := b.handle.Terminate(); err != nil {
			logger.Info("backend: terminate failed, killing: %v", err)
			_ = b.handle.Kill()
			return
		}
		select {
		case <-b.exited:
		case <-time.After(launcher.GraceTimeout):
			_ = b.handle.Kill()
		}

		if b.reader != nil {
			if n := b.reader.DroppedLines(); n > 0 {
				logger.Info("backend: dropped %d non-JSON stdout lines", n)
			}
		}
	})
}

func (b *Backend) handleNotification(method string, params json.RawMessage) {
	if method != acpwire.MethodSessionUpdate {
		logger.Info("backend: unexpected notification method %q", method)
		return
	}
	b.handleSessionUpdate(params)
}

func (b *Backend) pumpStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if synth, detail := b.hooks.HandleStderr(line); synth {
			b.emit(Message{Kind: KindEvent, EventName: "stderr", Payload: map[string]any{"detail": detail}})
		}
	}
}

func (b *Backend) armIdleTimer() {
	b.idleMu.Lock()
	defer b.idleMu.Unlock()
	if b.idleTimer != nil {
		b.idleTimer.Stop()
	}
	b.idleTimer = time.AfterFunc(b.hooks.IdleTimeout(), func() {
		if b.tracker != nil && !b.tracker.empty() {
			return
		}
		metrics.RecordIdleTimerFired()
		b.emit(Message{Kind: KindStatus, Status: StatusIdle})
	})
}

func (b *Backend) maybeEmitIdle() {
	if b.tracker == nil || !b.tracker.empty() {
		return
	}
	b.idleMu.Lock()
	if b.idleTimer != nil {
		b.idleTimer.Stop()
		b.idleTimer = nil
	}
	b.idleMu.Unlock()
	b.emit(Message{Kind: KindStatus, Status: StatusIdle})
}

// onToolCallTimeout is the toolCallTracker's timeout callback. Per spec.md
// §7 a per-tool timeout is deliberately silent to the relay: the call is
// dropped from the active set and, if that drains it, idle is emitted —
// no synthetic tool-result is sent, since the tool's result is defined to
// simply never arrive.
func (b *Backend) onToolCallTimeout(callID, toolName string) {
	b.maybeEmitIdle()
}

func (b *Backend) incTurnCounter() {
	b.stateMu.Lock()
	b.toolCallCountSincePrompt++
	b.stateMu.Unlock()
}

func (b *Backend) freshCallID() string {
	return uuid.NewString()
}

func unmarshalResult(msg *acpwire.Message, out any) error {
	return json.Unmarshal(msg.Result, out)
}
