package turnmapper

import (
	"time"

	"github.com/google/uuid"

	"github.com/happyhq/happy-acp/internal/backend"
)

// Mapper is the session manager's stateful projection from agent-messages
// to session envelopes. It is not safe for concurrent use — spec.md §5's
// single-reactor model means exactly one goroutine ever calls MapMessage,
// StartTurn, or EndTurn at a time, so no internal locking is needed.
type Mapper struct {
	currentTurnID string

	pendingText     string
	pendingThinking string

	callIDMap map[string]string

	lastTime int64
}

// New returns a Mapper with no active turn and empty buffers.
func New() *Mapper {
	return &Mapper{callIDMap: make(map[string]string)}
}

// nextTime returns a value guaranteed to strictly increase across every
// call, clamped above wall-clock time so ordering reflects real elapsed
// time whenever the clock actually advances between calls.
func (m *Mapper) nextTime() int64 {
	now := time.Now().UnixNano()
	if now <= m.lastTime {
		now = m.lastTime + 1
	}
	m.lastTime = now
	return now
}

func (m *Mapper) newEnvelope(kind Kind) Envelope {
	return Envelope{
		ID:   uuid.NewString(),
		Time: m.nextTime(),
		Turn: m.currentTurnID,
		Kind: kind,
	}
}

// StartTurn opens a new turn if none is active, emitting turn-start.
// Repeated calls while a turn is active are a no-op.
func (m *Mapper) StartTurn() []Envelope {
	if m.currentTurnID != "" {
		return nil
	}
	m.currentTurnID = uuid.NewString()
	env := m.newEnvelope(KindTurnStart)
	return []Envelope{env}
}

// EndTurn flushes any pending text/thinking, then emits turn-end bound to
// the turn that was active (or no turn, if none was — late output after a
// turn closes is always flushed, never dropped, per spec.md §9). Repeated
// calls with nothing left to flush and no active turn are a no-op.
func (m *Mapper) EndTurn(status TurnStatus) []Envelope {
	var envelopes []Envelope
	envelopes = append(envelopes, m.flushText()...)
	envelopes = append(envelopes, m.flushThinking()...)

	if m.currentTurnID == "" && len(envelopes) == 0 {
		return envelopes
	}

	env := m.newEnvelope(KindTurnEnd)
	env.Status = status
	envelopes = append(envelopes, env)
	m.currentTurnID = ""
	return envelopes
}

func (m *Mapper) flushText() []Envelope {
	if m.pendingText == "" {
		return nil
	}
	env := m.newEnvelope(KindText)
	env.Text = m.pendingText
	m.pendingText = ""
	return []Envelope{env}
}

func (m *Mapper) flushThinking() []Envelope {
	if m.pendingThinking == "" {
		return nil
	}
	env := m.newEnvelope(KindText)
	env.Text = m.pendingThinking
	env.Thinking = true
	m.pendingThinking = ""
	return []Envelope{env}
}

// MapMessage folds one agent-message into zero or more session envelopes.
func (m *Mapper) MapMessage(msg backend.Message) []Envelope {
	switch msg.Kind {
	case backend.KindStatus,
		backend.KindPermissionRequest,
		backend.KindPermissionResponse,
		backend.KindTokenCount,
		backend.KindFSEdit,
		backend.KindTerminalOutput:
		return nil
	case backend.KindModelOutput:
		return m.mapModelOutput(msg)
	case backend.KindEvent:
		return m.mapEvent(msg)
	case backend.KindToolCall:
		return m.mapToolCall(msg)
	case backend.KindToolResult:
		return m.mapToolResult(msg)
	default:
		return nil
	}
}

func (m *Mapper) mapModelOutput(msg backend.Message) []Envelope {
	if msg.TextDelta == "" {
		return nil
	}
	envelopes := m.flushThinking()
	m.pendingText += msg.TextDelta
	return envelopes
}

func (m *Mapper) mapEvent(msg backend.Message) []Envelope {
	if msg.EventName != "thinking" {
		return nil
	}
	text, _ := msg.Payload["text"].(string)
	if text == "" {
		return nil
	}
	streaming, _ := msg.Payload["streaming"].(bool)

	if streaming {
		envelopes := m.flushText()
		m.pendingThinking += text
		return envelopes
	}

	var envelopes []Envelope
	envelopes = append(envelopes, m.flushText()...)
	envelopes = append(envelopes, m.flushThinking()...)
	env := m.newEnvelope(KindText)
	env.Text = text
	env.Thinking = true
	envelopes = append(envelopes, env)
	return envelopes
}

func (m *Mapper) mapToolCall(msg backend.Message) []Envelope {
	var envelopes []Envelope
	envelopes = append(envelopes, m.flushText()...)
	envelopes = append(envelopes, m.flushThinking()...)

	ourCallID := uuid.NewString()
	m.callIDMap[msg.CallID] = ourCallID

	env := m.newEnvelope(KindToolCallStart)
	env.Call = ourCallID
	env.Name = msg.ToolName
	env.Title = msg.ToolName
	env.Description = msg.ToolName
	env.Args = msg.Args
	envelopes = append(envelopes, env)
	return envelopes
}

func (m *Mapper) mapToolResult(msg backend.Message) []Envelope {
	ourCallID, ok := m.callIDMap[msg.CallID]
	if !ok {
		// Orphan result: still observable, per spec.md §8 scenario 4.
		ourCallID = uuid.NewString()
		m.callIDMap[msg.CallID] = ourCallID
	}
	env := m.newEnvelope(KindToolCallEnd)
	env.Call = ourCallID
	return []Envelope{env}
}
