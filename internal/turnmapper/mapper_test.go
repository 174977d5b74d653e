package turnmapper

import (
	"testing"

	"github.com/happyhq/happy-acp/internal/backend"
)

func modelOutput(delta string) backend.Message {
	return backend.Message{Kind: backend.KindModelOutput, TextDelta: delta}
}

func thinkingEvent(text string, streaming bool) backend.Message {
	return backend.Message{
		Kind:      backend.KindEvent,
		EventName: "thinking",
		Payload:   map[string]any{"text": text, "streaming": streaming},
	}
}

// Scenario 1 from spec.md §8.
func TestScenario1_PlainTextCoalescesUntilEndTurn(t *testing.T) {
	m := New()
	var envs []Envelope
	envs = append(envs, m.StartTurn()...)
	envs = append(envs, m.MapMessage(modelOutput("hel"))...)
	envs = append(envs, m.MapMessage(modelOutput("lo"))...)
	envs = append(envs, m.EndTurn(StatusCompleted)...)

	wantKinds := []Kind{KindTurnStart, KindText, KindTurnEnd}
	assertKinds(t, envs, wantKinds)
	if envs[1].Text != "hello" {
		t.Errorf("text = %q, want %q", envs[1].Text, "hello")
	}
	if envs[1].Thinking {
		t.Error("plain model-output text should not be marked thinking")
	}
	turn := envs[0].Turn
	for _, e := range envs {
		if e.Turn != turn {
			t.Errorf("envelope %+v does not share turn %q", e, turn)
		}
	}
}

// Scenario 2 from spec.md §8.
func TestScenario2_StreamingThinkingFlushesOnModelOutput(t *testing.T) {
	m := New()
	var envs []Envelope
	envs = append(envs, m.StartTurn()...)
	envs = append(envs, m.MapMessage(thinkingEvent("A", true))...)
	envs = append(envs, m.MapMessage(thinkingEvent("B", true))...)
	envs = append(envs, m.MapMessage(modelOutput("x"))...)
	envs = append(envs, m.EndTurn(StatusCompleted)...)

	assertKinds(t, envs, []Kind{KindTurnStart, KindText, KindText, KindTurnEnd})
	if envs[1].Text != "AB" || !envs[1].Thinking {
		t.Errorf("envs[1] = %+v, want text=AB thinking=true", envs[1])
	}
	if envs[2].Text != "x" || envs[2].Thinking {
		t.Errorf("envs[2] = %+v, want text=x thinking=false", envs[2])
	}
}

// Scenario 3 from spec.md §8.
func TestScenario3_ToolCallStartAndEnd(t *testing.T) {
	m := New()
	var envs []Envelope
	envs = append(envs, m.StartTurn()...)
	envs = append(envs, m.MapMessage(backend.Message{
		Kind:     backend.KindToolCall,
		CallID:   "acp-1",
		ToolName: "ReadFile",
		Args:     map[string]any{"path": "README.md"},
	})...)
	envs = append(envs, m.MapMessage(backend.Message{Kind: backend.KindToolResult, CallID: "acp-1"})...)
	envs = append(envs, m.EndTurn(StatusCompleted)...)

	assertKinds(t, envs, []Kind{KindTurnStart, KindToolCallStart, KindToolCallEnd, KindTurnEnd})
	start, end := envs[1], envs[2]
	if start.Call == "" || start.Call != end.Call {
		t.Errorf("tool-call-start.call = %q, tool-call-end.call = %q, want equal and non-empty", start.Call, end.Call)
	}
	if start.Name != "ReadFile" || start.Args["path"] != "README.md" {
		t.Errorf("tool-call-start = %+v", start)
	}
}

// Scenario 4 from spec.md §8.
func TestScenario4_OrphanToolResultStillObservable(t *testing.T) {
	m := New()
	var envs []Envelope
	envs = append(envs, m.StartTurn()...)
	envs = append(envs, m.MapMessage(backend.Message{Kind: backend.KindToolResult, CallID: "unknown"})...)
	envs = append(envs, m.EndTurn(StatusCompleted)...)

	assertKinds(t, envs, []Kind{KindTurnStart, KindToolCallEnd, KindTurnEnd})
	if envs[1].Call == "" {
		t.Error("orphan tool-result should still get a fresh, non-empty call id")
	}
}

func TestStartTurn_Idempotent(t *testing.T) {
	m := New()
	first := m.StartTurn()
	second := m.StartTurn()
	if len(first) != 1 {
		t.Fatalf("first StartTurn() = %d envelopes, want 1", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("second StartTurn() while active = %d envelopes, want 0", len(second))
	}
}

func TestEndTurn_Idempotent(t *testing.T) {
	m := New()
	m.StartTurn()
	m.EndTurn(StatusCompleted)
	if got := m.EndTurn(StatusCompleted); len(got) != 0 {
		t.Fatalf("second EndTurn() with nothing to flush = %d envelopes, want 0", len(got))
	}
}

func TestEndTurn_FlushesLateOutputAfterClose(t *testing.T) {
	m := New()
	m.StartTurn()
	m.EndTurn(StatusCompleted)

	m.MapMessage(modelOutput("late"))
	got := m.EndTurn(StatusCancelled)
	assertKinds(t, got, []Kind{KindText, KindTurnEnd})
	if got[0].Text != "late" {
		t.Errorf("late text = %q, want %q", got[0].Text, "late")
	}
	if got[0].Turn != "" {
		t.Errorf("late-flushed text should carry no turn, got %q", got[0].Turn)
	}
}

func TestTimeStrictlyIncreases(t *testing.T) {
	m := New()
	var all []Envelope
	all = append(all, m.StartTurn()...)
	all = append(all, m.MapMessage(modelOutput("a"))...)
	all = append(all, m.MapMessage(backend.Message{Kind: backend.KindToolCall, CallID: "1", ToolName: "X"})...)
	all = append(all, m.MapMessage(backend.Message{Kind: backend.KindToolResult, CallID: "1"})...)
	all = append(all, m.EndTurn(StatusCompleted)...)

	for i := 1; i < len(all); i++ {
		if all[i].Time <= all[i-1].Time {
			t.Fatalf("time did not strictly increase at index %d: %d <= %d", i, all[i].Time, all[i-1].Time)
		}
	}
}

func TestToolCallIDsAreUnique(t *testing.T) {
	m := New()
	m.StartTurn()
	m.MapMessage(backend.Message{Kind: backend.KindToolCall, CallID: "a", ToolName: "X"})
	m.MapMessage(backend.Message{Kind: backend.KindToolCall, CallID: "b", ToolName: "Y"})
	e1 := m.MapMessage(backend.Message{Kind: backend.KindToolResult, CallID: "a"})
	e2 := m.MapMessage(backend.Message{Kind: backend.KindToolResult, CallID: "b"})
	if e1[0].Call == e2[0].Call {
		t.Error("two distinct tool calls produced the same call id")
	}
}

func assertKinds(t *testing.T, envs []Envelope, want []Kind) {
	t.Helper()
	if len(envs) != len(want) {
		t.Fatalf("got %d envelopes %+v, want %d of kind %v", len(envs), envs, len(want), want)
	}
	for i, k := range want {
		if envs[i].Kind != k {
			t.Errorf("envelope[%d].Kind = %q, want %q", i, envs[i].Kind, k)
		}
	}
}
