package clirelay

import (
	"bytes"
	"strings"
	"testing"

	"github.com/happyhq/happy-acp/internal/configprojection"
	"github.com/happyhq/happy-acp/internal/turnmapper"
)

func TestRun_ParsesJSONLine(t *testing.T) {
	r := New(false)
	r.In = strings.NewReader(`{"text":"hello","meta":{"model":"sonnet"}}` + "\n")
	out := &bytes.Buffer{}
	r.Out = out

	done := make(chan struct{})
	go func() { r.Run(); close(done) }()

	msg := <-r.Inbound()
	if msg.Text != "hello" || msg.Meta["model"] != "sonnet" {
		t.Errorf("msg = %+v, want text=hello meta.model=sonnet", msg)
	}
	<-done
	r.Close()
}

func TestRun_BareLineBecomesPromptText(t *testing.T) {
	r := New(false)
	r.In = strings.NewReader("plain prompt text\n")

	done := make(chan struct{})
	go func() { r.Run(); close(done) }()

	msg := <-r.Inbound()
	if msg.Text != "plain prompt text" {
		t.Errorf("msg.Text = %q, want %q", msg.Text, "plain prompt text")
	}
	<-done
	r.Close()
}

func TestRun_ClosesInboundOnEOF(t *testing.T) {
	r := New(false)
	r.In = strings.NewReader("")

	done := make(chan struct{})
	go func() { r.Run(); close(done) }()

	if _, ok := <-r.Inbound(); ok {
		t.Errorf("expected Inbound to close on immediate EOF")
	}
	<-done
	r.Close()
}

func TestSendEnvelope_PlainTranscript(t *testing.T) {
	out := &bytes.Buffer{}
	r := &Relay{Out: out}

	r.SendEnvelope(turnmapper.Envelope{Kind: turnmapper.KindText, Text: "hi"})
	r.SendEnvelope(turnmapper.Envelope{Kind: turnmapper.KindToolCallStart, Name: "read_file", Title: "Read file"})
	r.SendEnvelope(turnmapper.Envelope{Kind: turnmapper.KindTurnEnd, Status: turnmapper.StatusCompleted})

	got := out.String()
	if !strings.Contains(got, "hi") || !strings.Contains(got, "Read file") || !strings.Contains(got, "completed") {
		t.Errorf("transcript = %q, missing expected fragments", got)
	}
}

func TestSendEnvelope_VerboseEmitsJSON(t *testing.T) {
	out := &bytes.Buffer{}
	r := &Relay{Out: out, Verbose: true}

	r.SendEnvelope(turnmapper.Envelope{Kind: turnmapper.KindText, Text: "hi"})

	got := out.String()
	if !strings.Contains(got, `"Kind":"text"`) || !strings.Contains(got, `"Text":"hi"`) {
		t.Errorf("verbose output = %q, want a JSON envelope", got)
	}
}

func TestUpdateMetadata_SilentUnlessVerbose(t *testing.T) {
	out := &bytes.Buffer{}
	r := &Relay{Out: out}
	r.UpdateMetadata(nil, &configprojection.Metadata{Models: []configprojection.Option{{Code: "sonnet"}}})
	if out.Len() != 0 {
		t.Errorf("out = %q, want silent without --verbose", out.String())
	}

	r.Verbose = true
	r.UpdateMetadata(nil, &configprojection.Metadata{Models: []configprojection.Option{{Code: "sonnet"}}})
	if !strings.Contains(out.String(), "1 model(s)") {
		t.Errorf("out = %q, want a metadata summary", out.String())
	}
}
