// Package clirelay is the happy CLI's own RelaySession: a local, single
// user transport over stdio. It reads one JSON object per line from stdin
// as an inbound user message and writes the session envelope stream to
// stdout, either as a plain transcript or, under --verbose, as the raw
// ndJSON envelopes themselves. The signal-driven abort/kill gesture mirrors
// a typical server's SIGINT/SIGTERM graceful-shutdown handling, repurposed
// here for a single interactive session instead of a server process group.
package clirelay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/happyhq/happy-acp/internal/configprojection"
	"github.com/happyhq/happy-acp/internal/runner"
	"github.com/happyhq/happy-acp/internal/turnmapper"
)

// Relay implements runner.RelaySession over the process's own stdio.
type Relay struct {
	Verbose bool
	Out     io.Writer
	In      io.Reader

	abortFn func()
	killFn  func()

	inbound chan runner.UserMessage
	sigCh   chan os.Signal

	mu sync.Mutex
}

// New constructs a Relay reading stdin and writing stdout. Call Run in its
// own goroutine before handing the Relay to runner.New.
func New(verbose bool) *Relay {
	return &Relay{
		Verbose: verbose,
		Out:     os.Stdout,
		In:      os.Stdin,
		inbound: make(chan runner.UserMessage),
		sigCh:   make(chan os.Signal, 1),
	}
}

func (r *Relay) RegisterAbortHandler(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortFn = fn
}

func (r *Relay) RegisterKillHandler(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killFn = fn
}

func (r *Relay) Inbound() <-chan runner.UserMessage { return r.inbound }

// Close stops listening for the abort/kill signals. Stdin's own EOF is
// what actually drains Inbound; Close just releases the signal channel.
func (r *Relay) Close() {
	signal.Stop(r.sigCh)
}

// inboundLine is the ndJSON shape stdin carries. A line that fails to
// parse as this shape is treated as the raw prompt text, so a plain
// terminal REPL ("happy acp gemini" then typed lines) works without any
// JSON wrapping.
type inboundLine struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Run pumps stdin into Inbound and installs the SIGINT/SIGTERM-driven
// abort/kill gesture: the first SIGINT cancels the in-flight turn, a
// second SIGINT or any SIGTERM disposes the child and exits. It blocks
// until stdin reaches EOF, so callers run it in its own goroutine.
func (r *Relay) Run() {
	signal.Notify(r.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go r.pumpSignals()

	scanner := bufio.NewScanner(r.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var parsed inboundLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil || parsed.Text == "" {
			parsed = inboundLine{Text: line}
		}
		r.inbound <- runner.UserMessage{Text: parsed.Text, Meta: parsed.Meta}
	}
	close(r.inbound)
}

func (r *Relay) pumpSignals() {
	abortSent := false
	for sig := range r.sigCh {
		r.mu.Lock()
		abortFn, killFn := r.abortFn, r.killFn
		r.mu.Unlock()

		if sig == syscall.SIGINT && !abortSent && abortFn != nil {
			abortSent = true
			abortFn()
			continue
		}
		if killFn != nil {
			killFn()
		}
		return
	}
}

// SendEnvelope renders one session envelope to stdout.
func (r *Relay) SendEnvelope(e turnmapper.Envelope) {
	if r.Verbose {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Fprintln(r.Out, string(data))
		return
	}

	switch e.Kind {
	case turnmapper.KindText:
		if e.Thinking {
			fmt.Fprintf(r.Out, "[thinking] %s", e.Text)
			return
		}
		fmt.Fprint(r.Out, e.Text)
	case turnmapper.KindToolCallStart:
		label := e.Title
		if label == "" {
			label = e.Name
		}
		fmt.Fprintf(r.Out, "\n→ %s\n", label)
	case turnmapper.KindTurnEnd:
		fmt.Fprintf(r.Out, "\n[%s]\n", e.Status)
	}
}

// UpdateMetadata logs the transition under --verbose only; a plain
// transcript has no natural place to print a capability change.
func (r *Relay) UpdateMetadata(prev, next *configprojection.Metadata) {
	if !r.Verbose || next == nil {
		return
	}
	fmt.Fprintf(r.Out, "[metadata: %d mode(s), %d model(s)]\n", len(next.OperatingModes), len(next.Models))
}
