// Package turnmapper projects the backend's agent-message stream into the
// session envelope stream the relay consumes, organizing output into
// turns with text/thinking coalescing and stable tool-call identity
// mapping, per spec.md §4.6.
package turnmapper

// Kind identifies a session envelope variant.
type Kind string

const (
	KindTurnStart     Kind = "turn-start"
	KindTurnEnd       Kind = "turn-end"
	KindText          Kind = "text"
	KindToolCallStart Kind = "tool-call-start"
	KindToolCallEnd   Kind = "tool-call-end"
)

// TurnStatus is the terminal status carried by a turn-end envelope.
type TurnStatus string

const (
	StatusCompleted TurnStatus = "completed"
	StatusFailed    TurnStatus = "failed"
	StatusCancelled TurnStatus = "cancelled"
)

// Envelope is one unit of the external session envelope stream. Only the
// fields relevant to Kind are populated.
type Envelope struct {
	ID   string
	Time int64
	Turn string // opaque turn id, or "" if emitted outside any turn

	Kind Kind

	// turn-end
	Status TurnStatus

	// text
	Text     string
	Thinking bool

	// tool-call-start / tool-call-end
	Call        string
	Name        string
	Title       string
	Description string
	Args        map[string]any
}
