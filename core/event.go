package core

import (
	"time"
)

// EventType is the closed set of outward-facing event categories. The
// streaming layer frames events by type; consumers switch exhaustively.
type EventType string

const (
	// EventStart opens a run's event stream.
	EventStart EventType = "start"
	// EventPhase announces a plan phase change (new revision, step began).
	EventPhase EventType = "phase"
	// EventProgress reports incremental progress within a step.
	EventProgress EventType = "progress"
	// EventMessage carries human-readable content, including HITL requests.
	EventMessage EventType = "message"
	// EventMetrics carries numeric measurements (QA scores, token usage).
	EventMetrics EventType = "metrics"
	// EventComplete closes a successful run.
	EventComplete EventType = "complete"
	// EventError closes a run that hit an unexpected error.
	EventError EventType = "error"
	// EventLog carries informational engine notices (resuming, policy
	// fired, snapshot written).
	EventLog EventType = "log"
)

// Event is the primary unit of communication between the run loop and
// external consumers. After emission it should be treated as immutable.
// Seq is assigned by the delivering stream and increases strictly from 1
// within one stream; events are delivered exactly once, in emission order,
// and never replayed after a disconnect.
type Event struct {
	ID            string         `json:"id"`
	Seq           int64          `json:"seq"`
	Type          EventType      `json:"type"`
	RunID         string         `json:"run_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	StepID        string         `json:"step_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NewEvent creates a bare event of the given type bound to a run.
func NewEvent(t EventType, runID string) Event {
	return Event{
		ID:        NewID(),
		Type:      t,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
	}
}

// NewMessageEvent constructs a message event with a single text payload.
func NewMessageEvent(runID, text string) Event {
	e := NewEvent(EventMessage, runID)
	e.Payload = map[string]any{"text": text}
	return e
}

// NewLogEvent constructs an informational engine notice.
func NewLogEvent(runID, notice string) Event {
	e := NewEvent(EventLog, runID)
	e.Payload = map[string]any{"notice": notice}
	return e
}

// NewErrorEvent constructs a terminal error event carrying the error text.
func NewErrorEvent(runID string, err error) Event {
	e := NewEvent(EventError, runID)
	e.Payload = map[string]any{"error": err.Error()}
	return e
}

// Terminal reports whether the event closes its stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// EventSink receives events in the exact order the run loop produced
// them. The streaming delivery layer is one consumer; the interface is
// transport-agnostic. A nil sink is valid and discards events.
type EventSink func(Event)

// Emit forwards the event if the sink is non-nil.
func (s EventSink) Emit(e Event) {
	if s != nil {
		s(e)
	}
}
