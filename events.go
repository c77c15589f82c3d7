package pluraal

import "time"

// EventKind identifies the type of event emitted during scope evaluation.
type EventKind string

const (
	// EventRunStarted is emitted when a scope evaluation begins.
	EventRunStarted EventKind = "run_started"

	// EventInputValidated is emitted after a declared input passes
	// validation.
	EventInputValidated EventKind = "input_validated"

	// EventCalculationStarted is emitted when a calculation begins.
	EventCalculationStarted EventKind = "calculation_started"

	// EventCalculationFinished is emitted when a calculation reduces
	// successfully.
	EventCalculationFinished EventKind = "calculation_finished"

	// EventCalculationFailed is emitted when a calculation fails.
	EventCalculationFailed EventKind = "calculation_failed"

	// EventBranchTaken is emitted when a branching expression resolves,
	// recording which alternative was selected. Viewers use this for
	// branch-highlighting.
	EventBranchTaken EventKind = "branch_taken"

	// EventRunFinished is emitted when a scope evaluation completes.
	EventRunFinished EventKind = "run_finished"

	// EventRunFailed is emitted when a scope evaluation aborts with an error.
	EventRunFailed EventKind = "run_failed"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during a scope evaluation.
// Events are small by design; they carry names and positions, not values.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind `json:"kind"`

	// RunID is the identifier for this evaluation (empty outside of
	// observed runs).
	RunID string `json:"run_id,omitempty"`

	// Name is the input or calculation the event concerns, if any.
	Name string `json:"name,omitempty"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Elapsed is the duration since the run started.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	// Payload contains event-specific data, e.g. which branch was taken.
	Payload map[string]any `json:"payload,omitempty"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// EventHandler receives evaluation events. Handlers run synchronously on the
// evaluating goroutine and should return quickly.
type EventHandler func(Event)
