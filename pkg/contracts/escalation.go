package contracts

import "time"

// EscalationEvent is emitted when a content record overstays its state's
// SLA. It carries the full transition history so an operator can audit the
// path that led here without a second lookup.
type EscalationEvent struct {
	ContentID        string             `json:"content_id"`
	FromState        State              `json:"from_state"`
	Reason           string             `json:"reason"`
	DeadlineMissedBy time.Duration      `json:"deadline_missed_by"`
	History          []TransitionRecord `json:"history"`
	EmittedAt        time.Time          `json:"emitted_at"`
}

// EscalationSink receives escalation events. Implementations must be safe
// for concurrent use; the SLA sweeper calls from its own goroutine.
type EscalationSink interface {
	Escalate(event EscalationEvent)
}

// EscalationFunc adapts a function to the EscalationSink interface.
type EscalationFunc func(EscalationEvent)

func (f EscalationFunc) Escalate(e EscalationEvent) { f(e) }
