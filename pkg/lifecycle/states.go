// Package lifecycle drives content through its state machine. The edge set
// is a closed allow-list; every commit goes through the state store's
// version-checked write so concurrent drivers of the same content cannot
// both win.
package lifecycle

import (
	"time"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
)

// Retry bounds enforced at the state machine boundary.
const (
	// MaxRegenCycles bounds APPROVAL_REJECTED → CONTENT_GENERATION_PENDING
	// loops before the content escalates to a supervisor instead.
	MaxRegenCycles = 3
	// MaxPublishAttempts bounds PUBLISH_FAILED → PUBLISHING re-entries.
	MaxPublishAttempts = 3
)

// edges is the complete transition allow-list. No other edges exist.
var edges = map[contracts.State][]contracts.State{
	contracts.StateTrendDetected:         {contracts.StateSemanticFilterPending},
	contracts.StateSemanticFilterPending: {contracts.StateRejected, contracts.StateAccepted},
	contracts.StateAccepted:              {contracts.StateTaskQueued},
	contracts.StateTaskQueued:            {contracts.StateGenerationPending},
	contracts.StateGenerationPending: {
		contracts.StateGenerationFailed,
		contracts.StateContentGenerated,
		contracts.StateGenerationPending, // retry loop
	},
	contracts.StateContentGenerated:  {contracts.StateValidationPending},
	contracts.StateValidationPending: {contracts.StateValidationFailed, contracts.StateValidationPassed},
	contracts.StateValidationPassed:  {contracts.StateReviewPending, contracts.StateReadyToPublish},
	contracts.StateReviewPending:     {contracts.StateApprovalPending},
	contracts.StateReadyToPublish:    {contracts.StateApprovalPending},
	contracts.StateApprovalPending:   {contracts.StateApprovalRejected, contracts.StateApprovalApproved},
	contracts.StateApprovalRejected:  {contracts.StateGenerationPending},
	contracts.StateApprovalApproved:  {contracts.StatePublishing},
	contracts.StatePublishing:        {contracts.StatePublishFailed, contracts.StatePublished},
	contracts.StatePublishFailed:     {contracts.StatePublishing},
	contracts.StatePublished:         {contracts.StateDistributionTracking},
	contracts.StateDistributionTracking: {},
	contracts.StateRejected:             {},
	contracts.StateGenerationFailed:     {},
	contracts.StateValidationFailed:     {},
}

// CanTransition reports whether from → to is in the allow-list.
func CanTransition(from, to contracts.State) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether state accepts no further transitions.
func IsTerminal(state contracts.State) bool {
	next, ok := edges[state]
	return ok && len(next) == 0
}

// SLA is the maximum dwell time for one state and what happens when it is
// exceeded. A zero Target means escalate-only: the sweeper emits the event
// and leaves the state for a supervisor to resolve.
type SLA struct {
	Dwell  time.Duration
	Target contracts.State
	Reason string
}

// slas maps states with bounded dwell times. States absent here may dwell
// indefinitely.
var slas = map[contracts.State]SLA{
	contracts.StateReviewPending:     {Dwell: 120 * time.Second, Reason: "review not completed within SLA"},
	contracts.StateApprovalPending:   {Dwell: 120 * time.Second, Reason: "approval not completed within SLA"},
	contracts.StatePublishing:        {Dwell: 60 * time.Second, Target: contracts.StatePublishFailed, Reason: "publish did not complete within SLA"},
	contracts.StateGenerationPending: {Dwell: 300 * time.Second, Target: contracts.StateGenerationFailed, Reason: "generation did not complete within SLA"},
	contracts.StateValidationPending: {Dwell: 300 * time.Second, Target: contracts.StateValidationFailed, Reason: "validation did not complete within SLA"},
}

// SLAFor returns the dwell SLA for state, if any.
func SLAFor(state contracts.State) (SLA, bool) {
	sla, ok := slas[state]
	return sla, ok
}

// RouteAfterValidation picks the post-validation state from the derived
// review flag: low-confidence content always passes through human review.
func RouteAfterValidation(c *contracts.Content) contracts.State {
	if c.RequiresReview {
		return contracts.StateReviewPending
	}
	return contracts.StateReadyToPublish
}
