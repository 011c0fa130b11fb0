package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMKlausv/project-chimera-w0/pkg/approval"
	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
)

type recordingSink struct {
	mu     sync.Mutex
	events []contracts.EscalationEvent
}

func (s *recordingSink) Escalate(e contracts.EscalationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) Events() []contracts.EscalationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]contracts.EscalationEvent(nil), s.events...)
}

func newSweeperHarness(t *testing.T) (*harness, *Sweeper, *recordingSink) {
	t.Helper()
	h := newHarness(t)
	sink := &recordingSink{}
	sw := NewSweeper(h.engine, h.store, sink, nil).WithClock(h.clock.Now)
	return h, sw, sink
}

func TestApprovalPendingEscalatesOnceAfterSLA(t *testing.T) {
	h, sw, sink := newSweeperHarness(t)
	c := h.toApprovalPending(t, 0.9)
	ctx := context.Background()

	// Inside the SLA: nothing fires.
	h.clock.Advance(60 * time.Second)
	require.NoError(t, sw.Sweep(ctx))
	assert.Empty(t, sink.Events())

	// Past 120s: exactly one event, repeated sweeps stay silent.
	h.clock.Advance(61 * time.Second)
	require.NoError(t, sw.Sweep(ctx))
	require.NoError(t, sw.Sweep(ctx))
	require.NoError(t, sw.Sweep(ctx))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, c.ID, events[0].ContentID)
	assert.Equal(t, contracts.StateApprovalPending, events[0].FromState)
	assert.Greater(t, events[0].DeadlineMissedBy, time.Duration(0))
	assert.NotEmpty(t, events[0].History, "escalation must carry the transition history")

	// APPROVAL_PENDING has no forced target: state is untouched.
	got, err := h.engine.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateApprovalPending, got.Status)
}

func TestEscalationDedupResetsOnStateChange(t *testing.T) {
	h, sw, sink := newSweeperHarness(t)
	c := h.toApprovalPending(t, 0.9)
	ctx := context.Background()

	h.clock.Advance(121 * time.Second)
	require.NoError(t, sw.Sweep(ctx))
	require.Len(t, sink.Events(), 1)

	// Resolve the approval, then let a fresh APPROVAL_PENDING occupancy
	// (via regeneration) exceed the SLA again.
	conf := 0.9
	h.advance(t, c.ID,
		Request{To: contracts.StateApprovalRejected, Event: "rejected"},
		Request{To: contracts.StateGenerationPending, Event: "regenerate"},
		Request{To: contracts.StateContentGenerated, Event: "generated", Confidence: &conf},
		Request{To: contracts.StateValidationPending, Event: "validate"},
		Request{To: contracts.StateValidationPassed, Event: "passed"},
		Request{To: contracts.StateReadyToPublish, Event: "routed"},
		Request{To: contracts.StateApprovalPending, Event: "await_approval"},
	)

	h.clock.Advance(121 * time.Second)
	require.NoError(t, sw.Sweep(ctx))
	assert.Len(t, sink.Events(), 2, "a new occupancy of the same state escalates again")
}

func TestEscalationDedupPrunedForDeletedContent(t *testing.T) {
	h, sw, sink := newSweeperHarness(t)
	c := h.toApprovalPending(t, 0.9)
	ctx := context.Background()

	h.clock.Advance(121 * time.Second)
	require.NoError(t, sw.Sweep(ctx))
	require.Len(t, sink.Events(), 1)
	require.True(t, sw.tracked(c.ID))

	// Content deleted out from under the sweeper (e.g. retention archival):
	// the next sweep drops the dedup record.
	require.NoError(t, h.store.Delete(ctx, contentPrefix+c.ID))
	require.NoError(t, sw.Sweep(ctx))
	assert.False(t, sw.tracked(c.ID), "deleted content must not pin a dedup entry")
}

func TestEscalationDedupClearedWhenStateLeavesSLATable(t *testing.T) {
	h, sw, sink := newSweeperHarness(t)
	c := h.toApprovalPending(t, 0.9)
	ctx := context.Background()

	token, err := h.issuer.Issue(c.ID, "reviewer", approval.Approved, "")
	require.NoError(t, err)
	h.advance(t, c.ID,
		Request{To: contracts.StateApprovalApproved, Event: "approved"},
		Request{To: contracts.StatePublishing, Event: "publish", ApprovalToken: token},
	)

	// First sweep escalates and forces PUBLISH_FAILED, which has no SLA.
	h.clock.Advance(61 * time.Second)
	require.NoError(t, sw.Sweep(ctx))
	require.Len(t, sink.Events(), 1)
	require.True(t, sw.tracked(c.ID))

	require.NoError(t, sw.Sweep(ctx))
	assert.False(t, sw.tracked(c.ID), "states without an SLA carry no dedup entry")
}

func TestPublishingTimeoutForcesPublishFailed(t *testing.T) {
	h, sw, sink := newSweeperHarness(t)
	c := h.toApprovalPending(t, 0.9)
	ctx := context.Background()

	token, err := h.issuer.Issue(c.ID, "reviewer", approval.Approved, "")
	require.NoError(t, err)
	h.advance(t, c.ID,
		Request{To: contracts.StateApprovalApproved, Event: "approved"},
		Request{To: contracts.StatePublishing, Event: "publish", ApprovalToken: token},
	)

	h.clock.Advance(61 * time.Second)
	require.NoError(t, sw.Sweep(ctx))

	require.Len(t, sink.Events(), 1)
	got, err := h.engine.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatePublishFailed, got.Status)
	require.NotNil(t, got.Failure)
	assert.Equal(t, "STATE_SLA_EXCEEDED", got.Failure.Code)
}

func TestGenerationTimeoutForcesGenerationFailed(t *testing.T) {
	h, sw, _ := newSweeperHarness(t)
	ctx := context.Background()

	c, err := h.engine.Create(ctx, "trend-1")
	require.NoError(t, err)
	h.advance(t, c.ID,
		Request{To: contracts.StateSemanticFilterPending, Event: "filter"},
		Request{To: contracts.StateAccepted, Event: "accepted"},
		Request{To: contracts.StateTaskQueued, Event: "queued"},
		Request{To: contracts.StateGenerationPending, Event: "generate"},
	)

	h.clock.Advance(301 * time.Second)
	require.NoError(t, sw.Sweep(ctx))

	got, err := h.engine.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateGenerationFailed, got.Status)
	assert.True(t, IsTerminal(got.Status))
}

func TestStatesWithoutSLANeverEscalate(t *testing.T) {
	h, sw, sink := newSweeperHarness(t)
	ctx := context.Background()

	_, err := h.engine.Create(ctx, "trend-1")
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	require.NoError(t, sw.Sweep(ctx))
	assert.Empty(t, sink.Events())
}
