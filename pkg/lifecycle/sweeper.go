package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/statestore"
)

// Sweeper scans content records for SLA violations. Each (content, state)
// occupancy escalates at most once; the dedup record resets as soon as the
// content moves, so a later re-entry into the same state can escalate again.
type Sweeper struct {
	engine *Engine
	store  statestore.Store
	sink   contracts.EscalationSink
	log    *slog.Logger
	clock  func() time.Time

	mu        sync.Mutex
	escalated map[string]occupancy
}

// occupancy identifies one stay of a content record in one state.
type occupancy struct {
	state   contracts.State
	entered time.Time
}

// NewSweeper creates a Sweeper emitting to sink.
func NewSweeper(engine *Engine, store statestore.Store, sink contracts.EscalationSink, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		engine:    engine,
		store:     store,
		sink:      sink,
		log:       log,
		clock:     time.Now,
		escalated: make(map[string]occupancy),
	}
}

// WithClock overrides time for tests.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Run sweeps on interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep checks every content record once.
func (s *Sweeper) Sweep(ctx context.Context) error {
	keys, err := s.store.Keys(ctx, contentPrefix)
	if err != nil {
		return err
	}
	live := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		contentID := strings.TrimPrefix(key, contentPrefix)
		live[contentID] = struct{}{}
		c, err := s.engine.Get(ctx, contentID)
		if err != nil {
			// Deleted between list and load; nothing to escalate.
			if faults.CodeOf(err) == "RES_NOT_FOUND" {
				continue
			}
			s.log.Warn("skipping unreadable content", "content_id", contentID, "error", err)
			continue
		}
		s.check(ctx, c)
	}
	s.prune(live)
	return nil
}

func (s *Sweeper) check(ctx context.Context, c *contracts.Content) {
	sla, ok := SLAFor(c.Status)
	if !ok {
		// Terminal or unmonitored state: the dedup record is stale.
		s.clear(c.ID)
		return
	}

	entered := stateEnteredAt(c)
	now := s.clock().UTC()
	missedBy := now.Sub(entered) - sla.Dwell
	if missedBy <= 0 {
		s.clear(c.ID)
		return
	}
	if !s.mark(c.ID, c.Status, entered) {
		return // this occupancy already escalated
	}

	event := contracts.EscalationEvent{
		ContentID:        c.ID,
		FromState:        c.Status,
		Reason:           sla.Reason,
		DeadlineMissedBy: missedBy,
		History:          append([]contracts.TransitionRecord(nil), c.History...),
		EmittedAt:        now,
	}
	s.sink.Escalate(event)
	s.log.Warn("sla exceeded",
		"content_id", c.ID, "state", c.Status, "missed_by", missedBy, "target", sla.Target)

	if sla.Target == "" {
		return
	}
	_, err := s.engine.apply(ctx, c, Request{
		To:    sla.Target,
		Event: "sla_timeout",
		Failure: &contracts.Failure{
			Code:   "STATE_SLA_EXCEEDED",
			Reason: sla.Reason,
		},
	})
	if err != nil {
		// A concurrent writer moved the content first; their transition
		// supersedes the escalation.
		s.log.Info("escalation transition skipped", "content_id", c.ID, "error", err)
	}
}

// mark records an escalation for this occupancy. Returns false if it was
// already escalated.
func (s *Sweeper) mark(contentID string, state contracts.State, entered time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.escalated[contentID]
	if ok && prev.state == state && prev.entered.Equal(entered) {
		return false
	}
	s.escalated[contentID] = occupancy{state: state, entered: entered}
	return true
}

func (s *Sweeper) clear(contentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.escalated, contentID)
}

// prune drops dedup entries for content no longer in the store, so deleted
// records do not pin their escalation history.
func (s *Sweeper) prune(live map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.escalated {
		if _, ok := live[id]; !ok {
			delete(s.escalated, id)
		}
	}
}

// tracked reports whether an escalation dedup entry exists for contentID.
func (s *Sweeper) tracked(contentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.escalated[contentID]
	return ok
}

// stateEnteredAt returns when the content entered its current state.
func stateEnteredAt(c *contracts.Content) time.Time {
	if n := len(c.History); n > 0 {
		return c.History[n-1].At
	}
	return c.CreatedAt
}
