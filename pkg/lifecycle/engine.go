package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JMKlausv/project-chimera-w0/pkg/approval"
	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/statestore"
)

const contentPrefix = "content:"

// ContentKey returns the state-store key for a content id.
func ContentKey(contentID string) string { return contentPrefix + contentID }

// TokenVerifier validates approval tokens for the PUBLISHING gate.
type TokenVerifier interface {
	Verify(token, contentID string) (*approval.Claims, error)
}

// Request is one attempted transition.
type Request struct {
	To    contracts.State
	Event string
	// ApprovalToken is required when To is PUBLISHING.
	ApprovalToken string
	// Confidence, when set, is recorded before routing (used on the
	// VALIDATION_PASSED entry).
	Confidence  *float64
	SafetyScore *float64
	// Feedback carries reviewer feedback into a regeneration cycle.
	Feedback string
	// Failure annotates entry into a terminal failure state.
	Failure *contracts.Failure
}

// Engine applies transitions. It never retries internally; a version
// conflict surfaces to the caller, who re-reads and decides.
type Engine struct {
	store    statestore.Store
	verifier TokenVerifier
	log      *slog.Logger
	clock    func() time.Time
}

// NewEngine creates an Engine. verifier guards the PUBLISHING gate and must
// not be nil.
func NewEngine(store statestore.Store, verifier TokenVerifier, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, verifier: verifier, log: log, clock: time.Now}
}

// WithClock overrides time for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Create registers new content in TREND_DETECTED.
func (e *Engine) Create(ctx context.Context, trendID string) (*contracts.Content, error) {
	now := e.clock().UTC()
	c := &contracts.Content{
		ID:        uuid.NewString(),
		TrendID:   trendID,
		Status:    contracts.StateTrendDetected,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec, err := e.write(ctx, c, 0)
	if err != nil {
		return nil, err
	}
	c.Version = rec.Version
	return c, nil
}

// Get loads content by id.
func (e *Engine) Get(ctx context.Context, contentID string) (*contracts.Content, error) {
	rec, err := e.store.Get(ctx, ContentKey(contentID))
	if err != nil {
		return nil, err
	}
	var c contracts.Content
	if err := json.Unmarshal(rec.Data, &c); err != nil {
		return nil, fmt.Errorf("decode content %q: %w", contentID, err)
	}
	c.Version = rec.Version
	return &c, nil
}

// Transition attempts req against the current state of contentID. An edge
// outside the allow-list, a failed side condition, or a missing approval
// token is rejected with no write: state and version stay untouched.
func (e *Engine) Transition(ctx context.Context, contentID string, req Request) (*contracts.Content, error) {
	c, err := e.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return e.apply(ctx, c, req)
}

// apply validates and commits req against the already-loaded content.
func (e *Engine) apply(ctx context.Context, c *contracts.Content, req Request) (*contracts.Content, error) {
	from := c.Status

	if IsTerminal(from) {
		return nil, faults.Newf("STATE_INVALID_TRANSITION",
			"content %q is terminal in %s", c.ID, from)
	}
	if !CanTransition(from, req.To) {
		return nil, faults.Newf("STATE_INVALID_TRANSITION",
			"no edge %s -> %s for content %q", from, req.To, c.ID)
	}

	if req.Confidence != nil {
		c.SetConfidence(*req.Confidence)
	}
	if req.SafetyScore != nil {
		c.SafetyScore = *req.SafetyScore
	}

	switch req.To {
	case contracts.StateReviewPending, contracts.StateReadyToPublish:
		if from == contracts.StateValidationPassed && req.To != RouteAfterValidation(c) {
			return nil, faults.Newf("STATE_INVALID_TRANSITION",
				"confidence %.2f routes to %s, not %s", c.ConfidenceScore, RouteAfterValidation(c), req.To)
		}
	case contracts.StatePublishing:
		claims, err := e.verifier.Verify(req.ApprovalToken, c.ID)
		if err != nil {
			return nil, err
		}
		if from == contracts.StatePublishFailed {
			if c.PublishAttempts >= MaxPublishAttempts {
				return nil, faults.Newf("STATE_INVALID_TRANSITION",
					"content %q exhausted %d publish attempts", c.ID, MaxPublishAttempts)
			}
			c.PublishAttempts++
		}
		c.ApprovalRef = claims.Subject
	case contracts.StateGenerationPending:
		if from == contracts.StateApprovalRejected {
			if c.Attempts >= MaxRegenCycles {
				return nil, faults.Newf("STATE_INVALID_TRANSITION",
					"content %q exhausted %d regeneration cycles", c.ID, MaxRegenCycles)
			}
			c.Attempts++
			c.Feedback = req.Feedback
		}
	}

	if req.Failure != nil {
		c.Failure = req.Failure
	}

	now := e.clock().UTC()
	c.Status = req.To
	c.UpdatedAt = now
	c.History = append(c.History, contracts.TransitionRecord{
		From:  from,
		To:    req.To,
		Event: req.Event,
		At:    now,
	})

	rec, err := e.write(ctx, c, c.Version)
	if err != nil {
		return nil, err
	}
	c.Version = rec.Version

	e.log.Info("transition committed",
		"content_id", c.ID, "from", from, "to", req.To, "event", req.Event, "version", c.Version)
	return c, nil
}

func (e *Engine) write(ctx context.Context, c *contracts.Content, expectedVersion int64) (*statestore.Record, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode content %q: %w", c.ID, err)
	}
	return e.store.WriteIfVersion(ctx, ContentKey(c.ID), expectedVersion, data)
}
