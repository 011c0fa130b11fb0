// Package orchestrator runs one workflow goroutine per content unit,
// driving perception scoring, the lifecycle engine, and the external
// generation, validation, approval, and publish collaborators. Collaborator
// failures translate into lifecycle transitions, never into stuck workflows.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/lifecycle"
	"github.com/JMKlausv/project-chimera-w0/pkg/observability"
	"github.com/JMKlausv/project-chimera-w0/pkg/perception"
	"github.com/JMKlausv/project-chimera-w0/pkg/retry"
	"github.com/JMKlausv/project-chimera-w0/pkg/statestore"
	"github.com/JMKlausv/project-chimera-w0/pkg/wallet"
)

const trendPrefix = "trend:"

// TrendKey returns the state-store key for a trend id.
func TrendKey(trendID string) string { return trendPrefix + trendID }

// Options tune the orchestrator.
type Options struct {
	GenerateTimeout time.Duration
	ValidateTimeout time.Duration
	PublishTimeout  time.Duration
	ApprovalTimeout time.Duration

	// Goals are the campaign goals fed to relevance scoring.
	Goals []string

	// AgentID, when set, ties workflows to a registered agent: submissions
	// are admitted only while the agent is active, and its pending-task
	// count tracks running workflows.
	AgentID string

	// WalletID and PublishCost monetize publication; a zero cost disables
	// debiting.
	WalletID    string
	PublishCost contracts.Money

	// PublishRate throttles publishes per platform (events per second with
	// burst). Zero disables throttling.
	PublishRate  rate.Limit
	PublishBurst int
}

func (o *Options) withDefaults() {
	if o.GenerateTimeout == 0 {
		o.GenerateTimeout = 120 * time.Second
	}
	if o.ValidateTimeout == 0 {
		o.ValidateTimeout = 60 * time.Second
	}
	if o.PublishTimeout == 0 {
		o.PublishTimeout = 30 * time.Second
	}
	if o.ApprovalTimeout == 0 {
		o.ApprovalTimeout = 120 * time.Second
	}
	if o.PublishBurst == 0 {
		o.PublishBurst = 1
	}
}

// Handle identifies a running workflow.
type Handle struct {
	ContentID string
	TrendID   string
}

// Status is a point-in-time view of a workflow.
type Status struct {
	ContentID string                       `json:"content_id"`
	State     contracts.State              `json:"state"`
	Version   int64                        `json:"version"`
	History   []contracts.TransitionRecord `json:"history"`
}

// Outcome is the terminal result of a pipeline run.
type Outcome struct {
	ContentID string
	State     contracts.State
	// Escalated is set when the workflow handed off to a supervisor
	// instead of reaching a terminal state on its own.
	Escalated bool
}

// Orchestrator coordinates workflows.
type Orchestrator struct {
	engine    *lifecycle.Engine
	store     statestore.Store
	pipeline  *perception.Pipeline
	ledger    *wallet.Ledger
	generator Generator
	validator Validator
	publisher Publisher
	approvals ApprovalSource
	sink      contracts.EscalationSink
	opts      Options
	exec      *retry.Executor
	obs       *observability.Provider
	log       *slog.Logger
	clock     func() time.Time

	mu        sync.Mutex
	throttles map[contracts.Platform]*rate.Limiter
	running   map[string]context.CancelFunc
	wg        sync.WaitGroup
}

// New wires an Orchestrator.
func New(
	engine *lifecycle.Engine,
	store statestore.Store,
	pipeline *perception.Pipeline,
	ledger *wallet.Ledger,
	generator Generator,
	validator Validator,
	publisher Publisher,
	approvals ApprovalSource,
	sink contracts.EscalationSink,
	opts Options,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	opts.withDefaults()
	return &Orchestrator{
		engine:    engine,
		store:     store,
		pipeline:  pipeline,
		ledger:    ledger,
		generator: generator,
		validator: validator,
		publisher: publisher,
		approvals: approvals,
		sink:      sink,
		opts:      opts,
		exec:      retry.New(),
		log:       log,
		clock:     time.Now,
		throttles: make(map[contracts.Platform]*rate.Limiter),
		running:   make(map[string]context.CancelFunc),
	}
}

// WithObservability attaches a telemetry provider; workflow runs, committed
// transitions, and publish attempts are then traced and counted.
func (o *Orchestrator) WithObservability(obs *observability.Provider) *Orchestrator {
	o.obs = obs
	return o
}

// StoreTrend persists a trend so workflows can be submitted against it.
func (o *Orchestrator) StoreTrend(ctx context.Context, t contracts.Trend) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trend %q: %w", t.ID, err)
	}
	_, err = o.store.WriteIfVersion(ctx, TrendKey(t.ID), 0, data)
	if err != nil && faults.CodeOf(err) == "STATE_CONFLICT" {
		// Trends are immutable; a second store of the same id is a no-op.
		return nil
	}
	return err
}

// Trend loads a stored trend.
func (o *Orchestrator) Trend(ctx context.Context, trendID string) (*contracts.Trend, error) {
	rec, err := o.store.Get(ctx, TrendKey(trendID))
	if err != nil {
		return nil, err
	}
	var t contracts.Trend
	if err := json.Unmarshal(rec.Data, &t); err != nil {
		return nil, fmt.Errorf("decode trend %q: %w", trendID, err)
	}
	return &t, nil
}

// Submit creates content for trendID and starts its workflow goroutine.
func (o *Orchestrator) Submit(ctx context.Context, trendID string) (*Handle, error) {
	if _, err := o.Trend(ctx, trendID); err != nil {
		return nil, err
	}
	if o.opts.AgentID != "" {
		if err := o.admitAgentTask(ctx, o.opts.AgentID); err != nil {
			return nil, err
		}
	}
	c, err := o.engine.Create(ctx, trendID)
	if err != nil {
		if o.opts.AgentID != "" {
			o.releaseAgentTask(ctx, o.opts.AgentID)
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.running[c.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.running, c.ID)
			o.mu.Unlock()
			if o.opts.AgentID != "" {
				o.releaseAgentTask(context.WithoutCancel(runCtx), o.opts.AgentID)
			}
		}()
		if _, err := o.RunPipeline(runCtx, c.ID); err != nil {
			o.log.Error("workflow ended with error", "content_id", c.ID, "error", err)
		}
	}()

	return &Handle{ContentID: c.ID, TrendID: trendID}, nil
}

// Cancel stops the workflow for contentID between suspension points.
func (o *Orchestrator) Cancel(contentID string) {
	o.mu.Lock()
	cancel, ok := o.running[contentID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Wait blocks until all workflow goroutines finish.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Status reports the current state of a workflow.
func (o *Orchestrator) Status(ctx context.Context, contentID string) (*Status, error) {
	c, err := o.engine.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return &Status{
		ContentID: c.ID,
		State:     c.Status,
		Version:   c.Version,
		History:   c.History,
	}, nil
}

// RunPipeline drives contentID from TREND_DETECTED to a terminal outcome.
func (o *Orchestrator) RunPipeline(ctx context.Context, contentID string) (outcome *Outcome, err error) {
	if o.obs != nil {
		var done func(error)
		ctx, done = o.obs.TrackWorkflow(ctx, contentID)
		defer func() { done(err) }()
	}

	c, err := o.engine.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	trend, err := o.Trend(ctx, c.TrendID)
	if err != nil {
		return nil, err
	}

	// Relevance gate.
	if _, err := o.transition(ctx, contentID, lifecycle.Request{
		To: contracts.StateSemanticFilterPending, Event: "semantic_filter",
	}); err != nil {
		return nil, err
	}
	scored, err := o.pipeline.ScoreRelevance(ctx, []contracts.Trend{*trend}, o.opts.Goals)
	if err != nil {
		return nil, err
	}
	if !scored[0].ShouldProceed {
		c, err := o.transition(ctx, contentID, lifecycle.Request{
			To: contracts.StateRejected, Event: "below_relevance_threshold",
		})
		if err != nil {
			return nil, err
		}
		return &Outcome{ContentID: contentID, State: c.Status}, nil
	}
	if _, err := o.transition(ctx, contentID, lifecycle.Request{
		To: contracts.StateAccepted, Event: "relevance_accepted",
	}); err != nil {
		return nil, err
	}
	if _, err := o.transition(ctx, contentID, lifecycle.Request{
		To: contracts.StateTaskQueued, Event: "queued",
	}); err != nil {
		return nil, err
	}

	feedback := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, outcome, err := o.generateAndValidate(ctx, contentID, *trend, feedback)
		if outcome != nil || err != nil {
			return outcome, err
		}

		decision, outcome, err := o.awaitApproval(ctx, contentID, body)
		if outcome != nil || err != nil {
			return outcome, err
		}
		if !decision.Approved {
			feedback = decision.Feedback
			continue // re-enter generation with feedback
		}

		return o.publish(ctx, contentID, trend.Platform, body, decision.Token)
	}
}

// transition is the engine call plus the escalate-on-conflict convention:
// a conflict means another driver (typically the SLA sweeper) moved the
// content, so the workflow reloads and stops if it lost control.
func (o *Orchestrator) transition(ctx context.Context, contentID string, req lifecycle.Request) (*contracts.Content, error) {
	c, err := o.engine.Transition(ctx, contentID, req)
	if err != nil && faults.CodeOf(err) == "STATE_CONFLICT" {
		reloaded, gerr := o.engine.Get(ctx, contentID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, faults.Newf("STATE_CONFLICT",
			"content %q moved to %s by a concurrent writer", contentID, reloaded.Status)
	}
	if err == nil && o.obs != nil && len(c.History) > 0 {
		last := c.History[len(c.History)-1]
		o.obs.RecordTransition(ctx, last.From, last.To)
	}
	return c, err
}

// escalate hands the workflow to a supervisor.
func (o *Orchestrator) escalate(ctx context.Context, contentID string, reason string) (*Outcome, error) {
	c, err := o.engine.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	o.sink.Escalate(contracts.EscalationEvent{
		ContentID: contentID,
		FromState: c.Status,
		Reason:    reason,
		History:   append([]contracts.TransitionRecord(nil), c.History...),
		EmittedAt: o.clock().UTC(),
	})
	o.log.Warn("workflow escalated", "content_id", contentID, "state", c.Status, "reason", reason)
	return &Outcome{ContentID: contentID, State: c.Status, Escalated: true}, nil
}

func (o *Orchestrator) throttle(platform contracts.Platform) *rate.Limiter {
	o.mu.Lock()
	defer o.mu.Unlock()
	lim, ok := o.throttles[platform]
	if !ok {
		limit := o.opts.PublishRate
		if limit == 0 {
			limit = rate.Inf
		}
		lim = rate.NewLimiter(limit, o.opts.PublishBurst)
		o.throttles[platform] = lim
	}
	return lim
}
