package orchestrator

import (
	"context"
	"errors"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/lifecycle"
)

// maxGenerationAttempts bounds generator timeouts before GENERATION_FAILED.
const maxGenerationAttempts = 3

// generateAndValidate drives content from TASK_QUEUED (or APPROVAL_REJECTED
// on a regeneration cycle) through validation routing into APPROVAL_PENDING.
// A non-nil Outcome means the workflow ended here.
func (o *Orchestrator) generateAndValidate(ctx context.Context, contentID string, trend contracts.Trend, feedback string) (string, *Outcome, error) {
	c, err := o.transition(ctx, contentID, lifecycle.Request{
		To:       contracts.StateGenerationPending,
		Event:    generationEvent(feedback),
		Feedback: feedback,
	})
	if err != nil {
		if faults.CodeOf(err) == "STATE_INVALID_TRANSITION" {
			// Regeneration bound exhausted: hand off instead of looping.
			outcome, eerr := o.escalate(ctx, contentID, "regeneration cycles exhausted")
			return "", outcome, eerr
		}
		return "", nil, err
	}

	var result *GenerationResult
	for attempt := 1; ; attempt++ {
		genCtx, cancel := context.WithTimeout(ctx, o.opts.GenerateTimeout)
		result, err = o.generator.Generate(genCtx, GenerationInput{
			ContentID: contentID,
			Trend:     trend,
			Feedback:  feedback,
			Attempt:   c.Attempts,
		})
		cancel()
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}

		retryable := errors.Is(err, context.DeadlineExceeded) || faults.IsRetryable(err)
		if !retryable || attempt >= maxGenerationAttempts {
			outcome, terr := o.fail(ctx, contentID, contracts.StateGenerationFailed, "generation_failed", err)
			return "", outcome, terr
		}
		o.log.Warn("generation attempt failed, retrying",
			"content_id", contentID, "attempt", attempt, "error", err)
		if _, err := o.transition(ctx, contentID, lifecycle.Request{
			To: contracts.StateGenerationPending, Event: "generation_retry",
		}); err != nil {
			return "", nil, err
		}
	}

	confidence := result.Confidence
	if _, err := o.transition(ctx, contentID, lifecycle.Request{
		To: contracts.StateContentGenerated, Event: "generated", Confidence: &confidence,
	}); err != nil {
		return "", nil, err
	}
	if _, err := o.transition(ctx, contentID, lifecycle.Request{
		To: contracts.StateValidationPending, Event: "validate",
	}); err != nil {
		return "", nil, err
	}

	valCtx, cancel := context.WithTimeout(ctx, o.opts.ValidateTimeout)
	verdict, err := o.validator.Validate(valCtx, contentID, result.Body)
	cancel()
	if err != nil {
		// Safety screening is fail-closed: an unreachable validator is a
		// validation failure, never a silent pass.
		outcome, terr := o.fail(ctx, contentID, contracts.StateValidationFailed, "validator_unavailable", err)
		return "", outcome, terr
	}
	if !verdict.Passed {
		safety := verdict.SafetyScore
		c, err := o.transition(ctx, contentID, lifecycle.Request{
			To:          contracts.StateValidationFailed,
			Event:       "safety_failed",
			SafetyScore: &safety,
			Failure:     &contracts.Failure{Code: "PLAT_CONTENT_MODERATED", Reason: verdict.Reason},
		})
		if err != nil {
			return "", nil, err
		}
		return "", &Outcome{ContentID: contentID, State: c.Status}, nil
	}

	safety := verdict.SafetyScore
	c, err = o.transition(ctx, contentID, lifecycle.Request{
		To: contracts.StateValidationPassed, Event: "safety_passed", SafetyScore: &safety,
	})
	if err != nil {
		return "", nil, err
	}
	if _, err := o.transition(ctx, contentID, lifecycle.Request{
		To: lifecycle.RouteAfterValidation(c), Event: "confidence_routed",
	}); err != nil {
		return "", nil, err
	}
	if _, err := o.transition(ctx, contentID, lifecycle.Request{
		To: contracts.StateApprovalPending, Event: "await_approval",
	}); err != nil {
		return "", nil, err
	}
	return result.Body, nil, nil
}

// awaitApproval blocks on the approval source and records the verdict.
func (o *Orchestrator) awaitApproval(ctx context.Context, contentID, body string) (*ApprovalDecision, *Outcome, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.opts.ApprovalTimeout)
	decision, err := o.approvals.Decide(waitCtx, contentID, body)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		// No decision within the window: the SLA sweeper already fired; the
		// workflow hands off rather than guessing a verdict.
		outcome, eerr := o.escalate(ctx, contentID, "no approval decision within window")
		return nil, outcome, eerr
	}

	if !decision.Approved {
		if _, err := o.transition(ctx, contentID, lifecycle.Request{
			To: contracts.StateApprovalRejected, Event: "approval_rejected",
		}); err != nil {
			return nil, nil, err
		}
		return decision, nil, nil
	}
	if _, err := o.transition(ctx, contentID, lifecycle.Request{
		To: contracts.StateApprovalApproved, Event: "approval_granted",
	}); err != nil {
		return nil, nil, err
	}
	return decision, nil, nil
}

// publish pushes the approved draft under the platform throttle, debiting
// the wallet once per content unit regardless of publish retries.
func (o *Orchestrator) publish(ctx context.Context, contentID string, platform contracts.Platform, body, token string) (*Outcome, error) {
	for {
		if err := o.throttle(platform).Wait(ctx); err != nil {
			return nil, err
		}

		if _, err := o.transition(ctx, contentID, lifecycle.Request{
			To: contracts.StatePublishing, Event: "publish", ApprovalToken: token,
		}); err != nil {
			if faults.CodeOf(err) == "STATE_INVALID_TRANSITION" {
				outcome, eerr := o.escalate(ctx, contentID, "publish attempts exhausted")
				return outcome, eerr
			}
			return nil, err
		}

		if err := o.debitPublish(ctx, contentID); err != nil {
			if _, terr := o.transition(ctx, contentID, lifecycle.Request{
				To:      contracts.StatePublishFailed,
				Event:   "debit_failed",
				Failure: &contracts.Failure{Code: faults.CodeOf(err), Reason: err.Error()},
			}); terr != nil {
				return nil, terr
			}
			return o.escalate(ctx, contentID, "wallet debit failed")
		}

		pubCtx, cancel := context.WithTimeout(ctx, o.opts.PublishTimeout)
		_, err := o.publisher.Publish(pubCtx, contentID, platform, body)
		cancel()
		if o.obs != nil {
			o.obs.RecordPublish(ctx, platform, err == nil)
		}
		if err == nil {
			if _, err := o.transition(ctx, contentID, lifecycle.Request{
				To: contracts.StatePublished, Event: "published",
			}); err != nil {
				return nil, err
			}
			c, err := o.transition(ctx, contentID, lifecycle.Request{
				To: contracts.StateDistributionTracking, Event: "track_distribution",
			})
			if err != nil {
				return nil, err
			}
			return &Outcome{ContentID: contentID, State: c.Status}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		code := faults.CodeOf(err)
		if code == "UNKNOWN_ERROR" {
			code = "PLAT_PUBLISH_FAILED"
		}
		if _, terr := o.transition(ctx, contentID, lifecycle.Request{
			To:      contracts.StatePublishFailed,
			Event:   "platform_rejected",
			Failure: &contracts.Failure{Code: code, Reason: err.Error()},
		}); terr != nil {
			return nil, terr
		}

		if !errors.Is(err, context.DeadlineExceeded) && !faults.IsRetryable(err) {
			return o.escalate(ctx, contentID, "platform rejected content")
		}
		o.log.Warn("publish attempt failed, retrying", "content_id", contentID, "error", err)
	}
}

// debitPublish charges the publish cost exactly once per content unit; the
// idempotency key makes retried PUBLISHING entries free.
func (o *Orchestrator) debitPublish(ctx context.Context, contentID string) error {
	if !o.opts.PublishCost.IsPositive() {
		return nil
	}
	_, err := o.ledger.Debit(ctx, o.opts.WalletID, o.opts.PublishCost,
		contentID+":"+string(contracts.StatePublishing))
	return err
}

// fail commits a terminal failure transition and ends the workflow.
func (o *Orchestrator) fail(ctx context.Context, contentID string, to contracts.State, event string, cause error) (*Outcome, error) {
	code := faults.CodeOf(cause)
	if code == "UNKNOWN_ERROR" {
		if errors.Is(cause, context.DeadlineExceeded) {
			code = "NET_TIMEOUT"
		} else {
			code = "EXT_PLATFORM_UNAVAILABLE"
		}
	}
	c, err := o.transition(ctx, contentID, lifecycle.Request{
		To:      to,
		Event:   event,
		Failure: &contracts.Failure{Code: code, Reason: cause.Error()},
	})
	if err != nil {
		return nil, err
	}
	o.log.Warn("workflow failed", "content_id", contentID, "state", to, "code", code)
	return &Outcome{ContentID: contentID, State: c.Status}, nil
}

func generationEvent(feedback string) string {
	if feedback != "" {
		return "regenerate_with_feedback"
	}
	return "generate"
}
