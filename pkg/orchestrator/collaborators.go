package orchestrator

import (
	"context"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
)

// GenerationInput is what a generator sees: the trend that motivated the
// content plus reviewer feedback when regenerating.
type GenerationInput struct {
	ContentID string
	Trend     contracts.Trend
	Feedback  string
	Attempt   int
}

// GenerationResult is the produced draft and the model's self-assessed
// confidence in [0,1].
type GenerationResult struct {
	Body       string
	Confidence float64
}

// Generator produces content drafts. Calls are bounded by the orchestrator's
// generation timeout.
type Generator interface {
	Generate(ctx context.Context, input GenerationInput) (*GenerationResult, error)
}

// ValidationResult reports safety screening of a draft.
type ValidationResult struct {
	Passed      bool
	SafetyScore float64
	Reason      string
}

// Validator screens drafts for safety and policy compliance.
type Validator interface {
	Validate(ctx context.Context, contentID, body string) (*ValidationResult, error)
}

// PublishResult is the platform's acknowledgment.
type PublishResult struct {
	PlatformRef string
}

// Publisher pushes approved content to its platform.
type Publisher interface {
	Publish(ctx context.Context, contentID string, platform contracts.Platform, body string) (*PublishResult, error)
}

// ApprovalDecision is the outcome of a review round.
type ApprovalDecision struct {
	Approved bool
	// Token is the signed approval, present when Approved.
	Token string
	// Feedback carries the reviewer's objections on rejection.
	Feedback string
}

// ApprovalSource obtains a decision for content awaiting approval. Blocking
// is expected; the orchestrator bounds the wait with the state's SLA and its
// context.
type ApprovalSource interface {
	Decide(ctx context.Context, contentID string, draft string) (*ApprovalDecision, error)
}
