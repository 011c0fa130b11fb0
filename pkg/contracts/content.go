package contracts

import "time"

// State is a content lifecycle state. The edge set lives in the lifecycle
// package; states are data so they can be persisted and reported.
type State string

const (
	StateTrendDetected         State = "TREND_DETECTED"
	StateSemanticFilterPending State = "SEMANTIC_FILTER_PENDING"
	StateRejected              State = "REJECTED"
	StateAccepted              State = "ACCEPTED"
	StateTaskQueued            State = "TASK_QUEUED"
	StateGenerationPending     State = "CONTENT_GENERATION_PENDING"
	StateGenerationFailed      State = "GENERATION_FAILED"
	StateContentGenerated      State = "CONTENT_GENERATED"
	StateValidationPending     State = "VALIDATION_PENDING"
	StateValidationFailed      State = "VALIDATION_FAILED"
	StateValidationPassed      State = "VALIDATION_PASSED"
	StateReviewPending         State = "REVIEW_PENDING"
	StateReadyToPublish        State = "READY_TO_PUBLISH"
	StateApprovalPending       State = "APPROVAL_PENDING"
	StateApprovalRejected      State = "APPROVAL_REJECTED"
	StateApprovalApproved      State = "APPROVAL_APPROVED"
	StatePublishing            State = "PUBLISHING"
	StatePublishFailed         State = "PUBLISH_FAILED"
	StatePublished             State = "PUBLISHED"
	StateDistributionTracking  State = "DISTRIBUTION_TRACKING"
)

// ReviewThreshold: confidence below this always routes through human review.
const ReviewThreshold = 0.8

// TransitionRecord is one entry in a content's history.
type TransitionRecord struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Failure captures why a content unit reached a terminal failure state.
type Failure struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Content is the mutable unit of work driven through the lifecycle. It is
// mutated only through the state machine engine, which commits every change
// via a version-checked write; Version is the optimistic-concurrency token.
type Content struct {
	ID              string             `json:"content_id"`
	TrendID         string             `json:"trend_id"`
	Status          State              `json:"status"`
	Version         int64              `json:"version"`
	ConfidenceScore float64            `json:"confidence_score"`
	SafetyScore     float64            `json:"safety_score"`
	RequiresReview  bool               `json:"requires_review"`
	ApprovalRef     string             `json:"approval_ref,omitempty"`
	Attempts        int                `json:"attempts"`
	PublishAttempts int                `json:"publish_attempts"`
	Feedback        string             `json:"feedback,omitempty"`
	Failure         *Failure           `json:"failure,omitempty"`
	History         []TransitionRecord `json:"history"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// SetConfidence records the generation confidence and derives the review
// flag. requires_review is always true below the review threshold.
func (c *Content) SetConfidence(score float64) {
	c.ConfidenceScore = score
	c.RequiresReview = score < ReviewThreshold
}
