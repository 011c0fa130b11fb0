package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JMKlausv/project-chimera-w0/pkg/approval"
	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/orchestrator"
)

// The built-in collaborators back local development and smoke testing.
// Production deployments point the orchestrator at the real agent services
// instead.

// templateGenerator drafts content from the trend itself.
type templateGenerator struct{}

func (templateGenerator) Generate(_ context.Context, input orchestrator.GenerationInput) (*orchestrator.GenerationResult, error) {
	body := fmt.Sprintf("Trending on %s: %s (engagement %d)",
		input.Trend.Platform, input.Trend.Topic, input.Trend.Engagement.Score)
	if input.Feedback != "" {
		body += " — revised: " + input.Feedback
	}
	return &orchestrator.GenerationResult{Body: body, Confidence: 0.85}, nil
}

// blocklistValidator fails drafts containing any configured term.
type blocklistValidator struct {
	blocked []string
}

func (v blocklistValidator) Validate(_ context.Context, _ string, body string) (*orchestrator.ValidationResult, error) {
	lower := strings.ToLower(body)
	for _, term := range v.blocked {
		if term != "" && strings.Contains(lower, term) {
			return &orchestrator.ValidationResult{
				Passed: false, SafetyScore: 0.1,
				Reason: "draft contains blocked term",
			}, nil
		}
	}
	return &orchestrator.ValidationResult{Passed: true, SafetyScore: 0.95}, nil
}

// logPublisher records the publish instead of calling a platform.
type logPublisher struct {
	log *slog.Logger
}

func (p logPublisher) Publish(_ context.Context, contentID string, platform contracts.Platform, body string) (*orchestrator.PublishResult, error) {
	p.log.Info("content published", "content_id", contentID, "platform", platform, "body", body)
	return &orchestrator.PublishResult{PlatformRef: "local:" + contentID}, nil
}

// autoApprover signs every draft with a locally minted token.
type autoApprover struct {
	issuer   *approval.Issuer
	reviewer string
}

func (a autoApprover) Decide(_ context.Context, contentID string, _ string) (*orchestrator.ApprovalDecision, error) {
	token, err := a.issuer.Issue(contentID, a.reviewer, approval.Approved, "")
	if err != nil {
		return nil, err
	}
	return &orchestrator.ApprovalDecision{Approved: true, Token: token}, nil
}
