package perception

import (
	"context"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
)

// Relevance factor weights. Fixed by product definition; they sum to 1.
const (
	WeightTopicAlignment      = 0.30
	WeightEngagementPotential = 0.25
	WeightAudienceMatch       = 0.20
	WeightSentimentAlignment  = 0.15
	WeightRecency             = 0.10
)

// DefaultThreshold is the minimum weighted score to proceed.
const DefaultThreshold = 0.75

// Goal list bounds from the semantic filter input schema.
const MaxGoals = 10

// Factors are the five independently judged relevance components, each in
// [0,1].
type Factors struct {
	TopicAlignment      float64 `json:"topic_alignment"`
	EngagementPotential float64 `json:"engagement_potential"`
	AudienceMatch       float64 `json:"audience_match"`
	SentimentAlignment  float64 `json:"sentiment_alignment"`
	Recency             float64 `json:"recency"`
}

// Weighted combines the factors under the fixed weights.
func (f Factors) Weighted() float64 {
	return f.TopicAlignment*WeightTopicAlignment +
		f.EngagementPotential*WeightEngagementPotential +
		f.AudienceMatch*WeightAudienceMatch +
		f.SentimentAlignment*WeightSentimentAlignment +
		f.Recency*WeightRecency
}

// ScoredTrend is a trend with its relevance verdict. Unscored marks the
// fail-open path: the scorer was unavailable, the trend proceeds with zero
// confidence.
type ScoredTrend struct {
	Trend         contracts.Trend `json:"trend"`
	Factors       Factors         `json:"factors"`
	Score         float64         `json:"score"`
	ShouldProceed bool            `json:"should_proceed"`
	Confidence    float64         `json:"confidence"`
	Unscored      bool            `json:"unscored,omitempty"`
}

// Scorer judges one trend against campaign goals. Implementations are
// external collaborators (typically LLM-backed) and may fail.
type Scorer interface {
	Score(ctx context.Context, trend contracts.Trend, goals []string) (Factors, float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, trend contracts.Trend, goals []string) (Factors, float64, error)

func (f ScorerFunc) Score(ctx context.Context, trend contracts.Trend, goals []string) (Factors, float64, error) {
	return f(ctx, trend, goals)
}

// ScoreOptions tune the relevance gate.
type ScoreOptions struct {
	Threshold float64
}

// DefaultScoreOptions uses the standard 0.75 threshold.
var DefaultScoreOptions = ScoreOptions{Threshold: DefaultThreshold}

// ScoreRelevance scores trends against goals. When the scorer is missing or
// any call fails, the affected trends fail open: ShouldProceed true,
// Confidence 0, Unscored set. Scoring never fails closed.
func (p *Pipeline) ScoreRelevance(ctx context.Context, trends []contracts.Trend, goals []string) ([]ScoredTrend, error) {
	if err := validateGoals(goals); err != nil {
		return nil, err
	}

	out := make([]ScoredTrend, 0, len(trends))
	for _, t := range trends {
		if p.scorer == nil {
			out = append(out, failOpen(t))
			continue
		}
		factors, confidence, err := p.scorer.Score(ctx, t, goals)
		if err != nil {
			p.log.Warn("scorer unavailable, failing open", "trend_id", t.ID, "error", err)
			out = append(out, failOpen(t))
			continue
		}
		score := factors.Weighted()
		out = append(out, ScoredTrend{
			Trend:         t,
			Factors:       factors,
			Score:         score,
			ShouldProceed: score >= p.opts.Threshold,
			Confidence:    confidence,
		})
	}
	return out, nil
}

func failOpen(t contracts.Trend) ScoredTrend {
	return ScoredTrend{Trend: t, ShouldProceed: true, Confidence: 0, Unscored: true}
}

func validateGoals(goals []string) error {
	if len(goals) == 0 {
		return faults.New("VAL_MISSING_REQUIRED_FIELD", "at least one campaign goal is required").WithField("goals")
	}
	if len(goals) > MaxGoals {
		return faults.Newf("VAL_SCHEMA_INVALID", "goals exceed %d entries", MaxGoals).WithField("goals")
	}
	for _, g := range goals {
		if g == "" {
			return faults.New("VAL_SCHEMA_INVALID", "goals must be non-empty strings").WithField("goals")
		}
	}
	return nil
}
