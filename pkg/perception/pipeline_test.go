package perception

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/source"
)

var testNow = time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	result *source.FetchResult
	err    error
}

func (f *stubFetcher) Fetch(context.Context, string) (*source.FetchResult, error) {
	return f.result, f.err
}

func signal(topic string, likes int64) source.RawSignal {
	return source.RawSignal{
		ID:       "sig-" + topic,
		Platform: contracts.PlatformTwitter,
		Topic:    topic,
		Likes:    likes,
		PostedAt: testNow.Add(-time.Hour),
	}
}

func newTestPipeline(t *testing.T, signals []source.RawSignal, scorer Scorer) *Pipeline {
	t.Helper()
	f := &stubFetcher{result: &source.FetchResult{
		Resource:  "twitter",
		Signals:   signals,
		FetchedAt: testNow,
	}}
	p, err := NewPipeline(f, scorer, nil)
	require.NoError(t, err)
	return p.WithClock(func() time.Time { return testNow })
}

func TestIngestFiltersBelowMinEngagement(t *testing.T) {
	p := newTestPipeline(t, []source.RawSignal{
		signal("low", 5_000),
		signal("mid", 12_000),
		signal("high", 20_000),
	}, nil)

	res, err := p.Ingest(context.Background(), FilterConfig{
		Platform:      contracts.PlatformTwitter,
		MinEngagement: Int64(10_000),
	})
	require.NoError(t, err)
	require.Len(t, res.Trends, 2)
	assert.Equal(t, "high", res.Trends[0].Topic)
	assert.Equal(t, "mid", res.Trends[1].Topic)
	assert.False(t, res.Truncated)
}

func TestIngestZeroMinEngagementDisablesFloor(t *testing.T) {
	p := newTestPipeline(t, []source.RawSignal{
		signal("tiny", 5),
		signal("big", 20_000),
	}, nil)

	// An explicit 0 means "no engagement floor", not "use the default".
	res, err := p.Ingest(context.Background(), FilterConfig{
		Platform:      contracts.PlatformTwitter,
		MinEngagement: Int64(0),
	})
	require.NoError(t, err)
	require.Len(t, res.Trends, 2)
	assert.Equal(t, "tiny", res.Trends[1].Topic)
}

func TestIngestExcludesTopics(t *testing.T) {
	p := newTestPipeline(t, []source.RawSignal{
		signal("Crypto Crash", 50_000),
		signal("ai agents", 40_000),
	}, nil)

	res, err := p.Ingest(context.Background(), FilterConfig{
		Platform:      contracts.PlatformTwitter,
		ExcludeTopics: []string{"crypto  crash"},
	})
	require.NoError(t, err)
	require.Len(t, res.Trends, 1)
	assert.Equal(t, "ai agents", res.Trends[0].Topic)
}

func TestIngestDeduplicatesKeepingHighestEngagement(t *testing.T) {
	p := newTestPipeline(t, []source.RawSignal{
		signal("AI Agents", 30_000),
		signal("ai  agents", 45_000),
		signal("other", 20_000),
	}, nil)

	res, err := p.Ingest(context.Background(), FilterConfig{Platform: contracts.PlatformTwitter})
	require.NoError(t, err)
	require.Len(t, res.Trends, 2)
	assert.Equal(t, int64(45_000), res.Trends[0].Engagement.Score)
}

func TestIngestTruncatesToLimit(t *testing.T) {
	signals := make([]source.RawSignal, 5)
	for i := range signals {
		signals[i] = signal(string(rune('a'+i)), int64(20_000+i))
	}
	p := newTestPipeline(t, signals, nil)

	res, err := p.Ingest(context.Background(), FilterConfig{
		Platform: contracts.PlatformTwitter,
		Limit:    3,
	})
	require.NoError(t, err)
	assert.Len(t, res.Trends, 3)
	assert.True(t, res.Truncated)
	assert.Equal(t, 3, res.Count)
}

func TestIngestValidationMatrix(t *testing.T) {
	p := newTestPipeline(t, nil, nil)
	cases := []struct {
		name string
		cfg  FilterConfig
		code string
	}{
		{"bad platform", FilterConfig{Platform: "myspace"}, "EXT_INVALID_PLATFORM"},
		{"limit too high", FilterConfig{Platform: contracts.PlatformNews, Limit: 501}, "VAL_SCHEMA_INVALID"},
		{"negative limit", FilterConfig{Platform: contracts.PlatformNews, Limit: -1}, "VAL_SCHEMA_INVALID"},
		{"bad window", FilterConfig{Platform: contracts.PlatformNews, TimeWindow: "24x"}, "VAL_SCHEMA_INVALID"},
		{"negative engagement", FilterConfig{Platform: contracts.PlatformNews, MinEngagement: Int64(-1)}, "VAL_SCHEMA_INVALID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Ingest(context.Background(), tc.cfg)
			require.Error(t, err)
			assert.Equal(t, tc.code, faults.CodeOf(err))
		})
	}
}

func TestIngestDefaults(t *testing.T) {
	cfg := FilterConfig{Platform: contracts.PlatformTwitter}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, DefaultLimit, cfg.Limit)
	assert.Equal(t, "24h", cfg.TimeWindow)
	require.NotNil(t, cfg.MinEngagement)
	assert.Equal(t, int64(DefaultMinEngagement), *cfg.MinEngagement)
	assert.Equal(t, 24*time.Hour, cfg.Window())
}

func TestIngestPolicyExclusion(t *testing.T) {
	p := newTestPipeline(t, []source.RawSignal{
		{ID: "1", Topic: "market dip", Likes: 30_000, Sentiment: contracts.SentimentNegative, PostedAt: testNow.Add(-time.Hour)},
		{ID: "2", Topic: "launch day", Likes: 30_000, Sentiment: contracts.SentimentPositive, PostedAt: testNow.Add(-time.Hour)},
	}, nil)

	res, err := p.Ingest(context.Background(), FilterConfig{
		Platform: contracts.PlatformTwitter,
		Policy:   `sentiment == "negative"`,
	})
	require.NoError(t, err)
	require.Len(t, res.Trends, 1)
	assert.Equal(t, "launch day", res.Trends[0].Topic)
}

func TestIngestRejectsBadPolicy(t *testing.T) {
	p := newTestPipeline(t, []source.RawSignal{signal("a", 30_000)}, nil)

	_, err := p.Ingest(context.Background(), FilterConfig{
		Platform: contracts.PlatformTwitter,
		Policy:   `engagement +`,
	})
	require.Error(t, err)
	assert.Equal(t, "VAL_SCHEMA_INVALID", faults.CodeOf(err))
}

func TestDecayNeverIncreasesAcrossObservations(t *testing.T) {
	p := newTestPipeline(t, nil, nil)

	older := source.RawSignal{ID: "1", Topic: "ai agents", Likes: 30_000, PostedAt: testNow.Add(-20 * time.Hour)}
	newer := source.RawSignal{ID: "2", Topic: "ai agents", Likes: 30_000, PostedAt: testNow.Add(-time.Hour)}

	first := p.transform(older, contracts.PlatformTwitter, testNow, 24*time.Hour)
	second := p.transform(newer, contracts.PlatformTwitter, testNow, 24*time.Hour)

	assert.LessOrEqual(t, second.DecayScore, first.DecayScore,
		"re-observation must clamp decay to the prior floor")
}

func TestScoreRelevanceThreshold(t *testing.T) {
	scorer := ScorerFunc(func(_ context.Context, trend contracts.Trend, _ []string) (Factors, float64, error) {
		if trend.Topic == "strong" {
			return Factors{TopicAlignment: 1, EngagementPotential: 1, AudienceMatch: 1, SentimentAlignment: 1, Recency: 1}, 0.9, nil
		}
		return Factors{TopicAlignment: 0.5, EngagementPotential: 0.5, AudienceMatch: 0.5, SentimentAlignment: 0.5, Recency: 0.5}, 0.9, nil
	})
	p := newTestPipeline(t, nil, scorer)

	trends := []contracts.Trend{{ID: "1", Topic: "strong"}, {ID: "2", Topic: "weak"}}
	scored, err := p.ScoreRelevance(context.Background(), trends, []string{"grow brand"})
	require.NoError(t, err)

	assert.True(t, scored[0].ShouldProceed)
	assert.InDelta(t, 1.0, scored[0].Score, 1e-9)
	assert.False(t, scored[1].ShouldProceed)
	assert.InDelta(t, 0.5, scored[1].Score, 1e-9)
}

func TestScoreRelevanceFailsOpen(t *testing.T) {
	scorer := ScorerFunc(func(context.Context, contracts.Trend, []string) (Factors, float64, error) {
		return Factors{}, 0, errors.New("scorer down")
	})
	p := newTestPipeline(t, nil, scorer)

	scored, err := p.ScoreRelevance(context.Background(), []contracts.Trend{{ID: "1"}}, []string{"goal"})
	require.NoError(t, err, "fail-open must never surface an error")
	require.Len(t, scored, 1)
	assert.True(t, scored[0].ShouldProceed)
	assert.True(t, scored[0].Unscored)
	assert.Zero(t, scored[0].Confidence)
}

func TestScoreRelevanceGoalValidation(t *testing.T) {
	p := newTestPipeline(t, nil, nil)

	_, err := p.ScoreRelevance(context.Background(), nil, nil)
	assert.Equal(t, "VAL_MISSING_REQUIRED_FIELD", faults.CodeOf(err))

	goals := make([]string, 11)
	for i := range goals {
		goals[i] = "g"
	}
	_, err = p.ScoreRelevance(context.Background(), nil, goals)
	assert.Equal(t, "VAL_SCHEMA_INVALID", faults.CodeOf(err))

	_, err = p.ScoreRelevance(context.Background(), nil, []string{"ok", ""})
	assert.Equal(t, "VAL_SCHEMA_INVALID", faults.CodeOf(err))
}
