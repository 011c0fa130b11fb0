// Package perception turns raw external signals into filtered, deduplicated,
// engagement-ranked trends and scores their relevance against campaign
// goals. Filtering is strict; relevance scoring fails open when the scoring
// collaborator is unavailable.
package perception

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/source"
)

// IngestResult is the outcome of one ingest run.
type IngestResult struct {
	Platform  contracts.Platform `json:"platform"`
	Trends    []contracts.Trend  `json:"trends"`
	Count     int                `json:"count"`
	Truncated bool               `json:"truncated"`
	Stale     bool               `json:"stale"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// Fetcher is the slice of the resource fetcher the pipeline needs.
type Fetcher interface {
	Fetch(ctx context.Context, resource string) (*source.FetchResult, error)
}

// Pipeline ingests and scores trends.
type Pipeline struct {
	fetcher Fetcher
	policy  *policyEvaluator
	scorer  Scorer
	opts    ScoreOptions
	log     *slog.Logger
	clock   func() time.Time

	// decayMu guards decayFloor: the lowest decay observed per topic
	// fingerprint. Re-observations clamp to it so decay never increases.
	decayMu    sync.Mutex
	decayFloor map[string]float64
}

// NewPipeline creates a Pipeline. Scorer may be nil, in which case every
// scoring run takes the fail-open path.
func NewPipeline(fetcher Fetcher, scorer Scorer, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	policy, err := newPolicyEvaluator()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		fetcher:    fetcher,
		policy:     policy,
		scorer:     scorer,
		opts:       DefaultScoreOptions,
		log:        log,
		clock:      time.Now,
		decayFloor: make(map[string]float64),
	}, nil
}

// WithClock overrides time for tests.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// WithScoreOptions overrides scoring weights and threshold.
func (p *Pipeline) WithScoreOptions(opts ScoreOptions) *Pipeline {
	p.opts = opts
	return p
}

// Ingest fetches signals for cfg.Platform and returns the filtered,
// deduplicated, ranked trends.
func (p *Pipeline) Ingest(ctx context.Context, cfg FilterConfig) (*IngestResult, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	fetched, err := p.fetcher.Fetch(ctx, string(cfg.Platform))
	if err != nil {
		return nil, err
	}

	now := p.clock().UTC()
	window := cfg.Window()
	excluded := cfg.excludeSet()

	var trends []contracts.Trend
	for _, sig := range fetched.Signals {
		t := p.transform(sig, cfg.Platform, now, window)

		if t.Engagement.Score < *cfg.MinEngagement {
			continue
		}
		if _, drop := excluded[strings.ToLower(strings.Join(strings.Fields(t.Topic), " "))]; drop {
			continue
		}
		if cfg.Policy != "" {
			drop, err := p.policy.excludes(cfg.Policy, &t)
			if err != nil {
				return nil, err
			}
			if drop {
				continue
			}
		}
		trends = append(trends, t)
	}

	trends = dedupe(trends)
	sort.SliceStable(trends, func(i, j int) bool {
		return trends[i].Engagement.Score > trends[j].Engagement.Score
	})

	truncated := false
	if len(trends) > cfg.Limit {
		trends = trends[:cfg.Limit]
		truncated = true
	}

	p.log.Info("ingest complete",
		"platform", cfg.Platform, "fetched", len(fetched.Signals), "kept", len(trends),
		"truncated", truncated, "stale", fetched.Stale)

	return &IngestResult{
		Platform:  cfg.Platform,
		Trends:    trends,
		Count:     len(trends),
		Truncated: truncated,
		Stale:     fetched.Stale,
		FetchedAt: fetched.FetchedAt,
	}, nil
}

// transform builds a Trend from one raw signal: identifier assignment,
// engagement normalization, and age decay clamped against prior
// observations of the same topic.
func (p *Pipeline) transform(sig source.RawSignal, platform contracts.Platform, now time.Time, window time.Duration) contracts.Trend {
	eng := contracts.Engagement{
		Likes:    max(sig.Likes, 0),
		Comments: max(sig.Comments, 0),
		Shares:   max(sig.Shares, 0),
	}
	eng.Score = eng.ExpectedScore()

	sentiment := sig.Sentiment
	if sentiment == "" {
		sentiment = contracts.SentimentNeutral
	}

	t := contracts.Trend{
		ID:               uuid.NewString(),
		Topic:            sig.Topic,
		Platform:         platform,
		Sentiment:        sentiment,
		Timestamp:        sig.PostedAt,
		Engagement:       eng,
		Velocity:         sig.Velocity,
		DecayScore:       decayFromAge(now.Sub(sig.PostedAt), window),
		GeographicOrigin: sig.Region,
		Metadata:         sig.Metadata,
	}
	t.DecayScore = p.clampDecay(t.TopicFingerprint(), t.DecayScore)
	return t
}

// decayFromAge maps signal age onto [0,1]: 1 at age zero, linearly down to 0
// at the window boundary.
func decayFromAge(age, window time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if age >= window {
		return 0
	}
	return 1 - float64(age)/float64(window)
}

// clampDecay enforces that decay never increases across re-observations of
// the same topic.
func (p *Pipeline) clampDecay(fingerprint string, observed float64) float64 {
	p.decayMu.Lock()
	defer p.decayMu.Unlock()
	if prior, ok := p.decayFloor[fingerprint]; ok && prior < observed {
		observed = prior
	}
	p.decayFloor[fingerprint] = observed
	return observed
}

// dedupe keeps the highest-engagement instance per topic fingerprint.
func dedupe(trends []contracts.Trend) []contracts.Trend {
	best := make(map[string]int, len(trends))
	var out []contracts.Trend
	for _, t := range trends {
		fp := t.TopicFingerprint()
		if i, ok := best[fp]; ok {
			if t.Engagement.Score > out[i].Engagement.Score {
				out[i] = t
			}
			continue
		}
		best[fp] = len(out)
		out = append(out, t)
	}
	return out
}
