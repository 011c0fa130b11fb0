package perception

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
)

// Filter defaults and bounds from the fetch input schema.
const (
	DefaultLimit         = 50
	MaxLimit             = 500
	DefaultTimeWindow    = "24h"
	DefaultMinEngagement = 10_000
	MaxExcludeTopics     = 50
)

var timeWindowPattern = regexp.MustCompile(`^[0-9]+(h|d)$`)

// FilterConfig controls one ingest run.
type FilterConfig struct {
	Platform   contracts.Platform `json:"platform"`
	Limit      int                `json:"limit,omitempty"`
	TimeWindow string             `json:"time_window,omitempty"`
	// MinEngagement is a pointer so an explicit 0 (no engagement floor)
	// stays distinct from an absent field, which takes the default.
	MinEngagement *int64   `json:"min_engagement,omitempty"`
	ExcludeTopics []string `json:"exclude_topics,omitempty"`
	// Policy is an optional CEL expression evaluated per trend with the
	// variables topic, platform, engagement, sentiment, and decay. A trend
	// is dropped when the expression evaluates to true.
	Policy string `json:"policy,omitempty"`
}

// Int64 returns a pointer to v, for optional filter fields.
func Int64(v int64) *int64 { return &v }

// Normalize validates cfg and fills defaults in place.
func (c *FilterConfig) Normalize() error {
	if !c.Platform.Valid() {
		return faults.Newf("EXT_INVALID_PLATFORM", "unknown platform %q", c.Platform).WithField("platform")
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.Limit < 1 || c.Limit > MaxLimit {
		return faults.Newf("VAL_SCHEMA_INVALID", "limit must be in [1,%d]", MaxLimit).WithField("limit")
	}
	if c.TimeWindow == "" {
		c.TimeWindow = DefaultTimeWindow
	}
	if !timeWindowPattern.MatchString(c.TimeWindow) {
		return faults.Newf("VAL_SCHEMA_INVALID", "time_window %q must match ^[0-9]+(h|d)$", c.TimeWindow).WithField("time_window")
	}
	if c.MinEngagement == nil {
		c.MinEngagement = Int64(DefaultMinEngagement)
	}
	if *c.MinEngagement < 0 {
		return faults.New("VAL_SCHEMA_INVALID", "min_engagement must be >= 0").WithField("min_engagement")
	}
	if len(c.ExcludeTopics) > MaxExcludeTopics {
		return faults.Newf("VAL_SCHEMA_INVALID", "exclude_topics exceeds %d entries", MaxExcludeTopics).WithField("exclude_topics")
	}
	return nil
}

// Window returns the configured time window as a duration.
func (c *FilterConfig) Window() time.Duration {
	n, _ := strconv.Atoi(c.TimeWindow[:len(c.TimeWindow)-1])
	if strings.HasSuffix(c.TimeWindow, "d") {
		return time.Duration(n) * 24 * time.Hour
	}
	return time.Duration(n) * time.Hour
}

// excludeSet returns the exclusion topics lowercased for comparison against
// normalized trend topics.
func (c *FilterConfig) excludeSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.ExcludeTopics))
	for _, t := range c.ExcludeTopics {
		set[strings.ToLower(strings.Join(strings.Fields(t), " "))] = struct{}{}
	}
	return set
}

// policyEvaluator compiles and caches CEL exclusion expressions.
type policyEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newPolicyEvaluator() (*policyEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("topic", cel.StringType),
		cel.Variable("platform", cel.StringType),
		cel.Variable("engagement", cel.IntType),
		cel.Variable("sentiment", cel.StringType),
		cel.Variable("decay", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("create policy environment: %w", err)
	}
	return &policyEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

func (e *policyEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, faults.Wrap("VAL_SCHEMA_INVALID", "invalid policy expression", issues.Err()).WithField("policy")
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, faults.Wrap("VAL_SCHEMA_INVALID", "invalid policy expression", err).WithField("policy")
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// excludes reports whether the policy drops this trend.
func (e *policyEvaluator) excludes(expr string, t *contracts.Trend) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"topic":      t.Topic,
		"platform":   string(t.Platform),
		"engagement": t.Engagement.Score,
		"sentiment":  string(t.Sentiment),
		"decay":      t.DecayScore,
	})
	if err != nil {
		return false, faults.Wrap("VAL_SCHEMA_INVALID", "policy evaluation failed", err).WithField("policy")
	}
	excluded, ok := out.Value().(bool)
	if !ok {
		return false, faults.New("VAL_TYPE_MISMATCH", "policy expression must yield a boolean").WithField("policy")
	}
	return excluded, nil
}
