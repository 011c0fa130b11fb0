// Package contracts defines the shared data model of the content pipeline:
// trends, content packages, agent state, wallet transactions, and escalation
// events. Records here are plain data; behavior lives in the components that
// own them.
package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Platform is one of the fixed set of signal sources.
type Platform string

const (
	PlatformTwitter Platform = "twitter"
	PlatformNews    Platform = "news"
	PlatformMarket  Platform = "market"
	PlatformReddit  Platform = "reddit"
	PlatformTikTok  Platform = "tiktok"
)

// Platforms lists every valid platform.
var Platforms = []Platform{PlatformTwitter, PlatformNews, PlatformMarket, PlatformReddit, PlatformTikTok}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	for _, v := range Platforms {
		if p == v {
			return true
		}
	}
	return false
}

// Sentiment classification of a trend's prevailing tone.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

// GeographicOrigin regions. "global" is the absence of a regional signal.
var GeographicOrigins = []string{"global", "US", "EU", "LATAM", "APAC", "AFRICA", "MENA"}

// Engagement holds the raw interaction counts plus the derived score.
// The score formula is fixed: likes + 2*comments + 3*shares.
type Engagement struct {
	Likes       int64 `json:"likes"`
	Comments    int64 `json:"comments"`
	Shares      int64 `json:"shares"`
	Impressions int64 `json:"impressions"`
	Score       int64 `json:"engagement_score"`
}

// ExpectedScore computes the canonical engagement score from the counts.
func (e Engagement) ExpectedScore() int64 {
	return e.Likes + 2*e.Comments + 3*e.Shares
}

// Limits on the optional metadata map.
const (
	MaxMetadataEntries   = 10
	MaxMetadataValueSize = 256
	MaxTopicLength       = 200
)

// Trend is an immutable observation of a trending topic. A re-observation of
// the same logical trend produces a new record; decay never increases across
// re-observations of a topic.
type Trend struct {
	ID               string            `json:"trend_id"`
	Topic            string            `json:"topic"`
	Platform         Platform          `json:"platform"`
	Sentiment        Sentiment         `json:"sentiment"`
	Timestamp        time.Time         `json:"timestamp"`
	Engagement       Engagement        `json:"engagement"`
	Velocity         float64           `json:"trend_velocity"`
	DecayScore       float64           `json:"decay_score"`
	GeographicOrigin string            `json:"geographic_origin,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Validate checks the record against the trend schema.
func (t *Trend) Validate() error {
	if t.ID == "" {
		return faults.New("VAL_MISSING_REQUIRED_FIELD", "trend_id is required").WithField("trend_id")
	}
	if t.Topic == "" {
		return faults.New("VAL_MISSING_REQUIRED_FIELD", "topic is required").WithField("topic")
	}
	if len(t.Topic) > MaxTopicLength {
		return faults.Newf("VAL_SCHEMA_INVALID", "topic exceeds %d chars", MaxTopicLength).WithField("topic")
	}
	if !t.Platform.Valid() {
		return faults.Newf("EXT_INVALID_PLATFORM", "unknown platform %q", t.Platform).WithField("platform")
	}
	if t.Timestamp.IsZero() {
		return faults.New("VAL_TIMESTAMP_INVALID", "timestamp is required").WithField("timestamp")
	}
	if t.Engagement.Likes < 0 || t.Engagement.Comments < 0 || t.Engagement.Shares < 0 || t.Engagement.Impressions < 0 {
		return faults.New("VAL_NEGATIVE_ENGAGEMENT", "engagement counts must be >= 0").WithField("engagement")
	}
	if t.Engagement.Score != t.Engagement.ExpectedScore() {
		return faults.Newf("VAL_ENGAGEMENT_FORMULA_MISMATCH",
			"engagement_score %d != likes + 2*comments + 3*shares = %d",
			t.Engagement.Score, t.Engagement.ExpectedScore()).WithField("engagement_score")
	}
	if t.Velocity < 0 {
		return faults.New("VAL_SCHEMA_INVALID", "trend_velocity must be >= 0").WithField("trend_velocity")
	}
	if t.DecayScore < 0 || t.DecayScore > 1 {
		return faults.New("VAL_SCHEMA_INVALID", "decay_score must be in [0,1]").WithField("decay_score")
	}
	if t.GeographicOrigin != "" {
		ok := false
		for _, g := range GeographicOrigins {
			if t.GeographicOrigin == g {
				ok = true
				break
			}
		}
		if !ok {
			return faults.Newf("VAL_SCHEMA_INVALID", "unknown geographic_origin %q", t.GeographicOrigin).WithField("geographic_origin")
		}
	}
	if len(t.Metadata) > MaxMetadataEntries {
		return faults.Newf("VAL_SCHEMA_INVALID", "metadata exceeds %d entries", MaxMetadataEntries).WithField("metadata")
	}
	for k, v := range t.Metadata {
		if len(v) > MaxMetadataValueSize {
			return faults.Newf("VAL_SCHEMA_INVALID", "metadata[%s] exceeds %d bytes", k, MaxMetadataValueSize).WithField("metadata")
		}
	}
	return nil
}

// TopicFingerprint returns a stable identity for a logical topic, used for
// deduplication. Topics are NFC-normalized, case-folded, and
// whitespace-collapsed before hashing so cosmetic variants collide.
func (t *Trend) TopicFingerprint() string {
	normalized := norm.NFC.String(strings.ToLower(strings.Join(strings.Fields(t.Topic), " ")))
	payload, err := json.Marshal(map[string]string{
		"platform": string(t.Platform),
		"topic":    normalized,
	})
	if err != nil {
		// map[string]string cannot fail to marshal
		panic(err)
	}
	canonical, err := jcs.Transform(payload)
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:16])
}
