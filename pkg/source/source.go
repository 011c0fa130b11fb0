// Package source fetches raw trend signals from external resources with
// rate limiting, caching, depth-1 fallback, and stale degradation. The
// fetcher exhausts every degradation step before admitting unavailability.
package source

import (
	"time"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
)

// RawSignal is one untransformed observation from an external resource.
type RawSignal struct {
	ID        string              `json:"id"`
	Platform  contracts.Platform  `json:"platform"`
	Topic     string              `json:"topic"`
	Text      string              `json:"text,omitempty"`
	Author    string              `json:"author,omitempty"`
	Likes     int64               `json:"likes"`
	Comments  int64               `json:"comments"`
	Shares    int64               `json:"shares"`
	Sentiment contracts.Sentiment `json:"sentiment,omitempty"`
	Region    string              `json:"region,omitempty"`
	Velocity  float64             `json:"velocity,omitempty"`
	PostedAt  time.Time           `json:"posted_at"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
}

// FetchResult carries the signals plus how they were obtained.
type FetchResult struct {
	Resource  string      `json:"resource"`
	Signals   []RawSignal `json:"signals"`
	Stale     bool        `json:"stale"`
	FromCache bool        `json:"from_cache"`
	// Fallback names the resource that actually served the request when it
	// was not the one asked for.
	Fallback  string    `json:"fallback,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}
