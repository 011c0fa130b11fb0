package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// manifestSchema validates the shape of the resource manifest before any
// field is interpreted. Shape violations are rejected up front rather than
// surfacing as zero-valued limits at runtime.
const manifestSchema = `{
  "type": "object",
  "required": ["version", "resources"],
  "properties": {
    "version": {"type": "string"},
    "resources": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["uri", "rate_limit_per_hour", "cache_ttl", "timeout"],
        "properties": {
          "uri": {"type": "string", "minLength": 1},
          "rate_limit_per_hour": {"type": "integer", "minimum": 1},
          "cache_ttl": {"type": "string"},
          "timeout": {"type": "string"},
          "fallback": {"type": "string"}
        }
      }
    }
  }
}`

// manifestVersionConstraint is the compatibility range this build accepts.
var manifestVersionConstraint = semver.MustParse("1.0.0")

// ResourceSpec describes one external resource.
type ResourceSpec struct {
	Name             string
	URI              string
	RateLimitPerHour int
	CacheTTL         time.Duration
	Timeout          time.Duration
	// Fallback names exactly one alternative resource; chains are depth-1
	// and never recursive.
	Fallback string
}

// UnmarshalYAML decodes durations from Go duration strings ("5m", "10s").
func (r *ResourceSpec) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		URI              string `yaml:"uri"`
		RateLimitPerHour int    `yaml:"rate_limit_per_hour"`
		CacheTTL         string `yaml:"cache_ttl"`
		Timeout          string `yaml:"timeout"`
		Fallback         string `yaml:"fallback"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	ttl, err := time.ParseDuration(raw.CacheTTL)
	if err != nil {
		return fmt.Errorf("cache_ttl: %w", err)
	}
	timeout, err := time.ParseDuration(raw.Timeout)
	if err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	r.URI = raw.URI
	r.RateLimitPerHour = raw.RateLimitPerHour
	r.CacheTTL = ttl
	r.Timeout = timeout
	r.Fallback = raw.Fallback
	return nil
}

// Manifest is the static table of external resources. The core treats it as
// configuration, not code.
type Manifest struct {
	Version   string                   `yaml:"version"`
	Resources map[string]*ResourceSpec `yaml:"resources"`
}

// LoadManifest reads, schema-validates, and version-gates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	schema, err := jsonschema.CompileString("resources.schema.json", manifestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("manifest schema: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("manifest version %q: %w", m.Version, err)
	}
	if v.Major() != manifestVersionConstraint.Major() {
		return nil, fmt.Errorf("manifest version %s incompatible with %s", m.Version, manifestVersionConstraint)
	}

	for name, spec := range m.Resources {
		spec.Name = name
		if spec.Fallback != "" {
			fb, ok := m.Resources[spec.Fallback]
			if !ok {
				return nil, fmt.Errorf("resource %q: fallback %q not in manifest", name, spec.Fallback)
			}
			if fb.Fallback != "" {
				return nil, fmt.Errorf("resource %q: fallback %q has its own fallback; chains are depth-1", name, spec.Fallback)
			}
		}
	}
	return &m, nil
}

// Resource returns the spec for name.
func (m *Manifest) Resource(name string) (*ResourceSpec, bool) {
	spec, ok := m.Resources[name]
	return spec, ok
}

// ResourceNames returns the configured resource names, unordered.
func (m *Manifest) ResourceNames() []string {
	names := make([]string, 0, len(m.Resources))
	for name := range m.Resources {
		names = append(names, name)
	}
	return names
}

// DefaultManifest is the manifest shipped for local development, mirroring
// the production resource table: per-platform rate limits, five-minute
// cache TTLs, and depth-1 fallback feeds.
const DefaultManifest = `version: "1.0.0"
resources:
  twitter:
    uri: twitter://mentions/recent
    rate_limit_per_hour: 100
    cache_ttl: 5m
    timeout: 10s
    fallback: twitter_feed
  twitter_feed:
    uri: twitter://feed/general
    rate_limit_per_hour: 100
    cache_ttl: 5m
    timeout: 10s
  news:
    uri: news://global/trends
    rate_limit_per_hour: 50
    cache_ttl: 5m
    timeout: 10s
    fallback: news_digest
  news_digest:
    uri: news://digest/daily
    rate_limit_per_hour: 50
    cache_ttl: 15m
    timeout: 10s
  market:
    uri: market://crypto/BTC/trending
    rate_limit_per_hour: 200
    cache_ttl: 5m
    timeout: 10s
    fallback: market_general
  market_general:
    uri: market://crypto/general
    rate_limit_per_hour: 200
    cache_ttl: 5m
    timeout: 10s
  reddit:
    uri: reddit://all/trending
    rate_limit_per_hour: 100
    cache_ttl: 5m
    timeout: 10s
  tiktok:
    uri: tiktok://trending/general
    rate_limit_per_hour: 100
    cache_ttl: 5m
    timeout: 10s
`

// MustDefaultManifest parses the built-in manifest. It panics on error;
// a broken default is a build defect.
func MustDefaultManifest() *Manifest {
	m, err := ParseManifest([]byte(strings.TrimSpace(DefaultManifest)))
	if err != nil {
		panic(err)
	}
	return m
}
