// Package config loads server configuration from environment variables and
// the external-resource manifest from YAML.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	DatabasePath   string
	DatabaseURL    string
	RedisAddr      string
	ManifestPath   string
	ApprovalSecret string
	OTLPEndpoint   string
	ArchiveBucket  string
}

// Load reads configuration from environment variables, applying defaults
// suitable for local development.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "chimera.db"
	}

	manifest := os.Getenv("RESOURCE_MANIFEST")
	if manifest == "" {
		manifest = "resources.yaml"
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		DatabasePath:   dbPath,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		ManifestPath:   manifest,
		ApprovalSecret: os.Getenv("APPROVAL_SECRET"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		ArchiveBucket:  os.Getenv("ARCHIVE_BUCKET"),
	}
}
