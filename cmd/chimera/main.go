// Command chimera runs the content-pipeline orchestration service: it loads
// the resource manifest, wires the state store, rate limiter, lifecycle
// engine, and orchestrator, and serves the workflow API with the SLA and
// retention sweepers running in the background.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JMKlausv/project-chimera-w0/pkg/api"
	"github.com/JMKlausv/project-chimera-w0/pkg/approval"
	"github.com/JMKlausv/project-chimera-w0/pkg/archive"
	"github.com/JMKlausv/project-chimera-w0/pkg/cache"
	"github.com/JMKlausv/project-chimera-w0/pkg/config"
	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/lifecycle"
	"github.com/JMKlausv/project-chimera-w0/pkg/observability"
	"github.com/JMKlausv/project-chimera-w0/pkg/orchestrator"
	"github.com/JMKlausv/project-chimera-w0/pkg/perception"
	"github.com/JMKlausv/project-chimera-w0/pkg/ratelimit"
	"github.com/JMKlausv/project-chimera-w0/pkg/source"
	"github.com/JMKlausv/project-chimera-w0/pkg/statestore"
	"github.com/JMKlausv/project-chimera-w0/pkg/wallet"
)

const (
	slaSweepInterval       = 10 * time.Second
	retentionSweepInterval = time.Hour
	shutdownGrace          = 15 * time.Second
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "chimera-orchestrator",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
	})
	if err != nil {
		return err
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = obs.Shutdown(shCtx)
	}()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manifest, err := loadManifest(cfg, log)
	if err != nil {
		return err
	}

	limiter := newLimiter(cfg, log)
	signalCache := cache.New(cache.Options{MaxEntries: 4096})
	fetcher := source.NewFetcher(manifest, source.NewHTTPProvider(), limiter, signalCache, log)

	secret := approvalSecret(cfg, log)
	verifier, err := approval.NewVerifier(secret)
	if err != nil {
		return err
	}
	issuer, err := approval.NewIssuer(secret, approval.DefaultTTL)
	if err != nil {
		return err
	}

	engine := lifecycle.NewEngine(store, verifier, log)
	pipeline, err := perception.NewPipeline(fetcher, nil, log)
	if err != nil {
		return err
	}
	ledger := wallet.NewLedger(store, log)

	sink := contracts.EscalationFunc(func(e contracts.EscalationEvent) {
		obs.RecordEscalation(context.Background(), e.FromState, e.Reason)
		log.Warn("workflow escalated",
			"content_id", e.ContentID, "state", e.FromState, "reason", e.Reason)
	})

	orch := orchestrator.New(engine, store, pipeline, ledger,
		templateGenerator{},
		blocklistValidator{blocked: strings.Split(os.Getenv("BLOCKED_TERMS"), ",")},
		logPublisher{log: log},
		autoApprover{issuer: issuer, reviewer: "auto-approver"},
		sink,
		orchestrator.Options{Goals: goals()},
		log,
	).WithObservability(obs)

	sweeper := lifecycle.NewSweeper(engine, store, sink, log)
	go sweeper.Run(ctx, slaSweepInterval)

	retainer := archive.NewRetainer(store, blobStore(ctx, cfg, log), log)
	go retainer.Run(ctx, retentionSweepInterval)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(orch, api.NewIPRateLimiter(50, 100), log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	orch.Wait()
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStore selects the state backend: Postgres when DATABASE_URL is set,
// in-memory for the ":memory:" path, SQLite otherwise.
func openStore(cfg *config.Config, log *slog.Logger) (statestore.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		log.Info("state store: postgres")
		return statestore.OpenPostgres(cfg.DatabaseURL)
	case cfg.DatabasePath == ":memory:":
		log.Info("state store: memory")
		return statestore.NewMemoryStore(), nil
	default:
		log.Info("state store: sqlite", "path", cfg.DatabasePath)
		return statestore.OpenSQLite(cfg.DatabasePath)
	}
}

func loadManifest(cfg *config.Config, log *slog.Logger) (*config.Manifest, error) {
	m, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("resource manifest not found, using defaults", "path", cfg.ManifestPath)
			return config.MustDefaultManifest(), nil
		}
		return nil, err
	}
	return m, nil
}

func newLimiter(cfg *config.Config, log *slog.Logger) ratelimit.Limiter {
	if cfg.RedisAddr != "" {
		log.Info("rate limiter: redis", "addr", cfg.RedisAddr)
		return ratelimit.NewRedisLimiter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}
	return ratelimit.NewSlidingWindow()
}

// approvalSecret returns the configured secret, or a random per-process one.
// With a random secret, tokens do not survive restarts.
func approvalSecret(cfg *config.Config, log *slog.Logger) []byte {
	if cfg.ApprovalSecret != "" {
		return []byte(cfg.ApprovalSecret)
	}
	log.Warn("APPROVAL_SECRET not set, generating ephemeral secret")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}
	return secret
}

func blobStore(ctx context.Context, cfg *config.Config, log *slog.Logger) archive.BlobStore {
	if cfg.ArchiveBucket != "" {
		s3Store, err := archive.NewS3BlobStore(ctx, archive.S3Config{
			Bucket: cfg.ArchiveBucket,
			Region: os.Getenv("AWS_REGION"),
			Prefix: "trends/",
		})
		if err == nil {
			log.Info("archive: s3", "bucket", cfg.ArchiveBucket)
			return s3Store
		}
		log.Error("s3 archive unavailable, falling back to memory", "error", err)
	}
	return archive.NewMemoryBlobStore()
}

func goals() []string {
	raw := os.Getenv("CAMPAIGN_GOALS")
	if raw == "" {
		return []string{"brand awareness"}
	}
	var out []string
	for _, g := range strings.Split(raw, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
