package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/statestore"
)

// DefaultRetention is how long trend records stay hot before being archived.
const DefaultRetention = 30 * 24 * time.Hour

const trendPrefix = "trend:"

// Retainer archives trend records past their retention window. Each sweep
// exports the expired record to the blob store and only then deletes it from
// the state store, so a crash between the two leaves the record hot and the
// next sweep re-exports it (a no-op under content addressing).
type Retainer struct {
	store     statestore.Store
	blobs     BlobStore
	retention time.Duration
	log       *slog.Logger
	clock     func() time.Time
}

// NewRetainer wires a Retainer with the default retention window.
func NewRetainer(store statestore.Store, blobs BlobStore, log *slog.Logger) *Retainer {
	if log == nil {
		log = slog.Default()
	}
	return &Retainer{
		store:     store,
		blobs:     blobs,
		retention: DefaultRetention,
		log:       log,
		clock:     time.Now,
	}
}

// WithRetention overrides the retention window.
func (r *Retainer) WithRetention(d time.Duration) *Retainer {
	r.retention = d
	return r
}

// WithClock overrides the time source, for tests.
func (r *Retainer) WithClock(clock func() time.Time) *Retainer {
	r.clock = clock
	return r
}

// SweepReport summarizes one retention pass.
type SweepReport struct {
	Scanned  int
	Archived int
	Failed   int
}

// Sweep archives and deletes every trend past retention. A failure on one
// record is logged and counted; the sweep continues with the rest.
func (r *Retainer) Sweep(ctx context.Context) (*SweepReport, error) {
	keys, err := r.store.Keys(ctx, trendPrefix)
	if err != nil {
		return nil, fmt.Errorf("list trend keys: %w", err)
	}

	report := &SweepReport{Scanned: len(keys)}
	cutoff := r.clock().Add(-r.retention)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ok, err := r.archiveOne(ctx, key, cutoff)
		if err != nil {
			report.Failed++
			r.log.Warn("trend archival failed", "key", key, "error", err)
			continue
		}
		if ok {
			report.Archived++
		}
	}
	if report.Archived > 0 || report.Failed > 0 {
		r.log.Info("retention sweep complete",
			"scanned", report.Scanned, "archived", report.Archived, "failed", report.Failed)
	}
	return report, nil
}

// Run sweeps on the interval until ctx is done.
func (r *Retainer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("retention sweep failed", "error", err)
			}
		}
	}
}

func (r *Retainer) archiveOne(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	rec, err := r.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	var t contracts.Trend
	if err := json.Unmarshal(rec.Data, &t); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	if !t.Timestamp.Before(cutoff) {
		return false, nil
	}

	canonical, err := jcs.Transform(rec.Data)
	if err != nil {
		return false, fmt.Errorf("canonicalize %s: %w", key, err)
	}
	hash, err := r.blobs.Store(ctx, canonical)
	if err != nil {
		return false, fmt.Errorf("export %s: %w", key, err)
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("delete %s after export: %w", key, err)
	}
	r.log.Debug("trend archived", "key", key, "hash", hash)
	return true, nil
}
