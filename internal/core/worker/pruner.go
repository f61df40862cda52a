// Package worker holds background maintenance jobs for the pipeline.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage"
)

// Pruner deletes snapshots past the retention period, children first so the
// registry row is the last thing to disappear. Only terminal snapshots are
// pruned; anything mid-flight is left alone regardless of age.
type Pruner struct {
	retention time.Duration
	registry  storage.RegistryRepository
	records   storage.RecordRepository
	scores    storage.ScoringRepository
	log       *slog.Logger
}

// NewPruner creates a retention pruner. A retention of 0 disables it.
func NewPruner(
	retention time.Duration,
	registry storage.RegistryRepository,
	records storage.RecordRepository,
	scores storage.ScoringRepository,
	log *slog.Logger,
) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		retention: retention,
		registry:  registry,
		records:   records,
		scores:    scores,
		log:       log,
	}
}

// Start runs the pruner loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one retention sweep and returns the pruned snapshot ids.
func (p *Pruner) Prune(ctx context.Context) []string {
	cutoff := time.Now().UTC().Add(-p.retention)

	snaps, err := p.registry.List(ctx, 0)
	if err != nil {
		p.log.Error("retention sweep failed to list snapshots", "error", err)
		return nil
	}

	var pruned []string
	for _, snap := range snaps {
		if !snap.Status.Terminal() || !snap.Timestamp.Before(cutoff) {
			continue
		}
		if err := p.pruneSnapshot(ctx, snap); err != nil {
			p.log.Error("failed to prune snapshot",
				"snapshot_id", snap.SnapshotID, "error", err)
			continue
		}
		pruned = append(pruned, snap.SnapshotID)
		p.log.Info("snapshot pruned",
			"snapshot_id", snap.SnapshotID, "status", snap.Status,
			"age", time.Since(snap.Timestamp).Round(time.Hour))
	}
	return pruned
}

func (p *Pruner) pruneSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	if err := p.scores.DeleteBySnapshot(ctx, snap.SnapshotID); err != nil {
		return err
	}
	if err := p.records.DeleteBySnapshot(ctx, snap.SnapshotID); err != nil {
		return err
	}
	return p.registry.Delete(ctx, snap.SnapshotID)
}
