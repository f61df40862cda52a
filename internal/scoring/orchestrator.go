package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/core/retry"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage"
	"github.com/oybaeko/HubSpotPipeline/internal/pipeline/metrics"
)

// Options controls one scoring invocation.
type Options struct {
	// Recompute forces an idempotent overwrite of a snapshot that already
	// scored: units and history are fully replaced, never appended to.
	Recompute bool
}

// Result reports the outcome of a scoring invocation.
type Result struct {
	SnapshotID string
	Status     string // success, duplicate, dropped, failed
	Units      int
	History    int
	Mapping    int
	Elapsed    time.Duration
}

// Orchestrator consumes completion events and scores snapshots.
type Orchestrator struct {
	registry storage.RegistryRepository
	records  storage.RecordRepository
	scores   storage.ScoringRepository
	exec     *retry.Executor
	log      *slog.Logger
	now      func() time.Time
}

// NewOrchestrator creates a scoring orchestrator.
func NewOrchestrator(
	registry storage.RegistryRepository,
	records storage.RecordRepository,
	scores storage.ScoringRepository,
	exec *retry.Executor,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		records:  records,
		scores:   scores,
		exec:     exec,
		log:      log,
		now:      time.Now,
	}
}

// HandleEvent is the consumer entry point. Unknown event types and snapshots
// in unexpected states are dropped with a log line; scoring failures are
// recorded in the registry before the error surfaces.
func (o *Orchestrator) HandleEvent(ctx context.Context, event domain.SnapshotEvent) error {
	if event.Type != domain.EventSnapshotCompleted {
		o.log.Info("ignoring event", "type", event.Type, "event_id", event.ID)
		return nil
	}
	if event.Data.SnapshotID == "" {
		o.log.Error("dropping completion event without snapshot_id", "event_id", event.ID)
		return nil
	}

	_, err := o.ProcessSnapshot(ctx, event.Data.SnapshotID, Options{})
	return err
}

// ProcessSnapshot runs the scoring pipeline for one snapshot. The registry
// transition into scoring_started is the deduplication point for duplicate
// event deliveries: the loser of the compare-and-swap no-ops.
func (o *Orchestrator) ProcessSnapshot(
	ctx context.Context,
	snapshotID string,
	opts Options,
) (*Result, error) {
	start := o.now()

	from := []domain.SnapshotStatus{domain.StatusIngestCompleted}
	if opts.Recompute {
		from = append(from,
			domain.StatusScoringStarted,
			domain.StatusScoringCompleted,
			domain.StatusScoringFailed)
	}

	err := o.registry.Transition(ctx, snapshotID, from, domain.StatusScoringStarted,
		"scoring started")
	if errors.Is(err, storage.ErrConflict) {
		return o.resolveConflict(ctx, snapshotID, start)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start scoring for %s: %w", snapshotID, err)
	}

	result, err := o.score(ctx, snapshotID, start)
	if err != nil {
		o.failScoring(ctx, snapshotID, err)
		metrics.SnapshotsTotal.WithLabelValues("scoring", "failed").Inc()
		return &Result{
			SnapshotID: snapshotID,
			Status:     "failed",
			Elapsed:    o.now().Sub(start),
		}, err
	}

	metrics.SnapshotsTotal.WithLabelValues("scoring", "completed").Inc()
	metrics.ScoringDuration.Observe(o.now().Sub(start).Seconds())
	return result, nil
}

// RescoreAll recomputes every snapshot that already completed scoring.
func (o *Orchestrator) RescoreAll(ctx context.Context) ([]*Result, error) {
	snaps, err := o.registry.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var results []*Result
	for _, snap := range snaps {
		if snap.Status != domain.StatusScoringCompleted {
			continue
		}
		res, err := o.ProcessSnapshot(ctx, snap.SnapshotID, Options{Recompute: true})
		if err != nil {
			o.log.Error("rescore failed", "snapshot_id", snap.SnapshotID, "error", err)
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results, nil
}

// resolveConflict decides what a lost scoring_started race means: a
// duplicate delivery for an already-scored snapshot is a no-op ack, anything
// else (ingest_failed, mid-ingest) is dropped with a log line.
func (o *Orchestrator) resolveConflict(
	ctx context.Context,
	snapshotID string,
	start time.Time,
) (*Result, error) {
	snap, err := o.registry.Get(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conflict for %s: %w", snapshotID, err)
	}

	switch snap.Status {
	case domain.StatusScoringStarted, domain.StatusScoringCompleted:
		o.log.Info("duplicate scoring trigger, acknowledging without recompute",
			"snapshot_id", snapshotID, "status", snap.Status)
		metrics.SnapshotsTotal.WithLabelValues("scoring", "duplicate").Inc()
		return &Result{
			SnapshotID: snapshotID,
			Status:     "duplicate",
			Elapsed:    o.now().Sub(start),
		}, nil
	default:
		o.log.Warn("dropping scoring trigger for snapshot in unexpected state",
			"snapshot_id", snapshotID, "status", snap.Status)
		metrics.SnapshotsTotal.WithLabelValues("scoring", "dropped").Inc()
		return &Result{
			SnapshotID: snapshotID,
			Status:     "dropped",
			Elapsed:    o.now().Sub(start),
		}, nil
	}
}

func (o *Orchestrator) score(
	ctx context.Context,
	snapshotID string,
	start time.Time,
) (*Result, error) {
	mapping := DefaultStageMapping()
	err := o.exec.Execute(ctx, "write_stage_mapping", retry.ClassifyWarehouseError,
		func(ctx context.Context) error {
			return o.scores.ReplaceStageMapping(ctx, mapping)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh stage mapping: %w", err)
	}

	var (
		companies []domain.Company
		deals     []domain.Deal
		stages    []domain.DealStageReference
	)
	err = o.exec.Execute(ctx, "load_snapshot_records", retry.ClassifyWarehouseError,
		func(ctx context.Context) error {
			var err error
			if companies, err = o.records.CompaniesBySnapshot(ctx, snapshotID); err != nil {
				return err
			}
			if deals, err = o.records.DealsBySnapshot(ctx, snapshotID); err != nil {
				return err
			}
			stages, err = o.records.DealStages(ctx)
			return err
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot records: %w", err)
	}

	snap, err := o.registry.Get(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}

	snapshotTime := snap.Timestamp.UTC()
	units := BuildUnits(snapshotID, snapshotTime, companies, deals, stages, mapping, o.log)
	history := Aggregate(snapshotID, snapshotTime, units)

	err = o.exec.Execute(ctx, "write_scoring_results", retry.ClassifyWarehouseError,
		func(ctx context.Context) error {
			return o.scores.ReplaceForSnapshot(ctx, snapshotID, units, history)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to write scoring results: %w", err)
	}

	note := fmt.Sprintf("scoring completed: %d units, %d history rows, %d mapping rows",
		len(units), len(history), len(mapping))
	if err := o.registry.Transition(ctx, snapshotID,
		[]domain.SnapshotStatus{domain.StatusScoringStarted},
		domain.StatusScoringCompleted, note); err != nil {
		return nil, fmt.Errorf("failed to complete scoring: %w", err)
	}

	o.log.Info("snapshot scored", "snapshot_id", snapshotID,
		"units", len(units), "history", len(history))
	return &Result{
		SnapshotID: snapshotID,
		Status:     "success",
		Units:      len(units),
		History:    len(history),
		Mapping:    len(mapping),
		Elapsed:    o.now().Sub(start),
	}, nil
}

// failScoring records the failure in the registry. A timeout mid-aggregation
// surfaces as scoring_failed, never as a silent partial completion.
func (o *Orchestrator) failScoring(ctx context.Context, snapshotID string, cause error) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	note := fmt.Sprintf("scoring failed: %v", cause)
	if err := o.registry.Transition(markCtx, snapshotID,
		[]domain.SnapshotStatus{domain.StatusScoringStarted},
		domain.StatusScoringFailed, note); err != nil {
		o.log.Error("failed to mark scoring failed",
			"snapshot_id", snapshotID, "error", err)
	}
}
