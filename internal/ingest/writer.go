// Package ingest persists CRM record batches as immutable snapshots,
// coordinating the registry state machine, the retry executor and the
// completion event.
package ingest

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

// EventPublisher is the slice of the event channel the writer needs.
type EventPublisher interface {
	PublishSnapshotCompleted(ctx context.Context, snapshotID string, counts map[domain.EntityKind]int) error
	PublishSnapshotFailed(ctx context.Context, snapshotID string, cause string) error
}

// Source provides already-fetched CRM record collections. The real CRM
// client lives outside this core; tests and dev runs plug in stubs.
type Source interface {
	Fetch(ctx context.Context, limit int) (*domain.RecordBatch, error)
}

// Options controls one ingest invocation.
type Options struct {
	TriggeredBy string
	DryRun      bool
}

// Summary reports the outcome of one ingest invocation.
type Summary struct {
	SnapshotID string
	Status     string // success, partial_success, failed, error
	Counts     map[domain.EntityKind]int
	DryRun     bool
	Elapsed    time.Duration
}

// PartialIngestError reports a terminal per-kind failure. Kinds written
// before the failure stay in place; the registry state, not row presence, is
// what marks the snapshot unusable.
type PartialIngestError struct {
	SnapshotID string
	Kind       domain.EntityKind
	Written    []domain.EntityKind
	Err        error
}

func (e *PartialIngestError) Error() string {
	return fmt.Sprintf("ingest of %s failed on kind %s (written: %v): %v",
		e.SnapshotID, e.Kind, e.Written, e.Err)
}

func (e *PartialIngestError) Unwrap() error { return e.Err }

// Writer persists record batches for a snapshot.
type Writer struct {
	registry storage.RegistryRepository
	records  storage.RecordRepository
	exec     *retry.Executor
	events   EventPublisher
	log      *slog.Logger
	now      func() time.Time
}

// NewWriter creates a snapshot writer. events may be nil in setups without an
// event channel (dry runs, tests).
func NewWriter(
	registry storage.RegistryRepository,
	records storage.RecordRepository,
	exec *retry.Executor,
	events EventPublisher,
	log *slog.Logger,
) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		registry: registry,
		records:  records,
		exec:     exec,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// WriteSnapshot registers a fresh snapshot and persists the batch kind by
// kind. Reference kinds are overwritten first; snapshot kinds are appended
// stamped with the new snapshot id.
func (w *Writer) WriteSnapshot(
	ctx context.Context,
	batch *domain.RecordBatch,
	opts Options,
) (*Summary, error) {
	start := w.now()
	snapshotID := domain.NewSnapshotID(start)

	counts := make(map[domain.EntityKind]int)
	for _, kind := range append(append([]domain.EntityKind{}, domain.ReferenceKinds...), domain.SnapshotKinds...) {
		counts[kind] = batch.Count(kind)
	}

	if opts.DryRun {
		w.log.Info("dry run: skipping all writes and registry transitions",
			"snapshot_id", snapshotID, "counts", counts)
		return &Summary{
			SnapshotID: snapshotID,
			Status:     "success",
			Counts:     counts,
			DryRun:     true,
			Elapsed:    w.now().Sub(start),
		}, nil
	}

	snap := &domain.Snapshot{
		SnapshotID:  snapshotID,
		Timestamp:   start.UTC(),
		TriggeredBy: opts.TriggeredBy,
		Status:      domain.StatusCreated,
	}
	if err := w.registry.Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to register snapshot: %w", err)
	}

	if err := w.registry.Transition(ctx, snapshotID,
		[]domain.SnapshotStatus{domain.StatusCreated},
		domain.StatusIngestStarted, "ingest started"); err != nil {
		return nil, fmt.Errorf("failed to start ingest: %w", err)
	}

	stampBatch(batch, snapshotID, start.UTC())

	var written []domain.EntityKind
	for _, step := range w.writeSteps(batch) {
		err := w.exec.Execute(ctx, "write_"+string(step.kind), retry.ClassifyWarehouseError, step.op)
		if err != nil {
			return w.failIngest(ctx, snapshotID, step.kind, written, counts, start, err)
		}
		if err := w.registry.UpdateCount(ctx, snapshotID, step.kind, counts[step.kind]); err != nil {
			w.log.Warn("failed to record count", "snapshot_id", snapshotID,
				"kind", step.kind, "error", err)
		}
		written = append(written, step.kind)
		w.log.Info("entity kind written", "snapshot_id", snapshotID,
			"kind", step.kind, "rows", counts[step.kind])
	}

	// Verify the freshly streamed rows are queryable before declaring the
	// snapshot complete; right after table creation this is expected to
	// need a retry or two.
	if kind, err := w.verifyVisibility(ctx, snapshotID, counts); err != nil {
		return w.failIngest(ctx, snapshotID, kind, written, counts, start, err)
	}

	note := fmt.Sprintf("ingest completed: %d companies, %d deals",
		counts[domain.KindCompanies], counts[domain.KindDeals])
	if err := w.registry.Transition(ctx, snapshotID,
		[]domain.SnapshotStatus{domain.StatusIngestStarted},
		domain.StatusIngestCompleted, note); err != nil {
		return nil, fmt.Errorf("failed to complete ingest: %w", err)
	}
	metrics.SnapshotsTotal.WithLabelValues("ingest", "completed").Inc()

	if w.events != nil {
		// Publish failures must not fail an ingest that already completed;
		// operators can re-trigger scoring from the registry.
		if err := w.events.PublishSnapshotCompleted(ctx, snapshotID, counts); err != nil {
			w.log.Error("failed to publish completion event",
				"snapshot_id", snapshotID, "error", err)
		}
	}

	w.log.Info("snapshot ingested", "snapshot_id", snapshotID, "counts", counts)
	return &Summary{
		SnapshotID: snapshotID,
		Status:     "success",
		Counts:     counts,
		Elapsed:    w.now().Sub(start),
	}, nil
}

type writeStep struct {
	kind domain.EntityKind
	op   func(ctx context.Context) error
}

func (w *Writer) writeSteps(batch *domain.RecordBatch) []writeStep {
	return []writeStep{
		{domain.KindOwners, func(ctx context.Context) error {
			return w.records.ReplaceOwners(ctx, batch.Owners)
		}},
		{domain.KindDealStageReference, func(ctx context.Context) error {
			return w.records.ReplaceDealStages(ctx, batch.DealStages)
		}},
		{domain.KindCompanies, func(ctx context.Context) error {
			return w.records.InsertCompanies(ctx, batch.Companies)
		}},
		{domain.KindDeals, func(ctx context.Context) error {
			return w.records.InsertDeals(ctx, batch.Deals)
		}},
	}
}

func (w *Writer) verifyVisibility(
	ctx context.Context,
	snapshotID string,
	counts map[domain.EntityKind]int,
) (domain.EntityKind, error) {
	for _, kind := range domain.SnapshotKinds {
		expected := counts[kind]
		if expected == 0 {
			continue
		}
		kind := kind
		err := w.exec.Execute(ctx, "verify_"+string(kind), retry.ClassifyWarehouseError,
			func(ctx context.Context) error {
				n, err := w.records.CountByKind(ctx, snapshotID, kind)
				if err != nil {
					return err
				}
				if n < expected {
					return fmt.Errorf("%w: %s has %d of %d rows",
						retry.ErrNotVisibleYet, kind, n, expected)
				}
				return nil
			})
		if err != nil {
			return kind, err
		}
	}
	return "", nil
}

// failIngest records the terminal failure. A pure deadline expiry leaves the
// registry in ingest_started: that reads as "needs a fresh retry", while
// ingest_failed reads as "needs investigation".
func (w *Writer) failIngest(
	ctx context.Context,
	snapshotID string,
	kind domain.EntityKind,
	written []domain.EntityKind,
	counts map[domain.EntityKind]int,
	start time.Time,
	cause error,
) (*Summary, error) {
	partial := &PartialIngestError{
		SnapshotID: snapshotID,
		Kind:       kind,
		Written:    written,
		Err:        cause,
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		if ex, ok := retry.IsExhausted(cause); !ok || ex.Last != retry.Permanent {
			w.log.Warn("ingest deadline expired, leaving snapshot incomplete",
				"snapshot_id", snapshotID, "kind", kind)
			metrics.SnapshotsTotal.WithLabelValues("ingest", "deadline").Inc()
			return w.summary(snapshotID, "error", counts, start), partial
		}
	}

	note := fmt.Sprintf("ingest failed on %s: %v", kind, cause)
	// Use a fresh context: the invocation context may already be dead, and
	// the failure must still reach the registry.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := w.registry.Transition(markCtx, snapshotID,
		[]domain.SnapshotStatus{domain.StatusCreated, domain.StatusIngestStarted},
		domain.StatusIngestFailed, note); err != nil {
		w.log.Error("failed to mark snapshot failed",
			"snapshot_id", snapshotID, "error", err)
	}
	metrics.SnapshotsTotal.WithLabelValues("ingest", "failed").Inc()

	if w.events != nil {
		if err := w.events.PublishSnapshotFailed(markCtx, snapshotID, note); err != nil {
			w.log.Warn("failed to publish failure event",
				"snapshot_id", snapshotID, "error", err)
		}
	}

	status := "failed"
	if len(written) > 0 {
		status = "partial_success"
	}
	return w.summary(snapshotID, status, counts, start), partial
}

func (w *Writer) summary(
	snapshotID, status string,
	counts map[domain.EntityKind]int,
	start time.Time,
) *Summary {
	return &Summary{
		SnapshotID: snapshotID,
		Status:     status,
		Counts:     counts,
		Elapsed:    w.now().Sub(start),
	}
}

func stampBatch(batch *domain.RecordBatch, snapshotID string, ts time.Time) {
	for i := range batch.Companies {
		batch.Companies[i].SnapshotID = snapshotID
		batch.Companies[i].RecordTime = ts
	}
	for i := range batch.Deals {
		batch.Deals[i].SnapshotID = snapshotID
		batch.Deals[i].RecordTime = ts
	}
	for i := range batch.Owners {
		batch.Owners[i].RecordTime = ts
	}
	for i := range batch.DealStages {
		batch.DealStages[i].RecordTime = ts
	}
}
