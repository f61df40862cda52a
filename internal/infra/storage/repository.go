package storage

import (
	"context"
	"errors"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
)

var (
	// ErrSnapshotNotFound is returned when no registry row exists for an id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrConflict is returned by Transition when the current status is not
	// one of the expected source states. The loser of a concurrent
	// transition race observes this and must treat it as a no-op, not an
	// error to retry.
	ErrConflict = errors.New("registry transition conflict")

	// ErrSnapshotExists is returned when creating a duplicate registry row.
	ErrSnapshotExists = errors.New("snapshot already registered")
)

// RegistryRepository is the single source of truth for snapshot lifecycle
// state. Transition is the concurrency-control primitive: a compare-and-swap
// on durable state.
type RegistryRepository interface {
	// Create inserts the registry row for a fresh snapshot. Exactly one row
	// exists per snapshot id.
	Create(ctx context.Context, snap *domain.Snapshot) error

	// Get retrieves a snapshot by id.
	Get(ctx context.Context, snapshotID string) (*domain.Snapshot, error)

	// List returns the most recent snapshots, newest first. A limit of zero
	// or less returns every snapshot.
	List(ctx context.Context, limit int) ([]*domain.Snapshot, error)

	// Transition atomically advances the snapshot from one of the expected
	// source states to the target state, appending note to the audit log.
	// Returns ErrConflict when the current state is not in from.
	Transition(
		ctx context.Context,
		snapshotID string,
		from []domain.SnapshotStatus,
		to domain.SnapshotStatus,
		note string,
	) error

	// UpdateCount records the number of rows written for one entity kind.
	UpdateCount(ctx context.Context, snapshotID string, kind domain.EntityKind, n int) error

	// Delete removes the registry row. Record and scoring rows referencing
	// the snapshot must already be gone.
	Delete(ctx context.Context, snapshotID string) error
}

// RecordRepository persists the typed record batches of a snapshot.
// Snapshot-scoped kinds append rows stamped with the snapshot id; reference
// kinds replace the whole table.
type RecordRepository interface {
	InsertCompanies(ctx context.Context, rows []domain.Company) error
	InsertDeals(ctx context.Context, rows []domain.Deal) error
	ReplaceOwners(ctx context.Context, rows []domain.Owner) error
	ReplaceDealStages(ctx context.Context, rows []domain.DealStageReference) error

	// CountByKind reports rows present for a snapshot and kind, used to
	// verify write visibility after streaming inserts.
	CountByKind(ctx context.Context, snapshotID string, kind domain.EntityKind) (int, error)

	CompaniesBySnapshot(ctx context.Context, snapshotID string) ([]domain.Company, error)
	DealsBySnapshot(ctx context.Context, snapshotID string) ([]domain.Deal, error)
	Owners(ctx context.Context) ([]domain.Owner, error)
	DealStages(ctx context.Context) ([]domain.DealStageReference, error)

	// DeleteBySnapshot removes the snapshot-scoped rows (companies, deals)
	// for retention pruning. Reference kinds are untouched.
	DeleteBySnapshot(ctx context.Context, snapshotID string) error
}

// ScoringRepository persists scoring outputs. ReplaceForSnapshot performs the
// idempotent overwrite: existing units and history rows for the snapshot are
// deleted and the new rows inserted in one transaction, so recomputation
// never accumulates.
type ScoringRepository interface {
	ReplaceStageMapping(ctx context.Context, rows []domain.StageMapping) error
	StageMapping(ctx context.Context) ([]domain.StageMapping, error)

	ReplaceForSnapshot(
		ctx context.Context,
		snapshotID string,
		units []domain.PipelineUnit,
		history []domain.ScoreHistory,
	) error

	UnitsBySnapshot(ctx context.Context, snapshotID string) ([]domain.PipelineUnit, error)
	HistoryBySnapshot(ctx context.Context, snapshotID string) ([]domain.ScoreHistory, error)

	// DeleteBySnapshot removes units and history for retention pruning.
	DeleteBySnapshot(ctx context.Context, snapshotID string) error
}
