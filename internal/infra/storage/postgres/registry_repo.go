package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage"
)

// RegistryRepo implements storage.RegistryRepository on PostgreSQL. The
// conditional UPDATE in Transition is the compare-and-swap that makes
// concurrent consumers safe.
type RegistryRepo struct {
	db *DB
}

// NewRegistryRepo creates a new PostgreSQL registry repository.
func NewRegistryRepo(db *DB) *RegistryRepo {
	return &RegistryRepo{db: db}
}

type registryRow struct {
	SnapshotID        string    `db:"snapshot_id"`
	SnapshotTimestamp time.Time `db:"snapshot_timestamp"`
	TriggeredBy       string    `db:"triggered_by"`
	Status            string    `db:"status"`
	Notes             string    `db:"notes"`
	RecordCounts      []byte    `db:"record_counts"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r registryRow) toDomain() (*domain.Snapshot, error) {
	counts := make(map[domain.EntityKind]int)
	if len(r.RecordCounts) > 0 {
		if err := json.Unmarshal(r.RecordCounts, &counts); err != nil {
			return nil, fmt.Errorf("failed to decode record counts: %w", err)
		}
	}
	var notes []string
	if r.Notes != "" {
		notes = strings.Split(r.Notes, "\n")
	}
	return &domain.Snapshot{
		SnapshotID:   r.SnapshotID,
		Timestamp:    r.SnapshotTimestamp,
		TriggeredBy:  r.TriggeredBy,
		Status:       domain.SnapshotStatus(r.Status),
		Notes:        notes,
		RecordCounts: counts,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

// Create inserts the registry row for a fresh snapshot.
func (r *RegistryRepo) Create(ctx context.Context, snap *domain.Snapshot) error {
	counts, err := json.Marshal(snap.RecordCounts)
	if err != nil {
		return fmt.Errorf("failed to encode record counts: %w", err)
	}
	if snap.RecordCounts == nil {
		counts = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshot_registry
			(snapshot_id, snapshot_timestamp, triggered_by, status, notes, record_counts)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.SnapshotID,
		snap.Timestamp,
		snap.TriggeredBy,
		string(snap.Status),
		strings.Join(snap.Notes, "\n"),
		counts,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrSnapshotExists
	}
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return nil
}

// Get retrieves a snapshot by id.
func (r *RegistryRepo) Get(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	var row registryRow
	err := r.db.GetContext(ctx, &row, `
		SELECT snapshot_id, snapshot_timestamp, triggered_by, status, notes,
		       record_counts, created_at, updated_at
		FROM snapshot_registry
		WHERE snapshot_id = $1`, snapshotID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return row.toDomain()
}

// List returns the most recent snapshots, newest first. A limit of zero or
// less returns every snapshot, which rescore and retention rely on.
func (r *RegistryRepo) List(ctx context.Context, limit int) ([]*domain.Snapshot, error) {
	query := `
		SELECT snapshot_id, snapshot_timestamp, triggered_by, status, notes,
		       record_counts, created_at, updated_at
		FROM snapshot_registry
		ORDER BY snapshot_id DESC`
	var args []any
	if limit > 0 {
		query += `
		LIMIT $1`
		args = append(args, limit)
	}
	var rows []registryRow
	err := r.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	snaps := make([]*domain.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Transition compare-and-swaps the snapshot status. The WHERE clause does the
// arbitration: of two racing writers exactly one matches the source state.
func (r *RegistryRepo) Transition(
	ctx context.Context,
	snapshotID string,
	from []domain.SnapshotStatus,
	to domain.SnapshotStatus,
	note string,
) error {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE snapshot_registry
		SET status = $1,
		    notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
		    updated_at = now()
		WHERE snapshot_id = $3 AND status = ANY($4)`,
		string(to), noteLine(to, note), snapshotID, pq.Array(fromStrs))
	if err != nil {
		return fmt.Errorf("failed to transition snapshot: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transition result: %w", err)
	}
	if n == 1 {
		return nil
	}

	// No row updated: distinguish a missing snapshot from a lost race.
	if _, err := r.Get(ctx, snapshotID); err != nil {
		return err
	}
	return storage.ErrConflict
}

// UpdateCount records the number of rows written for one entity kind.
func (r *RegistryRepo) UpdateCount(
	ctx context.Context,
	snapshotID string,
	kind domain.EntityKind,
	n int,
) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE snapshot_registry
		SET record_counts = record_counts || jsonb_build_object($1::text, $2::int),
		    updated_at = now()
		WHERE snapshot_id = $3`,
		string(kind), n, snapshotID)
	if err != nil {
		return fmt.Errorf("failed to update record count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrSnapshotNotFound
	}
	return nil
}

// Delete removes the registry row for a pruned snapshot.
func (r *RegistryRepo) Delete(ctx context.Context, snapshotID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM snapshot_registry WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", snapshotID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrSnapshotNotFound
	}
	return nil
}

func noteLine(to domain.SnapshotStatus, note string) string {
	ts := time.Now().UTC().Format(time.RFC3339)
	if note == "" {
		return fmt.Sprintf("%s %s", ts, to)
	}
	return fmt.Sprintf("%s %s: %s", ts, to, note)
}
