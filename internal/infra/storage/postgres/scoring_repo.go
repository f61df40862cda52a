package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/pipeline/metrics"
)

// ScoringRepo implements storage.ScoringRepository on PostgreSQL.
type ScoringRepo struct {
	db *DB
}

// NewScoringRepo creates a new PostgreSQL scoring repository.
func NewScoringRepo(db *DB) *ScoringRepo {
	return &ScoringRepo{db: db}
}

type stageMappingRow struct {
	LifecycleStage string  `db:"lifecycle_stage"`
	LeadStatus     string  `db:"lead_status"`
	DealStage      string  `db:"deal_stage"`
	CombinedStage  string  `db:"combined_stage"`
	StageLevel     int     `db:"stage_level"`
	AdjustedScore  float64 `db:"adjusted_score"`
}

type pipelineUnitRow struct {
	SnapshotID     string    `db:"snapshot_id"`
	SnapshotTime   time.Time `db:"snapshot_timestamp"`
	CompanyID      string    `db:"company_id"`
	DealID         string    `db:"deal_id"`
	OwnerID        string    `db:"owner_id"`
	LifecycleStage string    `db:"lifecycle_stage"`
	LeadStatus     string    `db:"lead_status"`
	DealStage      string    `db:"deal_stage"`
	CombinedStage  string    `db:"combined_stage"`
	StageSource    string    `db:"stage_source"`
	StageLevel     int       `db:"stage_level"`
	AdjustedScore  float64   `db:"adjusted_score"`
}

type scoreHistoryRow struct {
	SnapshotID    string    `db:"snapshot_id"`
	OwnerID       string    `db:"owner_id"`
	CombinedStage string    `db:"combined_stage"`
	NumCompanies  int       `db:"num_companies"`
	TotalScore    float64   `db:"total_score"`
	SnapshotTime  time.Time `db:"snapshot_timestamp"`
}

// ReplaceStageMapping rebuilds the stage mapping table from scratch.
func (r *ScoringRepo) ReplaceStageMapping(ctx context.Context, rows []domain.StageMapping) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_mapping`); err != nil {
		return fmt.Errorf("failed to clear stage mapping: %w", err)
	}
	if len(rows) > 0 {
		batch := make([]stageMappingRow, len(rows))
		for i, m := range rows {
			batch[i] = stageMappingRow(m)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO stage_mapping
				(lifecycle_stage, lead_status, deal_stage, combined_stage,
				 stage_level, adjusted_score)
			VALUES
				(:lifecycle_stage, :lead_status, :deal_stage, :combined_stage,
				 :stage_level, :adjusted_score)`, batch); err != nil {
			return fmt.Errorf("failed to insert stage mapping: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stage mapping: %w", err)
	}
	return nil
}

// StageMapping returns the current stage mapping table.
func (r *ScoringRepo) StageMapping(ctx context.Context) ([]domain.StageMapping, error) {
	var rows []stageMappingRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT lifecycle_stage, lead_status, deal_stage, combined_stage,
		       stage_level, adjusted_score
		FROM stage_mapping
		ORDER BY stage_level, combined_stage`)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage mapping: %w", err)
	}
	out := make([]domain.StageMapping, len(rows))
	for i, row := range rows {
		out[i] = domain.StageMapping(row)
	}
	return out, nil
}

// ReplaceForSnapshot deletes and re-inserts units and history for a snapshot
// in one transaction. Recomputation replaces, never appends.
func (r *ScoringRepo) ReplaceForSnapshot(
	ctx context.Context,
	snapshotID string,
	units []domain.PipelineUnit,
	history []domain.ScoreHistory,
) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pipeline_units WHERE snapshot_id = $1`, snapshotID); err != nil {
		return fmt.Errorf("failed to clear pipeline units: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pipeline_score_history WHERE snapshot_id = $1`, snapshotID); err != nil {
		return fmt.Errorf("failed to clear score history: %w", err)
	}

	if len(units) > 0 {
		batch := make([]pipelineUnitRow, len(units))
		for i, u := range units {
			batch[i] = pipelineUnitRow(u)
		}
		metrics.DBBatchSize.WithLabelValues("insert_pipeline_units").Observe(float64(len(batch)))
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO pipeline_units
				(snapshot_id, snapshot_timestamp, company_id, deal_id, owner_id,
				 lifecycle_stage, lead_status, deal_stage, combined_stage,
				 stage_source, stage_level, adjusted_score)
			VALUES
				(:snapshot_id, :snapshot_timestamp, :company_id, :deal_id, :owner_id,
				 :lifecycle_stage, :lead_status, :deal_stage, :combined_stage,
				 :stage_source, :stage_level, :adjusted_score)`, batch); err != nil {
			return fmt.Errorf("failed to insert pipeline units: %w", err)
		}
	}

	if len(history) > 0 {
		batch := make([]scoreHistoryRow, len(history))
		for i, h := range history {
			batch[i] = scoreHistoryRow(h)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO pipeline_score_history
				(snapshot_id, owner_id, combined_stage, num_companies,
				 total_score, snapshot_timestamp)
			VALUES
				(:snapshot_id, :owner_id, :combined_stage, :num_companies,
				 :total_score, :snapshot_timestamp)`, batch); err != nil {
			return fmt.Errorf("failed to insert score history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scoring results: %w", err)
	}
	return nil
}

// UnitsBySnapshot returns all pipeline units for a snapshot.
func (r *ScoringRepo) UnitsBySnapshot(
	ctx context.Context,
	snapshotID string,
) ([]domain.PipelineUnit, error) {
	var rows []pipelineUnitRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT snapshot_id, snapshot_timestamp, company_id, deal_id, owner_id,
		       lifecycle_stage, lead_status, deal_stage, combined_stage,
		       stage_source, stage_level, adjusted_score
		FROM pipeline_units
		WHERE snapshot_id = $1
		ORDER BY owner_id, combined_stage, company_id, deal_id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline units: %w", err)
	}
	out := make([]domain.PipelineUnit, len(rows))
	for i, row := range rows {
		out[i] = domain.PipelineUnit(row)
	}
	return out, nil
}

// HistoryBySnapshot returns all score history rows for a snapshot.
func (r *ScoringRepo) HistoryBySnapshot(
	ctx context.Context,
	snapshotID string,
) ([]domain.ScoreHistory, error) {
	var rows []scoreHistoryRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT snapshot_id, owner_id, combined_stage, num_companies,
		       total_score, snapshot_timestamp
		FROM pipeline_score_history
		WHERE snapshot_id = $1
		ORDER BY owner_id, combined_stage`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load score history: %w", err)
	}
	out := make([]domain.ScoreHistory, len(rows))
	for i, row := range rows {
		out[i] = domain.ScoreHistory(row)
	}
	return out, nil
}

// DeleteBySnapshot removes units and history for a pruned snapshot.
func (r *ScoringRepo) DeleteBySnapshot(ctx context.Context, snapshotID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pipeline_score_history WHERE snapshot_id = $1`, snapshotID); err != nil {
		return fmt.Errorf("failed to delete score history for %s: %w", snapshotID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pipeline_units WHERE snapshot_id = $1`, snapshotID); err != nil {
		return fmt.Errorf("failed to delete pipeline units for %s: %w", snapshotID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scoring deletion: %w", err)
	}
	return nil
}
