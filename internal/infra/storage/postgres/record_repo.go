package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/pipeline/metrics"
)

// RecordRepo implements storage.RecordRepository on PostgreSQL.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

type companyRow struct {
	CompanyID      string    `db:"company_id"`
	CompanyName    string    `db:"company_name"`
	LifecycleStage string    `db:"lifecycle_stage"`
	LeadStatus     string    `db:"lead_status"`
	OwnerID        string    `db:"owner_id"`
	CompanyType    string    `db:"company_type"`
	SnapshotID     string    `db:"snapshot_id"`
	RecordTime     time.Time `db:"record_timestamp"`
}

type dealRow struct {
	DealID              string    `db:"deal_id"`
	DealName            string    `db:"deal_name"`
	DealStage           string    `db:"deal_stage"`
	DealType            string    `db:"deal_type"`
	Amount              float64   `db:"amount"`
	AssociatedCompanyID string    `db:"associated_company_id"`
	OwnerID             string    `db:"owner_id"`
	SnapshotID          string    `db:"snapshot_id"`
	RecordTime          time.Time `db:"record_timestamp"`
}

type ownerRow struct {
	OwnerID    string    `db:"owner_id"`
	Email      string    `db:"email"`
	FirstName  string    `db:"first_name"`
	LastName   string    `db:"last_name"`
	UserID     string    `db:"user_id"`
	Active     bool      `db:"active"`
	RecordTime time.Time `db:"record_timestamp"`
}

type dealStageRow struct {
	StageID      string    `db:"stage_id"`
	StageLabel   string    `db:"stage_label"`
	PipelineID   string    `db:"pipeline_id"`
	DisplayOrder int       `db:"display_order"`
	IsClosed     bool      `db:"is_closed"`
	RecordTime   time.Time `db:"record_timestamp"`
}

// InsertCompanies appends company rows for a snapshot.
func (r *RecordRepo) InsertCompanies(ctx context.Context, rows []domain.Company) error {
	if len(rows) == 0 {
		return nil
	}
	batch := make([]companyRow, len(rows))
	for i, c := range rows {
		batch[i] = companyRow(c)
	}
	metrics.DBBatchSize.WithLabelValues("insert_companies").Observe(float64(len(batch)))

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO crm_companies
			(company_id, company_name, lifecycle_stage, lead_status, owner_id,
			 company_type, snapshot_id, record_timestamp)
		VALUES
			(:company_id, :company_name, :lifecycle_stage, :lead_status, :owner_id,
			 :company_type, :snapshot_id, :record_timestamp)`, batch)
	if err != nil {
		return fmt.Errorf("failed to insert companies: %w", err)
	}
	metrics.RecordsWritten.WithLabelValues(string(domain.KindCompanies)).Add(float64(len(batch)))
	return nil
}

// InsertDeals appends deal rows for a snapshot.
func (r *RecordRepo) InsertDeals(ctx context.Context, rows []domain.Deal) error {
	if len(rows) == 0 {
		return nil
	}
	batch := make([]dealRow, len(rows))
	for i, d := range rows {
		batch[i] = dealRow(d)
	}
	metrics.DBBatchSize.WithLabelValues("insert_deals").Observe(float64(len(batch)))

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO crm_deals
			(deal_id, deal_name, deal_stage, deal_type, amount,
			 associated_company_id, owner_id, snapshot_id, record_timestamp)
		VALUES
			(:deal_id, :deal_name, :deal_stage, :deal_type, :amount,
			 :associated_company_id, :owner_id, :snapshot_id, :record_timestamp)`, batch)
	if err != nil {
		return fmt.Errorf("failed to insert deals: %w", err)
	}
	metrics.RecordsWritten.WithLabelValues(string(domain.KindDeals)).Add(float64(len(batch)))
	return nil
}

// ReplaceOwners overwrites the owners reference table.
func (r *RecordRepo) ReplaceOwners(ctx context.Context, rows []domain.Owner) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM crm_owners`); err != nil {
		return fmt.Errorf("failed to clear owners: %w", err)
	}
	if len(rows) > 0 {
		batch := make([]ownerRow, len(rows))
		for i, o := range rows {
			batch[i] = ownerRow(o)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO crm_owners
				(owner_id, email, first_name, last_name, user_id, active, record_timestamp)
			VALUES
				(:owner_id, :email, :first_name, :last_name, :user_id, :active, :record_timestamp)`,
			batch); err != nil {
			return fmt.Errorf("failed to insert owners: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit owners: %w", err)
	}
	metrics.RecordsWritten.WithLabelValues(string(domain.KindOwners)).Add(float64(len(rows)))
	return nil
}

// ReplaceDealStages overwrites the deal stage reference table.
func (r *RecordRepo) ReplaceDealStages(ctx context.Context, rows []domain.DealStageReference) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM crm_deal_stage_reference`); err != nil {
		return fmt.Errorf("failed to clear deal stages: %w", err)
	}
	if len(rows) > 0 {
		batch := make([]dealStageRow, len(rows))
		for i, s := range rows {
			batch[i] = dealStageRow(s)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO crm_deal_stage_reference
				(stage_id, stage_label, pipeline_id, display_order, is_closed, record_timestamp)
			VALUES
				(:stage_id, :stage_label, :pipeline_id, :display_order, :is_closed, :record_timestamp)`,
			batch); err != nil {
			return fmt.Errorf("failed to insert deal stages: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deal stages: %w", err)
	}
	metrics.RecordsWritten.WithLabelValues(string(domain.KindDealStageReference)).Add(float64(len(rows)))
	return nil
}

// CountByKind reports rows present for a snapshot and kind.
func (r *RecordRepo) CountByKind(
	ctx context.Context,
	snapshotID string,
	kind domain.EntityKind,
) (int, error) {
	var (
		query string
		args  []any
	)
	switch kind {
	case domain.KindCompanies:
		query = `SELECT COUNT(*) FROM crm_companies WHERE snapshot_id = $1`
		args = append(args, snapshotID)
	case domain.KindDeals:
		query = `SELECT COUNT(*) FROM crm_deals WHERE snapshot_id = $1`
		args = append(args, snapshotID)
	case domain.KindOwners:
		query = `SELECT COUNT(*) FROM crm_owners`
	case domain.KindDealStageReference:
		query = `SELECT COUNT(*) FROM crm_deal_stage_reference`
	default:
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}

	var n int
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	return n, nil
}

// CompaniesBySnapshot returns all company rows for a snapshot.
func (r *RecordRepo) CompaniesBySnapshot(
	ctx context.Context,
	snapshotID string,
) ([]domain.Company, error) {
	var rows []companyRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT company_id, company_name, lifecycle_stage, lead_status, owner_id,
		       company_type, snapshot_id, record_timestamp
		FROM crm_companies
		WHERE snapshot_id = $1
		ORDER BY company_id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load companies: %w", err)
	}
	out := make([]domain.Company, len(rows))
	for i, row := range rows {
		out[i] = domain.Company(row)
	}
	return out, nil
}

// DealsBySnapshot returns all deal rows for a snapshot.
func (r *RecordRepo) DealsBySnapshot(
	ctx context.Context,
	snapshotID string,
) ([]domain.Deal, error) {
	var rows []dealRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT deal_id, deal_name, deal_stage, deal_type, amount,
		       associated_company_id, owner_id, snapshot_id, record_timestamp
		FROM crm_deals
		WHERE snapshot_id = $1
		ORDER BY deal_id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deals: %w", err)
	}
	out := make([]domain.Deal, len(rows))
	for i, row := range rows {
		out[i] = domain.Deal(row)
	}
	return out, nil
}

// Owners returns the owners reference table.
func (r *RecordRepo) Owners(ctx context.Context) ([]domain.Owner, error) {
	var rows []ownerRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT owner_id, email, first_name, last_name, user_id, active, record_timestamp
		FROM crm_owners
		ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load owners: %w", err)
	}
	out := make([]domain.Owner, len(rows))
	for i, row := range rows {
		out[i] = domain.Owner(row)
	}
	return out, nil
}

// DealStages returns the deal stage reference table.
func (r *RecordRepo) DealStages(ctx context.Context) ([]domain.DealStageReference, error) {
	var rows []dealStageRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT stage_id, stage_label, pipeline_id, display_order, is_closed, record_timestamp
		FROM crm_deal_stage_reference
		ORDER BY display_order, stage_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load deal stages: %w", err)
	}
	out := make([]domain.DealStageReference, len(rows))
	for i, row := range rows {
		out[i] = domain.DealStageReference(row)
	}
	return out, nil
}

// DeleteBySnapshot removes the snapshot-scoped record rows.
func (r *RecordRepo) DeleteBySnapshot(ctx context.Context, snapshotID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM crm_deals WHERE snapshot_id = $1`, snapshotID); err != nil {
		return fmt.Errorf("failed to delete deals for %s: %w", snapshotID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM crm_companies WHERE snapshot_id = $1`, snapshotID); err != nil {
		return fmt.Errorf("failed to delete companies for %s: %w", snapshotID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record deletion: %w", err)
	}
	return nil
}
