package domain

import "time"

// Company is one CRM company row within a record batch.
type Company struct {
	CompanyID      string
	CompanyName    string
	LifecycleStage string
	LeadStatus     string
	OwnerID        string
	CompanyType    string
	SnapshotID     string
	RecordTime     time.Time
}

// Deal is one CRM deal row within a record batch.
type Deal struct {
	DealID              string
	DealName            string
	DealStage           string
	DealType            string
	Amount              float64
	AssociatedCompanyID string
	OwnerID             string
	SnapshotID          string
	RecordTime          time.Time
}

// Owner is a CRM owner (sales rep). Owners are reference data: the table is
// overwritten on each ingest run rather than stamped per snapshot.
type Owner struct {
	OwnerID    string
	Email      string
	FirstName  string
	LastName   string
	UserID     string
	Active     bool
	RecordTime time.Time
}

// DealStageReference describes one configured deal stage, including whether
// the stage counts as closed. Closed deals are excluded from scoring.
type DealStageReference struct {
	StageID      string
	StageLabel   string
	PipelineID   string
	DisplayOrder int
	IsClosed     bool
	RecordTime   time.Time
}

// RecordBatch groups the typed collections handed to the snapshot writer by
// the CRM client collaborator. All rows are stamped with the same snapshot
// identifier by the writer; a batch is immutable once written.
type RecordBatch struct {
	Companies  []Company
	Deals      []Deal
	Owners     []Owner
	DealStages []DealStageReference
}

// Count returns the number of rows the batch holds for one entity kind.
func (b *RecordBatch) Count(kind EntityKind) int {
	switch kind {
	case KindCompanies:
		return len(b.Companies)
	case KindDeals:
		return len(b.Deals)
	case KindOwners:
		return len(b.Owners)
	case KindDealStageReference:
		return len(b.DealStages)
	}
	return 0
}
