package domain

import "time"

// StageMapping maps one combined stage to its ordinal level and score.
// The mapping is a pure function of configured business rules and is rebuilt
// per scoring run; it never depends on snapshot data.
type StageMapping struct {
	LifecycleStage string
	LeadStatus     string
	DealStage      string
	CombinedStage  string
	StageLevel     int
	AdjustedScore  float64
}

// Sentinel stage levels. StageLevelDisqualified marks disqualified companies,
// StageLevelClosedWon marks won deals, StageLevelUnmapped is the fallback for
// combinations with no mapping entry.
const (
	StageLevelDisqualified = -1
	StageLevelClosedWon    = 9
	StageLevelUnmapped     = 0
)

// PipelineUnit is one scored (company, deal, owner) row for a snapshot.
// Units are immutable once written and keyed by snapshot_id so historical
// scores stay reproducible.
type PipelineUnit struct {
	SnapshotID     string
	SnapshotTime   time.Time
	CompanyID      string
	DealID         string
	OwnerID        string
	LifecycleStage string
	LeadStatus     string
	DealStage      string
	CombinedStage  string
	StageSource    string // "company" or "deal"
	StageLevel     int
	AdjustedScore  float64
}

// ScoreHistory aggregates pipeline units per (owner, combined stage) for a
// snapshot: distinct company count and summed adjusted score.
type ScoreHistory struct {
	SnapshotID    string
	OwnerID       string
	CombinedStage string
	NumCompanies  int
	TotalScore    float64
	SnapshotTime  time.Time
}
