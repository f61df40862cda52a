package domain

import "time"

// SnapshotIDLayout is the wall-clock format snapshot identifiers are derived from.
// IDs sort lexicographically in chronological order.
const SnapshotIDLayout = "2006-01-02T15:04:05"

// NewSnapshotID derives a snapshot identifier from the current UTC time.
func NewSnapshotID(now time.Time) string {
	return now.UTC().Format(SnapshotIDLayout)
}

// Snapshot represents one point-in-time ingest run tracked by the registry.
type Snapshot struct {
	SnapshotID   string
	Timestamp    time.Time
	TriggeredBy  string
	Status       SnapshotStatus
	Notes        []string
	RecordCounts map[EntityKind]int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SnapshotStatus is the registry lifecycle state of a snapshot.
type SnapshotStatus string

const (
	StatusCreated          SnapshotStatus = "created"
	StatusIngestStarted    SnapshotStatus = "ingest_started"
	StatusIngestCompleted  SnapshotStatus = "ingest_completed"
	StatusIngestFailed     SnapshotStatus = "ingest_failed"
	StatusScoringStarted   SnapshotStatus = "scoring_started"
	StatusScoringCompleted SnapshotStatus = "scoring_completed"
	StatusScoringFailed    SnapshotStatus = "scoring_failed"
)

// transitions is the forward edge set of the lifecycle state machine.
// Failure states are reachable only from their own phase.
var transitions = map[SnapshotStatus][]SnapshotStatus{
	StatusCreated:         {StatusIngestStarted, StatusIngestFailed},
	StatusIngestStarted:   {StatusIngestCompleted, StatusIngestFailed},
	StatusIngestCompleted: {StatusScoringStarted},
	StatusScoringStarted:  {StatusScoringCompleted, StatusScoringFailed},
}

// CanTransition reports whether moving from one status to another is legal.
// Terminal states (ingest_failed, scoring_failed, scoring_completed) have no
// outgoing edges; a failed snapshot is retried by creating a new one.
func (s SnapshotStatus) CanTransition(to SnapshotStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s SnapshotStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// EntityKind identifies one typed record collection within a snapshot.
type EntityKind string

const (
	KindCompanies          EntityKind = "companies"
	KindDeals              EntityKind = "deals"
	KindOwners             EntityKind = "owners"
	KindDealStageReference EntityKind = "deal_stage_reference"
)

// SnapshotKinds are the entity kinds stamped with a snapshot_id and written
// append-only. Reference kinds (owners, deal stage reference) are overwritten
// on each run instead.
var SnapshotKinds = []EntityKind{KindCompanies, KindDeals}

// ReferenceKinds are overwritten wholesale on each ingest run.
var ReferenceKinds = []EntityKind{KindOwners, KindDealStageReference}
