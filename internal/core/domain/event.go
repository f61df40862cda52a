package domain

import "time"

// SnapshotEvent is the envelope published on the event channel when a
// snapshot changes phase. Delivery is at-least-once; consumers deduplicate
// through the registry's conditional transition, never in memory.
type SnapshotEvent struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Version   string            `json:"version"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Data      SnapshotEventData `json:"data"`
}

// SnapshotEventData carries the snapshot payload of an event.
type SnapshotEventData struct {
	SnapshotID   string             `json:"snapshot_id"`
	RecordCounts map[EntityKind]int `json:"record_counts,omitempty"`
	Error        string             `json:"error,omitempty"`
}

type EventType string

const (
	EventSnapshotCompleted EventType = "crm.snapshot.completed"
	EventSnapshotFailed    EventType = "crm.snapshot.failed"
)

// EventVersion is the envelope schema version.
const EventVersion = "1.0"
