package domain

import (
	"testing"
	"time"
)

func TestNewSnapshotID(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.FixedZone("CET", 3600))
	got := NewSnapshotID(at)
	if got != "2025-03-14T08:26:53" {
		t.Errorf("expected UTC-normalized id, got %q", got)
	}
}

func TestSnapshotIDsSortChronologically(t *testing.T) {
	earlier := NewSnapshotID(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	later := NewSnapshotID(time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC))
	if !(earlier < later) {
		t.Errorf("expected %q < %q", earlier, later)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SnapshotStatus
		want     bool
	}{
		{StatusCreated, StatusIngestStarted, true},
		{StatusCreated, StatusIngestFailed, true},
		{StatusIngestStarted, StatusIngestCompleted, true},
		{StatusIngestStarted, StatusIngestFailed, true},
		{StatusIngestCompleted, StatusScoringStarted, true},
		{StatusScoringStarted, StatusScoringCompleted, true},
		{StatusScoringStarted, StatusScoringFailed, true},

		// no skipping phases
		{StatusCreated, StatusIngestCompleted, false},
		{StatusCreated, StatusScoringStarted, false},
		{StatusIngestStarted, StatusScoringStarted, false},

		// no moving backwards
		{StatusIngestCompleted, StatusIngestStarted, false},
		{StatusScoringCompleted, StatusScoringStarted, false},

		// failure states are dead ends
		{StatusIngestFailed, StatusIngestStarted, false},
		{StatusScoringFailed, StatusScoringStarted, false},

		// scoring failure is unreachable from ingest phase
		{StatusIngestStarted, StatusScoringFailed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []SnapshotStatus{StatusIngestFailed, StatusScoringCompleted, StatusScoringFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	active := []SnapshotStatus{StatusCreated, StatusIngestStarted, StatusIngestCompleted, StatusScoringStarted}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}
