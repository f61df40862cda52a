package scoring

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/core/retry"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage/memory"
)

const testSnapshotID = "2025-06-01T12:00:00"

type scoringFixture struct {
	store    *memory.Store
	registry *memory.RegistryRepo
	records  *memory.RecordRepo
	scores   *memory.ScoringRepo
}

func newFixture(t *testing.T, status domain.SnapshotStatus) *scoringFixture {
	t.Helper()
	store := memory.NewStore()
	f := &scoringFixture{
		store:    store,
		registry: memory.NewRegistryRepo(store),
		records:  memory.NewRecordRepo(store),
		scores:   memory.NewScoringRepo(store),
	}

	ctx := context.Background()
	err := f.registry.Create(ctx, &domain.Snapshot{
		SnapshotID: testSnapshotID,
		Timestamp:  testSnapshotTime,
		Status:     status,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.records.InsertCompanies(ctx, []domain.Company{
		{CompanyID: "c1", OwnerID: "o1", LifecycleStage: "lead", LeadStatus: "new", SnapshotID: testSnapshotID},
		{CompanyID: "c2", OwnerID: "o1", LifecycleStage: "opportunity", SnapshotID: testSnapshotID},
		{CompanyID: "c3", OwnerID: "o2", LifecycleStage: "disqualified", SnapshotID: testSnapshotID},
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.records.InsertDeals(ctx, []domain.Deal{
		{DealID: "d1", AssociatedCompanyID: "c2", DealStage: "qualifiedtobuy", OwnerID: "o1", SnapshotID: testSnapshotID},
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.records.ReplaceDealStages(ctx, []domain.DealStageReference{
		{StageID: "qualifiedtobuy", StageLabel: "Qualified to buy"},
	}); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *scoringFixture) orchestrator() *Orchestrator {
	return NewOrchestrator(f.registry, f.records, f.scores,
		retry.NewExecutor(retry.Policy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		}, nil), nil)
}

func TestProcessSnapshot(t *testing.T) {
	f := newFixture(t, domain.StatusIngestCompleted)
	ctx := context.Background()

	res, err := f.orchestrator().ProcessSnapshot(ctx, testSnapshotID, Options{})
	if err != nil {
		t.Fatalf("ProcessSnapshot failed: %v", err)
	}
	if res.Status != "success" || res.Units != 3 || res.History != 3 {
		t.Errorf("unexpected result %+v", res)
	}

	snap, _ := f.registry.Get(ctx, testSnapshotID)
	if snap.Status != domain.StatusScoringCompleted {
		t.Errorf("expected scoring_completed, got %s", snap.Status)
	}

	units, _ := f.scores.UnitsBySnapshot(ctx, testSnapshotID)
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %+v", units)
	}
	for _, u := range units {
		if u.SnapshotID != testSnapshotID || !u.SnapshotTime.Equal(testSnapshotTime) {
			t.Errorf("unit not stamped with snapshot identity: %+v", u)
		}
	}

	history, _ := f.scores.HistoryBySnapshot(ctx, testSnapshotID)
	var total float64
	for _, h := range history {
		total += h.TotalScore
	}
	// lead/new (1.0) + opportunity/qualifiedtobuy (10.0) + disqualified (0.0)
	if total != 11.0 {
		t.Errorf("expected total score 11.0, got %v (%+v)", total, history)
	}

	mapping, _ := f.scores.StageMapping(ctx)
	if len(mapping) != len(DefaultStageMapping()) {
		t.Errorf("stage mapping not refreshed, got %d rows", len(mapping))
	}
}

func TestProcessSnapshotRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t, domain.StatusIngestCompleted)
	ctx := context.Background()
	o := f.orchestrator()

	if _, err := o.ProcessSnapshot(ctx, testSnapshotID, Options{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	firstUnits, _ := f.scores.UnitsBySnapshot(ctx, testSnapshotID)
	firstHistory, _ := f.scores.HistoryBySnapshot(ctx, testSnapshotID)

	res, err := o.ProcessSnapshot(ctx, testSnapshotID, Options{Recompute: true})
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if res.Status != "success" {
		t.Errorf("expected success, got %s", res.Status)
	}

	secondUnits, _ := f.scores.UnitsBySnapshot(ctx, testSnapshotID)
	secondHistory, _ := f.scores.HistoryBySnapshot(ctx, testSnapshotID)
	if !reflect.DeepEqual(firstUnits, secondUnits) {
		t.Errorf("recompute changed units:\n%+v\nvs\n%+v", firstUnits, secondUnits)
	}
	if !reflect.DeepEqual(firstHistory, secondHistory) {
		t.Errorf("recompute changed history:\n%+v\nvs\n%+v", firstHistory, secondHistory)
	}
}

func TestProcessSnapshotDuplicateTrigger(t *testing.T) {
	f := newFixture(t, domain.StatusIngestCompleted)
	ctx := context.Background()
	o := f.orchestrator()

	if _, err := o.ProcessSnapshot(ctx, testSnapshotID, Options{}); err != nil {
		t.Fatal(err)
	}

	// Second delivery without recompute acknowledges without touching rows.
	res, err := o.ProcessSnapshot(ctx, testSnapshotID, Options{})
	if err != nil {
		t.Fatalf("duplicate trigger must not error: %v", err)
	}
	if res.Status != "duplicate" {
		t.Errorf("expected duplicate, got %s", res.Status)
	}
}

func TestProcessSnapshotDropsUnexpectedState(t *testing.T) {
	f := newFixture(t, domain.StatusIngestFailed)

	res, err := f.orchestrator().ProcessSnapshot(context.Background(), testSnapshotID, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "dropped" {
		t.Errorf("expected dropped, got %s", res.Status)
	}

	snap, _ := f.registry.Get(context.Background(), testSnapshotID)
	if snap.Status != domain.StatusIngestFailed {
		t.Errorf("dropped trigger must not move the snapshot, got %s", snap.Status)
	}
}

type failingScoringRepo struct {
	*memory.ScoringRepo
	replaceErr error
}

func (f *failingScoringRepo) ReplaceForSnapshot(
	ctx context.Context,
	snapshotID string,
	units []domain.PipelineUnit,
	history []domain.ScoreHistory,
) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	return f.ScoringRepo.ReplaceForSnapshot(ctx, snapshotID, units, history)
}

func TestProcessSnapshotMarksFailure(t *testing.T) {
	f := newFixture(t, domain.StatusIngestCompleted)
	o := NewOrchestrator(f.registry, f.records,
		&failingScoringRepo{
			ScoringRepo: f.scores,
			replaceErr:  &pq.Error{Code: "42501", Message: "permission denied"},
		},
		retry.NewExecutor(retry.Policy{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		}, nil), nil)

	res, err := o.ProcessSnapshot(context.Background(), testSnapshotID, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Status != "failed" {
		t.Errorf("expected failed, got %s", res.Status)
	}

	snap, _ := f.registry.Get(context.Background(), testSnapshotID)
	if snap.Status != domain.StatusScoringFailed {
		t.Errorf("expected scoring_failed, got %s", snap.Status)
	}
	found := false
	for _, n := range snap.Notes {
		if strings.Contains(n, "scoring failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("failure note missing: %v", snap.Notes)
	}
}

func TestHandleEvent(t *testing.T) {
	f := newFixture(t, domain.StatusIngestCompleted)
	o := f.orchestrator()
	ctx := context.Background()

	// unknown types and malformed events are acknowledged without work
	if err := o.HandleEvent(ctx, domain.SnapshotEvent{Type: "crm.snapshot.failed"}); err != nil {
		t.Errorf("failure events should be ignored: %v", err)
	}
	if err := o.HandleEvent(ctx, domain.SnapshotEvent{Type: domain.EventSnapshotCompleted}); err != nil {
		t.Errorf("events without snapshot_id should be dropped: %v", err)
	}
	if snap, _ := f.registry.Get(ctx, testSnapshotID); snap.Status != domain.StatusIngestCompleted {
		t.Fatalf("ignored events must not trigger scoring, got %s", snap.Status)
	}

	err := o.HandleEvent(ctx, domain.SnapshotEvent{
		Type: domain.EventSnapshotCompleted,
		Data: domain.SnapshotEventData{SnapshotID: testSnapshotID},
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if snap, _ := f.registry.Get(ctx, testSnapshotID); snap.Status != domain.StatusScoringCompleted {
		t.Errorf("expected scoring_completed, got %s", snap.Status)
	}
}
