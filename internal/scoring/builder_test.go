package scoring

import (
	"reflect"
	"testing"
	"time"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
)

func TestCombineStage(t *testing.T) {
	tests := []struct {
		lifecycle, leadStatus, dealStage string
		want                             string
	}{
		{"lead", "NEW", "", "lead/new"},
		{"lead", "Attempted to contact", "", "lead/attempted_to_contact"},
		{"Lead", "nurturing", "", "lead/nurturing"},
		{"salesqualifiedlead", "", "", "salesqualifiedlead"},
		{"opportunity", "", "", "opportunity/missing"},
		{"opportunity", "", "QualifiedToBuy", "opportunity/qualifiedtobuy"},
		{"closed-won", "", "contractsent", "closed-won"},
		{"disqualified", "", "", "disqualified"},
		{"customer", "", "", "unmapped"},
		{"subscriber", "", "", "unmapped"},
		{"evangelist", "", "", "unmapped"},
		{"", "", "", "unmapped"},
	}
	for _, tt := range tests {
		got := CombineStage(tt.lifecycle, tt.leadStatus, tt.dealStage)
		if got != tt.want {
			t.Errorf("CombineStage(%q, %q, %q) = %q, want %q",
				tt.lifecycle, tt.leadStatus, tt.dealStage, got, tt.want)
		}
	}
}

func TestDefaultStageMappingLevels(t *testing.T) {
	idx := mappingIndex(DefaultStageMapping())

	checks := map[string]struct {
		level int
		score float64
	}{
		"lead/new":                          {1, 1.0},
		"lead/restart":                      {1, 1.0},
		"lead/attempted_to_contact":         {2, 1.5},
		"lead/connected":                    {3, 2.0},
		"lead/nurturing":                    {0, 2.0},
		"salesqualifiedlead":                {4, 6.0},
		"opportunity/missing":               {5, 7.0},
		"opportunity/appointmentscheduled":  {5, 8.0},
		"opportunity/qualifiedtobuy":        {6, 10.0},
		"opportunity/presentationscheduled": {7, 12.0},
		"opportunity/decisionmakerboughtin": {8, 14.0},
		"closed-won/contractsent":           {9, 30.0},
		"disqualified":                      {-1, 0.0},
	}
	if len(idx) != len(checks) {
		t.Errorf("expected %d mapping rows, got %d", len(checks), len(idx))
	}
	for stage, want := range checks {
		m, ok := idx[stage]
		if !ok {
			t.Errorf("missing mapping for %s", stage)
			continue
		}
		if m.StageLevel != want.level || m.AdjustedScore != want.score {
			t.Errorf("%s = level %d score %v, want level %d score %v",
				stage, m.StageLevel, m.AdjustedScore, want.level, want.score)
		}
	}
}

var testSnapshotTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestBuildUnitsJoinsOpenDeals(t *testing.T) {
	companies := []domain.Company{
		{CompanyID: "c1", OwnerID: "o1", LifecycleStage: "opportunity"},
		{CompanyID: "c2", OwnerID: "o1", LifecycleStage: "lead", LeadStatus: "connected"},
	}
	deals := []domain.Deal{
		{DealID: "d1", AssociatedCompanyID: "c1", DealStage: "qualifiedtobuy"},
		{DealID: "d2", AssociatedCompanyID: "c1", DealStage: "closedwon"}, // closed, excluded
	}
	stages := []domain.DealStageReference{
		{StageID: "qualifiedtobuy"},
		{StageID: "closedwon", IsClosed: true},
	}

	units := BuildUnits("S1", testSnapshotTime, companies, deals, stages, DefaultStageMapping(), nil)
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d: %+v", len(units), units)
	}

	byCompany := map[string]domain.PipelineUnit{}
	for _, u := range units {
		byCompany[u.CompanyID] = u
	}

	c1 := byCompany["c1"]
	if c1.DealID != "d1" || c1.StageSource != "deal" {
		t.Errorf("c1 should join its open deal: %+v", c1)
	}
	if c1.CombinedStage != "opportunity/qualifiedtobuy" || c1.StageLevel != 6 || c1.AdjustedScore != 10.0 {
		t.Errorf("c1 scored wrong: %+v", c1)
	}

	c2 := byCompany["c2"]
	if c2.DealID != "" || c2.StageSource != "company" {
		t.Errorf("c2 has no deal, stage must come from the company: %+v", c2)
	}
	if c2.CombinedStage != "lead/connected" || c2.StageLevel != 3 || c2.AdjustedScore != 2.0 {
		t.Errorf("c2 scored wrong: %+v", c2)
	}
}

func TestBuildUnitsMultipleOpenDeals(t *testing.T) {
	companies := []domain.Company{
		{CompanyID: "c1", OwnerID: "o1", LifecycleStage: "opportunity"},
	}
	deals := []domain.Deal{
		{DealID: "d1", AssociatedCompanyID: "c1", DealStage: "qualifiedtobuy"},
		{DealID: "d2", AssociatedCompanyID: "c1", DealStage: "presentationscheduled"},
	}

	units := BuildUnits("S1", testSnapshotTime, companies, deals, nil, DefaultStageMapping(), nil)
	if len(units) != 2 {
		t.Fatalf("expected one unit per open deal, got %d", len(units))
	}
	for _, u := range units {
		if u.CompanyID != "c1" || u.StageSource != "deal" {
			t.Errorf("unexpected unit %+v", u)
		}
	}
}

func TestBuildUnitsUnmappedFallback(t *testing.T) {
	companies := []domain.Company{
		{CompanyID: "c1", OwnerID: "o1", LifecycleStage: "customer"},
	}
	units := BuildUnits("S1", testSnapshotTime, companies, nil, nil, DefaultStageMapping(), nil)
	if len(units) != 1 {
		t.Fatalf("unmapped combinations must not be dropped, got %d units", len(units))
	}
	u := units[0]
	if u.CombinedStage != "unmapped" || u.StageLevel != domain.StageLevelUnmapped || u.AdjustedScore != 0 {
		t.Errorf("expected fallback sentinel, got %+v", u)
	}
}

func TestBuildAndAggregateWithCustomMapping(t *testing.T) {
	companies := []domain.Company{
		{CompanyID: "c1", OwnerID: "rep1", LifecycleStage: "lead", LeadStatus: "new"},
		{CompanyID: "c2", OwnerID: "rep1", LifecycleStage: "customer"},
		{CompanyID: "c3", OwnerID: "rep1", LifecycleStage: "disqualified"},
	}
	// The "customer" lifecycle collapses into the unmapped bucket, which a
	// custom mapping may still assign a score.
	mapping := []domain.StageMapping{
		{LifecycleStage: "lead", LeadStatus: "new", CombinedStage: "lead/new", StageLevel: 1, AdjustedScore: 10},
		{LifecycleStage: "customer", CombinedStage: "unmapped", StageLevel: 2, AdjustedScore: 50},
		{LifecycleStage: "disqualified", CombinedStage: "disqualified", StageLevel: -1, AdjustedScore: 0},
	}

	units := BuildUnits("S1", testSnapshotTime, companies, nil, nil, mapping, nil)
	if len(units) != 3 {
		t.Fatalf("expected one unit per company, got %d", len(units))
	}

	history := Aggregate("S1", testSnapshotTime, units)
	var total float64
	for _, h := range history {
		if h.OwnerID != "rep1" {
			t.Errorf("unexpected owner %q", h.OwnerID)
		}
		total += h.TotalScore
	}
	if total != 60 {
		t.Errorf("expected total score 60 for the owning rep, got %v", total)
	}
}

func TestBuildUnitsDeterministicOrder(t *testing.T) {
	companies := []domain.Company{
		{CompanyID: "c3", OwnerID: "o2", LifecycleStage: "lead", LeadStatus: "new"},
		{CompanyID: "c1", OwnerID: "o1", LifecycleStage: "lead", LeadStatus: "new"},
		{CompanyID: "c2", OwnerID: "o1", LifecycleStage: "lead", LeadStatus: "connected"},
	}
	first := BuildUnits("S1", testSnapshotTime, companies, nil, nil, DefaultStageMapping(), nil)

	reversed := []domain.Company{companies[2], companies[1], companies[0]}
	second := BuildUnits("S1", testSnapshotTime, reversed, nil, nil, DefaultStageMapping(), nil)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("unit order depends on input order:\n%+v\nvs\n%+v", first, second)
	}
	if first[0].OwnerID != "o1" || first[len(first)-1].OwnerID != "o2" {
		t.Errorf("units not sorted by owner: %+v", first)
	}
}

func TestAggregate(t *testing.T) {
	units := []domain.PipelineUnit{
		{OwnerID: "o1", CombinedStage: "lead/new", CompanyID: "c1", AdjustedScore: 1.0},
		{OwnerID: "o1", CombinedStage: "lead/new", CompanyID: "c2", AdjustedScore: 1.0},
		// same company twice in one stage counts once but sums both scores
		{OwnerID: "o1", CombinedStage: "opportunity/qualifiedtobuy", CompanyID: "c3", AdjustedScore: 10.0},
		{OwnerID: "o1", CombinedStage: "opportunity/qualifiedtobuy", CompanyID: "c3", AdjustedScore: 10.0},
		{OwnerID: "o2", CombinedStage: "disqualified", CompanyID: "c4", AdjustedScore: 0.0},
	}

	rows := Aggregate("S1", testSnapshotTime, units)
	if len(rows) != 3 {
		t.Fatalf("expected 3 history rows, got %d: %+v", len(rows), rows)
	}

	want := []domain.ScoreHistory{
		{SnapshotID: "S1", OwnerID: "o1", CombinedStage: "lead/new", NumCompanies: 2, TotalScore: 2.0, SnapshotTime: testSnapshotTime},
		{SnapshotID: "S1", OwnerID: "o1", CombinedStage: "opportunity/qualifiedtobuy", NumCompanies: 1, TotalScore: 20.0, SnapshotTime: testSnapshotTime},
		{SnapshotID: "S1", OwnerID: "o2", CombinedStage: "disqualified", NumCompanies: 1, TotalScore: 0.0, SnapshotTime: testSnapshotTime},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("unexpected aggregation:\ngot  %+v\nwant %+v", rows, want)
	}
}

func TestAggregateEmpty(t *testing.T) {
	if rows := Aggregate("S1", testSnapshotTime, nil); len(rows) != 0 {
		t.Errorf("expected no rows, got %+v", rows)
	}
}
