package scoring

import (
	"log/slog"
	"sort"
	"time"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
)

// BuildUnits joins companies against their open deals and the stage mapping,
// producing one pipeline unit per (company, deal) pair, or per company when
// it has no open deal. Combinations without a mapping entry fall back to the
// unmapped sentinel (level 0, score 0) and are logged, never dropped.
func BuildUnits(
	snapshotID string,
	snapshotTime time.Time,
	companies []domain.Company,
	deals []domain.Deal,
	stages []domain.DealStageReference,
	mapping []domain.StageMapping,
	log *slog.Logger,
) []domain.PipelineUnit {
	if log == nil {
		log = slog.Default()
	}

	closed := make(map[string]bool, len(stages))
	for _, s := range stages {
		if s.IsClosed {
			closed[s.StageID] = true
		}
	}

	dealsByCompany := make(map[string][]domain.Deal)
	for _, d := range deals {
		if closed[d.DealStage] {
			continue
		}
		dealsByCompany[d.AssociatedCompanyID] = append(dealsByCompany[d.AssociatedCompanyID], d)
	}

	idx := mappingIndex(mapping)

	var units []domain.PipelineUnit
	for _, c := range companies {
		open := dealsByCompany[c.CompanyID]
		if len(open) == 0 {
			units = append(units, buildUnit(snapshotID, snapshotTime, c, nil, idx, log))
			continue
		}
		for i := range open {
			units = append(units, buildUnit(snapshotID, snapshotTime, c, &open[i], idx, log))
		}
	}

	// Stable order (owner, stage, company, deal) so re-running scoring for
	// the same input yields byte-identical output.
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.OwnerID != b.OwnerID {
			return a.OwnerID < b.OwnerID
		}
		if a.CombinedStage != b.CombinedStage {
			return a.CombinedStage < b.CombinedStage
		}
		if a.CompanyID != b.CompanyID {
			return a.CompanyID < b.CompanyID
		}
		return a.DealID < b.DealID
	})
	return units
}

func buildUnit(
	snapshotID string,
	snapshotTime time.Time,
	c domain.Company,
	d *domain.Deal,
	idx map[string]domain.StageMapping,
	log *slog.Logger,
) domain.PipelineUnit {
	unit := domain.PipelineUnit{
		SnapshotID:     snapshotID,
		SnapshotTime:   snapshotTime,
		CompanyID:      c.CompanyID,
		OwnerID:        c.OwnerID,
		LifecycleStage: c.LifecycleStage,
		LeadStatus:     c.LeadStatus,
		StageSource:    "company",
	}
	dealStage := ""
	if d != nil {
		unit.DealID = d.DealID
		unit.DealStage = d.DealStage
		unit.StageSource = "deal"
		dealStage = d.DealStage
	}

	unit.CombinedStage = CombineStage(c.LifecycleStage, c.LeadStatus, dealStage)

	if m, ok := idx[unit.CombinedStage]; ok {
		unit.StageLevel = m.StageLevel
		unit.AdjustedScore = m.AdjustedScore
	} else {
		unit.StageLevel = domain.StageLevelUnmapped
		unit.AdjustedScore = 0
		log.Warn("no stage mapping entry, using fallback score",
			"snapshot_id", snapshotID, "company_id", c.CompanyID,
			"combined_stage", unit.CombinedStage)
	}
	return unit
}

// Aggregate rolls pipeline units up into score history rows per
// (owner, combined stage): distinct company count and summed score, in
// deterministic (owner, stage) order.
func Aggregate(
	snapshotID string,
	snapshotTime time.Time,
	units []domain.PipelineUnit,
) []domain.ScoreHistory {
	type key struct{ owner, stage string }

	agg := make(map[key]*domain.ScoreHistory)
	seen := make(map[key]map[string]bool)
	var order []key

	for _, u := range units {
		k := key{u.OwnerID, u.CombinedStage}
		row, ok := agg[k]
		if !ok {
			row = &domain.ScoreHistory{
				SnapshotID:    snapshotID,
				OwnerID:       u.OwnerID,
				CombinedStage: u.CombinedStage,
				SnapshotTime:  snapshotTime,
			}
			agg[k] = row
			seen[k] = make(map[string]bool)
			order = append(order, k)
		}
		if !seen[k][u.CompanyID] {
			seen[k][u.CompanyID] = true
			row.NumCompanies++
		}
		row.TotalScore += u.AdjustedScore
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].owner != order[j].owner {
			return order[i].owner < order[j].owner
		}
		return order[i].stage < order[j].stage
	})

	out := make([]domain.ScoreHistory, 0, len(order))
	for _, k := range order {
		out = append(out, *agg[k])
	}
	return out
}
