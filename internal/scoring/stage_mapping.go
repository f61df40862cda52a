// Package scoring turns a completed snapshot's record batches into scored
// pipeline units and per-owner score history.
package scoring

import (
	"strings"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
)

// DefaultStageMapping returns the configured business rules mapping combined
// stages to ordinal levels and scores. The mapping is rebuilt per scoring run
// and never depends on snapshot data.
func DefaultStageMapping() []domain.StageMapping {
	return []domain.StageMapping{
		// Lead lifecycle stages
		{LifecycleStage: "lead", LeadStatus: "new", CombinedStage: "lead/new", StageLevel: 1, AdjustedScore: 1.0},
		{LifecycleStage: "lead", LeadStatus: "restart", CombinedStage: "lead/restart", StageLevel: 1, AdjustedScore: 1.0},
		{LifecycleStage: "lead", LeadStatus: "attempted to contact", CombinedStage: "lead/attempted_to_contact", StageLevel: 2, AdjustedScore: 1.5},
		{LifecycleStage: "lead", LeadStatus: "connected", CombinedStage: "lead/connected", StageLevel: 3, AdjustedScore: 2.0},
		{LifecycleStage: "lead", LeadStatus: "nurturing", CombinedStage: "lead/nurturing", StageLevel: 0, AdjustedScore: 2.0},

		// Sales qualified lead (no lead status or deal stage)
		{LifecycleStage: "salesqualifiedlead", CombinedStage: "salesqualifiedlead", StageLevel: 4, AdjustedScore: 6.0},

		// Opportunity (deal-driven)
		{LifecycleStage: "opportunity", CombinedStage: "opportunity/missing", StageLevel: 5, AdjustedScore: 7.0},
		{LifecycleStage: "opportunity", DealStage: "appointmentscheduled", CombinedStage: "opportunity/appointmentscheduled", StageLevel: 5, AdjustedScore: 8.0},
		{LifecycleStage: "opportunity", DealStage: "qualifiedtobuy", CombinedStage: "opportunity/qualifiedtobuy", StageLevel: 6, AdjustedScore: 10.0},
		{LifecycleStage: "opportunity", DealStage: "presentationscheduled", CombinedStage: "opportunity/presentationscheduled", StageLevel: 7, AdjustedScore: 12.0},
		{LifecycleStage: "opportunity", DealStage: "decisionmakerboughtin", CombinedStage: "opportunity/decisionmakerboughtin", StageLevel: 8, AdjustedScore: 14.0},

		// Closed-won
		{LifecycleStage: "closed-won", DealStage: "contractsent", CombinedStage: "closed-won/contractsent", StageLevel: domain.StageLevelClosedWon, AdjustedScore: 30.0},

		// Disqualified
		{LifecycleStage: "disqualified", CombinedStage: "disqualified", StageLevel: domain.StageLevelDisqualified, AdjustedScore: 0.0},
	}
}

// NormalizeLeadStatus lowercases a lead status and replaces spaces with
// underscores, matching how combined stages are keyed.
func NormalizeLeadStatus(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}

// CombineStage derives the combined stage for a company, optionally paired
// with one of its open deals. The empty dealStage means the company has no
// open deal.
func CombineStage(lifecycleStage, leadStatus, dealStage string) string {
	switch strings.ToLower(lifecycleStage) {
	case "lead":
		return "lead/" + NormalizeLeadStatus(leadStatus)
	case "opportunity":
		if dealStage == "" {
			return "opportunity/missing"
		}
		return "opportunity/" + strings.ToLower(dealStage)
	case "salesqualifiedlead", "closed-won", "disqualified":
		return strings.ToLower(lifecycleStage)
	}
	// Every lifecycle stage outside the canonical set collapses to the one
	// unmapped bucket so history rows group together.
	return "unmapped"
}

// mappingIndex keys a mapping slice by combined stage for joins.
func mappingIndex(rows []domain.StageMapping) map[string]domain.StageMapping {
	idx := make(map[string]domain.StageMapping, len(rows))
	for _, m := range rows {
		idx[m.CombinedStage] = m
	}
	return idx
}
