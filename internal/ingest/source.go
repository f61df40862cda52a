package ingest

import (
	"context"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
)

// StaticSource serves a fixed record batch. Used for dev runs and tests
// where the CRM client collaborator is not wired in.
type StaticSource struct {
	Batch domain.RecordBatch
}

// Fetch returns up to limit companies and deals from the fixed batch.
// A limit <= 0 means no limit.
func (s *StaticSource) Fetch(ctx context.Context, limit int) (*domain.RecordBatch, error) {
	batch := domain.RecordBatch{
		Companies:  append([]domain.Company(nil), s.Batch.Companies...),
		Deals:      append([]domain.Deal(nil), s.Batch.Deals...),
		Owners:     append([]domain.Owner(nil), s.Batch.Owners...),
		DealStages: append([]domain.DealStageReference(nil), s.Batch.DealStages...),
	}
	if limit > 0 {
		if len(batch.Companies) > limit {
			batch.Companies = batch.Companies[:limit]
		}
		if len(batch.Deals) > limit {
			batch.Deals = batch.Deals[:limit]
		}
	}
	return &batch, nil
}
