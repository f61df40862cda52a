// Package memory provides in-memory implementations of the storage
// repositories for tests and database-less development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage"
)

// Store holds all in-memory state behind one mutex.
type Store struct {
	mu sync.RWMutex

	snapshots  map[string]*domain.Snapshot
	companies  []domain.Company
	deals      []domain.Deal
	owners     []domain.Owner
	dealStages []domain.DealStageReference
	mapping    []domain.StageMapping
	units      map[string][]domain.PipelineUnit
	history    map[string][]domain.ScoreHistory
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		snapshots: make(map[string]*domain.Snapshot),
		units:     make(map[string][]domain.PipelineUnit),
		history:   make(map[string][]domain.ScoreHistory),
	}
}

// RegistryRepo implements storage.RegistryRepository.
type RegistryRepo struct{ s *Store }

func NewRegistryRepo(s *Store) *RegistryRepo { return &RegistryRepo{s: s} }

func (r *RegistryRepo) Create(ctx context.Context, snap *domain.Snapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.snapshots[snap.SnapshotID]; ok {
		return storage.ErrSnapshotExists
	}
	c := cloneSnapshot(snap)
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.RecordCounts == nil {
		c.RecordCounts = make(map[domain.EntityKind]int)
	}
	r.s.snapshots[snap.SnapshotID] = c
	return nil
}

func (r *RegistryRepo) Get(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	snap, ok := r.s.snapshots[snapshotID]
	if !ok {
		return nil, storage.ErrSnapshotNotFound
	}
	return cloneSnapshot(snap), nil
}

func (r *RegistryRepo) List(ctx context.Context, limit int) ([]*domain.Snapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*domain.Snapshot, 0, len(r.s.snapshots))
	for _, snap := range r.s.snapshots {
		out = append(out, cloneSnapshot(snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotID > out[j].SnapshotID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RegistryRepo) Transition(
	ctx context.Context,
	snapshotID string,
	from []domain.SnapshotStatus,
	to domain.SnapshotStatus,
	note string,
) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snap, ok := r.s.snapshots[snapshotID]
	if !ok {
		return storage.ErrSnapshotNotFound
	}

	matched := false
	for _, f := range from {
		if snap.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return storage.ErrConflict
	}

	snap.Status = to
	line := string(to)
	if note != "" {
		line += ": " + note
	}
	snap.Notes = append(snap.Notes, line)
	snap.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *RegistryRepo) UpdateCount(
	ctx context.Context,
	snapshotID string,
	kind domain.EntityKind,
	n int,
) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snap, ok := r.s.snapshots[snapshotID]
	if !ok {
		return storage.ErrSnapshotNotFound
	}
	if snap.RecordCounts == nil {
		snap.RecordCounts = make(map[domain.EntityKind]int)
	}
	snap.RecordCounts[kind] = n
	snap.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *RegistryRepo) Delete(ctx context.Context, snapshotID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.snapshots[snapshotID]; !ok {
		return storage.ErrSnapshotNotFound
	}
	delete(r.s.snapshots, snapshotID)
	return nil
}

// RecordRepo implements storage.RecordRepository.
type RecordRepo struct{ s *Store }

func NewRecordRepo(s *Store) *RecordRepo { return &RecordRepo{s: s} }

func (r *RecordRepo) InsertCompanies(ctx context.Context, rows []domain.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.companies = append(r.s.companies, rows...)
	return nil
}

func (r *RecordRepo) InsertDeals(ctx context.Context, rows []domain.Deal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deals = append(r.s.deals, rows...)
	return nil
}

func (r *RecordRepo) ReplaceOwners(ctx context.Context, rows []domain.Owner) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.owners = append([]domain.Owner(nil), rows...)
	return nil
}

func (r *RecordRepo) ReplaceDealStages(ctx context.Context, rows []domain.DealStageReference) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.dealStages = append([]domain.DealStageReference(nil), rows...)
	return nil
}

func (r *RecordRepo) CountByKind(
	ctx context.Context,
	snapshotID string,
	kind domain.EntityKind,
) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	switch kind {
	case domain.KindCompanies:
		n := 0
		for _, c := range r.s.companies {
			if c.SnapshotID == snapshotID {
				n++
			}
		}
		return n, nil
	case domain.KindDeals:
		n := 0
		for _, d := range r.s.deals {
			if d.SnapshotID == snapshotID {
				n++
			}
		}
		return n, nil
	case domain.KindOwners:
		return len(r.s.owners), nil
	case domain.KindDealStageReference:
		return len(r.s.dealStages), nil
	}
	return 0, nil
}

func (r *RecordRepo) CompaniesBySnapshot(
	ctx context.Context,
	snapshotID string,
) ([]domain.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Company
	for _, c := range r.s.companies {
		if c.SnapshotID == snapshotID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID < out[j].CompanyID })
	return out, nil
}

func (r *RecordRepo) DealsBySnapshot(
	ctx context.Context,
	snapshotID string,
) ([]domain.Deal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Deal
	for _, d := range r.s.deals {
		if d.SnapshotID == snapshotID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DealID < out[j].DealID })
	return out, nil
}

func (r *RecordRepo) Owners(ctx context.Context) ([]domain.Owner, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.Owner(nil), r.s.owners...), nil
}

func (r *RecordRepo) DealStages(ctx context.Context) ([]domain.DealStageReference, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.DealStageReference(nil), r.s.dealStages...), nil
}

func (r *RecordRepo) DeleteBySnapshot(ctx context.Context, snapshotID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	companies := r.s.companies[:0]
	for _, c := range r.s.companies {
		if c.SnapshotID != snapshotID {
			companies = append(companies, c)
		}
	}
	r.s.companies = companies

	deals := r.s.deals[:0]
	for _, d := range r.s.deals {
		if d.SnapshotID != snapshotID {
			deals = append(deals, d)
		}
	}
	r.s.deals = deals
	return nil
}

// ScoringRepo implements storage.ScoringRepository.
type ScoringRepo struct{ s *Store }

func NewScoringRepo(s *Store) *ScoringRepo { return &ScoringRepo{s: s} }

func (r *ScoringRepo) ReplaceStageMapping(ctx context.Context, rows []domain.StageMapping) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.mapping = append([]domain.StageMapping(nil), rows...)
	return nil
}

func (r *ScoringRepo) StageMapping(ctx context.Context) ([]domain.StageMapping, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.StageMapping(nil), r.s.mapping...), nil
}

func (r *ScoringRepo) ReplaceForSnapshot(
	ctx context.Context,
	snapshotID string,
	units []domain.PipelineUnit,
	history []domain.ScoreHistory,
) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.units[snapshotID] = append([]domain.PipelineUnit(nil), units...)
	r.s.history[snapshotID] = append([]domain.ScoreHistory(nil), history...)
	return nil
}

func (r *ScoringRepo) UnitsBySnapshot(
	ctx context.Context,
	snapshotID string,
) ([]domain.PipelineUnit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.PipelineUnit(nil), r.s.units[snapshotID]...), nil
}

func (r *ScoringRepo) HistoryBySnapshot(
	ctx context.Context,
	snapshotID string,
) ([]domain.ScoreHistory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.ScoreHistory(nil), r.s.history[snapshotID]...), nil
}

func (r *ScoringRepo) DeleteBySnapshot(ctx context.Context, snapshotID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.units, snapshotID)
	delete(r.s.history, snapshotID)
	return nil
}

func cloneSnapshot(snap *domain.Snapshot) *domain.Snapshot {
	c := *snap
	c.Notes = append([]string(nil), snap.Notes...)
	if snap.RecordCounts != nil {
		c.RecordCounts = make(map[domain.EntityKind]int, len(snap.RecordCounts))
		for k, v := range snap.RecordCounts {
			c.RecordCounts[k] = v
		}
	}
	return &c
}
