package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/braincount/impression-engine/internal/models"
)

// InMemoryBillboardRepo stores billboards in memory. Not durable;
// intended for tests and local development.
type InMemoryBillboardRepo struct {
	mu         sync.RWMutex
	billboards map[string]*models.Billboard
}

// NewInMemoryBillboardRepo constructs a new empty repo.
func NewInMemoryBillboardRepo() *InMemoryBillboardRepo {
	return &InMemoryBillboardRepo{billboards: make(map[string]*models.Billboard)}
}

func (r *InMemoryBillboardRepo) ListAll(ctx context.Context) ([]*models.Billboard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.Billboard, 0, len(r.billboards))
	for _, b := range r.billboards {
		cp := *b
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UUID < res[j].UUID })
	return res, nil
}

func (r *InMemoryBillboardRepo) GetByUUID(ctx context.Context, id string) (*models.Billboard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.billboards[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryBillboardRepo) Upsert(ctx context.Context, b *models.Billboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	if cp.UUID == "" {
		cp.UUID = uuid.NewString()
		b.UUID = cp.UUID
	}
	r.billboards[cp.UUID] = &cp
	return nil
}

// InMemoryCampaignRepo stores campaign windows in memory.
type InMemoryCampaignRepo struct {
	mu      sync.RWMutex
	windows map[string][]*models.CampaignWindow // campaign uuid -> windows
}

// NewInMemoryCampaignRepo constructs a new empty repo.
func NewInMemoryCampaignRepo() *InMemoryCampaignRepo {
	return &InMemoryCampaignRepo{windows: make(map[string][]*models.CampaignWindow)}
}

func (r *InMemoryCampaignRepo) GetWindows(ctx context.Context, campaignUUID string) ([]*models.CampaignWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws := r.windows[campaignUUID]
	res := make([]*models.CampaignWindow, 0, len(ws))
	for _, w := range ws {
		cp := *w
		res = append(res, &cp)
	}
	return res, nil
}

func (r *InMemoryCampaignRepo) UpsertWindow(ctx context.Context, w *models.CampaignWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *w
	for i, existing := range r.windows[w.CampaignUUID] {
		if existing.BillboardUUID == w.BillboardUUID {
			r.windows[w.CampaignUUID][i] = &cp
			return nil
		}
	}
	r.windows[w.CampaignUUID] = append(r.windows[w.CampaignUUID], &cp)
	return nil
}

// InMemoryRollupStore keeps rollups, reach sets and composition entries
// in memory behind a single mutex. One lock per call keeps the
// per-bucket merge atomic, mirroring what the Postgres store gets from
// its upsert.
type InMemoryRollupStore struct {
	mu             sync.RWMutex
	legacyDwellAvg bool

	byKey map[models.BucketKey]*models.ImpressionRollup
	byID  map[string]*models.ImpressionRollup
	reach map[string]map[string]struct{}                 // rollup id -> token set
	comp  map[string]map[models.ObjectType]*models.CompositionEntry
}

// NewInMemoryRollupStore constructs a new empty rollup store.
// legacyDwellAvg switches the dwell merge to the lossy two-value
// average kept for compatibility with the legacy system.
func NewInMemoryRollupStore(legacyDwellAvg bool) *InMemoryRollupStore {
	return &InMemoryRollupStore{
		legacyDwellAvg: legacyDwellAvg,
		byKey:          make(map[models.BucketKey]*models.ImpressionRollup),
		byID:           make(map[string]*models.ImpressionRollup),
		reach:          make(map[string]map[string]struct{}),
		comp:           make(map[string]map[models.ObjectType]*models.CompositionEntry),
	}
}

func (s *InMemoryRollupStore) ApplyDeltas(ctx context.Context, deltas []*models.RollupDelta) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range deltas {
		r, ok := s.byKey[d.Key]
		if !ok {
			r = &models.ImpressionRollup{
				ID:            uuid.NewString(),
				BillboardUUID: d.Key.BillboardUUID,
				Date:          d.Key.Date,
				Hour:          d.Key.Hour,
				CreatedAt:     now,
			}
			s.byKey[d.Key] = r
			s.byID[r.ID] = r
			s.reach[r.ID] = make(map[string]struct{})
			s.comp[r.ID] = make(map[models.ObjectType]*models.CompositionEntry)
		}

		r.Impressions += d.Impressions
		if s.legacyDwellAvg && r.DwellCount > 0 && d.DwellCount > 0 {
			// Lossy legacy merge: average of the stored mean and the
			// incoming batch mean, history down-weighted.
			r.DwellSum = (r.DwellTimeAvg() + d.DwellSum/float64(d.DwellCount)) / 2
			r.DwellCount = 1
		} else {
			r.DwellSum += d.DwellSum
			r.DwellCount += d.DwellCount
		}
		if d.OTS != nil && (r.OTS == nil || d.OTS.Before(*r.OTS)) {
			t := *d.OTS
			r.OTS = &t
		}
		if d.LTS != nil && (r.LTS == nil || d.LTS.After(*r.LTS)) {
			t := *d.LTS
			r.LTS = &t
		}
		r.UpdatedAt = now

		for _, tok := range d.ReachTokens {
			s.reach[r.ID][tok] = struct{}{}
		}
		for ot, n := range d.Composition {
			e, ok := s.comp[r.ID][ot]
			if !ok {
				e = &models.CompositionEntry{RollupID: r.ID, ObjectType: ot}
				s.comp[r.ID][ot] = e
			}
			e.Count += n
			e.UpdatedAt = now
		}
	}
	return nil
}

func (s *InMemoryRollupStore) QueryRollups(ctx context.Context, q RollupQuery) ([]*models.ImpressionRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	billboards := make(map[string]struct{}, len(q.Billboards))
	for _, b := range q.Billboards {
		billboards[b] = struct{}{}
	}
	hours := make(map[int]struct{}, len(q.Hours))
	for _, h := range q.Hours {
		hours[h] = struct{}{}
	}

	var res []*models.ImpressionRollup
	for _, r := range s.byKey {
		if len(billboards) > 0 {
			if _, ok := billboards[r.BillboardUUID]; !ok {
				continue
			}
		}
		if q.DateFrom != nil && r.Date.Before(*q.DateFrom) {
			continue
		}
		if q.DateTo != nil && r.Date.After(*q.DateTo) {
			continue
		}
		if len(hours) > 0 {
			if _, ok := hours[r.Hour]; !ok {
				continue
			}
		}
		cp := *r
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Date.Equal(res[j].Date) {
			return res[i].Date.Before(res[j].Date)
		}
		if res[i].Hour != res[j].Hour {
			return res[i].Hour < res[j].Hour
		}
		return res[i].BillboardUUID < res[j].BillboardUUID
	})
	return res, nil
}

func (s *InMemoryRollupStore) ReachCounts(ctx context.Context, rollupIDs []string) (*ReachCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perBillboard := make(map[string]map[string]struct{})
	all := make(map[string]struct{})
	for _, id := range rollupIDs {
		r, ok := s.byID[id]
		if !ok {
			continue
		}
		set, ok := perBillboard[r.BillboardUUID]
		if !ok {
			set = make(map[string]struct{})
			perBillboard[r.BillboardUUID] = set
		}
		for tok := range s.reach[id] {
			set[tok] = struct{}{}
			all[tok] = struct{}{}
		}
	}

	counts := &ReachCounts{
		PerBillboard: make(map[string]int64, len(perBillboard)),
		Distinct:     int64(len(all)),
	}
	for b, set := range perBillboard {
		counts.PerBillboard[b] = int64(len(set))
	}
	return counts, nil
}

func (s *InMemoryRollupStore) CompositionFor(ctx context.Context, rollupIDs []string) (map[models.ObjectType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[models.ObjectType]int64)
	for _, id := range rollupIDs {
		for ot, e := range s.comp[id] {
			res[ot] += e.Count
		}
	}
	return res, nil
}

func (s *InMemoryRollupStore) PurgeBillboards(ctx context.Context, billboardUUIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := make(map[string]struct{}, len(billboardUUIDs))
	for _, b := range billboardUUIDs {
		target[b] = struct{}{}
	}

	var purged int64
	for key, r := range s.byKey {
		if _, ok := target[r.BillboardUUID]; !ok {
			continue
		}
		delete(s.byKey, key)
		delete(s.byID, r.ID)
		delete(s.reach, r.ID)
		delete(s.comp, r.ID)
		purged++
	}
	return purged, nil
}

// InMemoryDetectionStore stages detections in memory with a sequential
// ID acting as the drain cursor.
type InMemoryDetectionStore struct {
	mu        sync.Mutex
	nextID    int64
	rows      []*models.Detection
	watermark int64
}

// NewInMemoryDetectionStore constructs a new empty staging store.
func NewInMemoryDetectionStore() *InMemoryDetectionStore {
	return &InMemoryDetectionStore{}
}

func (s *InMemoryDetectionStore) Stage(ctx context.Context, ds []*models.Detection) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range ds {
		cp := *d
		s.nextID++
		cp.ID = s.nextID
		cp.CreatedAt = now
		d.ID = cp.ID
		s.rows = append(s.rows, &cp)
	}
	return nil
}

func (s *InMemoryDetectionStore) PageAfter(ctx context.Context, afterID int64, limit int) ([]*models.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*models.Detection
	for _, d := range s.rows {
		if d.ID <= afterID {
			continue
		}
		cp := *d
		res = append(res, &cp)
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res, nil
}

func (s *InMemoryDetectionStore) DeleteThrough(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, d := range s.rows {
		if d.ID > id {
			kept = append(kept, d)
		}
	}
	s.rows = kept
	return nil
}

func (s *InMemoryDetectionStore) Watermark(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, nil
}

func (s *InMemoryDetectionStore) SetWatermark(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.watermark {
		s.watermark = id
	}
	return nil
}
