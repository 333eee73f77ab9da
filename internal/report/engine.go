package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/braincount/impression-engine/internal/models"
	"github.com/braincount/impression-engine/internal/storage"
)

var (
	// ErrMissingCampaign is returned when a report query carries no
	// campaign identifier.
	ErrMissingCampaign = errors.New("campaign uuid is required")

	// ErrNoData is returned when the filtered rollup set is empty. It
	// is an empty-result signal, not a failure.
	ErrNoData = errors.New("no impressions found")
)

// DatePoint is one entry of the date-wise series.
type DatePoint struct {
	Date        string `json:"date"`
	Impressions int64  `json:"impressions"`
}

// HourPoint is one entry of the hour-wise series, merged across
// billboards.
type HourPoint struct {
	Hour        int   `json:"hour"`
	Impressions int64 `json:"impressions"`
}

// BillboardSummary is one entry of the billboard-wise breakdown. Reach
// is the distinct reach-token count for the billboard within the
// filtered window.
type BillboardSummary struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title,omitempty"`
	Impressions int64  `json:"impressions"`
	Reach       int64  `json:"reach"`
}

// VehicleCount is one entry of the object-type composition breakdown.
type VehicleCount struct {
	ObjectType string `json:"vehicle_type"`
	Count      int64  `json:"vehicle_count"`
}

// CardData is the headline summary block of a report.
type CardData struct {
	OTS              *time.Time `json:"ots,omitempty"`
	LTS              *time.Time `json:"lts,omitempty"`
	AvgDwellTime     float64    `json:"avg_dwalltime"`
	TotalFrequency   int64      `json:"total_frequency"`
	TotalImpressions int64      `json:"total_impressions"`
	TotalBillboards  int        `json:"total_billboards"`
	TotalDates       int        `json:"total_date"`
}

// Report is the structured payload of a report query.
type Report struct {
	TotalImpressions int64                       `json:"total_impressions"`
	DateWise         []DatePoint                 `json:"date_wise_data"`
	HourWise         []HourPoint                 `json:"hour_wise_impressions"`
	LocationWise     map[string]int64            `json:"location_wise"`
	AreaWise         map[string]map[string]int64 `json:"area_wise"`
	BillboardWise    []BillboardSummary          `json:"billboard_wise_data"`
	VehicleData      []VehicleCount              `json:"vehicale_data"`
	CardData         CardData                    `json:"card_data"`
}

// Engine computes campaign reports from the rollup store. It holds only
// the read-only view of the store.
type Engine struct {
	rollups    storage.RollupReader
	billboards storage.BillboardRepo
	campaigns  storage.CampaignRepo
	logger     *zap.Logger
}

func NewEngine(rollups storage.RollupReader, billboards storage.BillboardRepo, campaigns storage.CampaignRepo, logger *zap.Logger) *Engine {
	return &Engine{
		rollups:    rollups,
		billboards: billboards,
		campaigns:  campaigns,
		logger:     logger,
	}
}

// Compute resolves the campaign's billboard windows, selects matching
// rollups in one bulk read and folds the report in memory.
func (e *Engine) Compute(ctx context.Context, q *Query) (*Report, error) {
	if q == nil || q.CampaignUUID == "" {
		return nil, ErrMissingCampaign
	}

	// A non-nil empty hour set means the hour range and the named slots
	// intersect to nothing; no rollup can match.
	hours := q.Hours()
	if hours != nil && len(hours) == 0 {
		return nil, ErrNoData
	}

	windows, err := e.campaigns.GetWindows(ctx, q.CampaignUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign windows: %w", err)
	}
	if len(windows) == 0 {
		return nil, ErrNoData
	}

	billboards, err := e.resolveBillboards(ctx, windows, q)
	if err != nil {
		return nil, err
	}
	if len(billboards) == 0 {
		return nil, ErrNoData
	}

	uuids := make([]string, 0, len(billboards))
	windowsByBillboard := make(map[string][]*models.CampaignWindow)
	for _, w := range windows {
		if _, ok := billboards[w.BillboardUUID]; ok {
			windowsByBillboard[w.BillboardUUID] = append(windowsByBillboard[w.BillboardUUID], w)
		}
	}
	for uuid := range billboards {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	rollups, err := e.rollups.QueryRollups(ctx, storage.RollupQuery{
		Billboards: uuids,
		DateFrom:   q.DateFrom,
		DateTo:     q.DateTo,
		Hours:      hours,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}

	// Window-level date filtering: a rollup counts only when its date
	// falls inside one of its billboard's windows.
	matched := rollups[:0]
	for _, r := range rollups {
		for _, w := range windowsByBillboard[r.BillboardUUID] {
			if w.Contains(r.Date) {
				matched = append(matched, r)
				break
			}
		}
	}
	if len(matched) == 0 {
		return nil, ErrNoData
	}

	rollupIDs := make([]string, len(matched))
	for i, r := range matched {
		rollupIDs[i] = r.ID
	}

	reach, err := e.rollups.ReachCounts(ctx, rollupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count reach: %w", err)
	}
	composition, err := e.rollups.CompositionFor(ctx, rollupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load composition: %w", err)
	}

	return fold(matched, billboards, reach, composition), nil
}

// resolveBillboards loads the campaign's billboards and applies the
// location and billboard-type filters.
func (e *Engine) resolveBillboards(ctx context.Context, windows []*models.CampaignWindow, q *Query) (map[string]*models.Billboard, error) {
	locFilter := toLowerSet(q.Locations)
	typeFilter := toLowerSet(q.BillboardTypes)

	out := make(map[string]*models.Billboard)
	for _, w := range windows {
		if _, seen := out[w.BillboardUUID]; seen {
			continue
		}
		b, err := e.billboards.GetByUUID(ctx, w.BillboardUUID)
		if err != nil {
			return nil, fmt.Errorf("failed to load billboard %s: %w", w.BillboardUUID, err)
		}
		if b == nil {
			e.logger.Warn("campaign window references unknown billboard",
				zap.String("campaign_uuid", w.CampaignUUID),
				zap.String("billboard_uuid", w.BillboardUUID))
			continue
		}
		if locFilter != nil && !locFilter[strings.ToLower(b.Location)] {
			continue
		}
		if typeFilter != nil && !typeFilter[strings.ToLower(string(b.BillboardType))] {
			continue
		}
		out[b.UUID] = b
	}
	return out, nil
}

func fold(rollups []*models.ImpressionRollup, billboards map[string]*models.Billboard, reach *storage.ReachCounts, composition map[models.ObjectType]int64) *Report {
	rep := &Report{
		LocationWise: make(map[string]int64),
		AreaWise:     make(map[string]map[string]int64),
	}

	byDate := make(map[string]int64)
	byHour := make(map[int]int64)
	byBillboard := make(map[string]int64)

	var dwellSum float64
	var dwellCount int64
	var otsSum, ltsSum int64
	var otsN, ltsN int64

	for _, r := range rollups {
		rep.TotalImpressions += r.Impressions
		byDate[r.Date.Format(dateLayout)] += r.Impressions
		byHour[r.Hour] += r.Impressions
		byBillboard[r.BillboardUUID] += r.Impressions

		dwellSum += r.DwellSum
		dwellCount += r.DwellCount
		if r.OTS != nil {
			otsSum += r.OTS.Unix()
			otsN++
		}
		if r.LTS != nil {
			ltsSum += r.LTS.Unix()
			ltsN++
		}

		if b := billboards[r.BillboardUUID]; b != nil {
			if b.Location != "" {
				rep.LocationWise[b.Location] += r.Impressions
			}
			if b.TownClass != "" {
				sub := rep.AreaWise[b.TownClass]
				if sub == nil {
					sub = make(map[string]int64)
					rep.AreaWise[b.TownClass] = sub
				}
				sub[b.SubLocation] += r.Impressions
			}
		}
	}

	for date, imps := range byDate {
		rep.DateWise = append(rep.DateWise, DatePoint{Date: date, Impressions: imps})
	}
	sort.Slice(rep.DateWise, func(i, j int) bool { return rep.DateWise[i].Date < rep.DateWise[j].Date })

	for hour, imps := range byHour {
		rep.HourWise = append(rep.HourWise, HourPoint{Hour: hour, Impressions: imps})
	}
	sort.Slice(rep.HourWise, func(i, j int) bool { return rep.HourWise[i].Hour < rep.HourWise[j].Hour })

	for uuid, imps := range byBillboard {
		entry := BillboardSummary{UUID: uuid, Impressions: imps}
		if b := billboards[uuid]; b != nil {
			entry.Title = b.Title
		}
		if reach != nil {
			entry.Reach = reach.PerBillboard[uuid]
		}
		rep.BillboardWise = append(rep.BillboardWise, entry)
	}
	sort.Slice(rep.BillboardWise, func(i, j int) bool { return rep.BillboardWise[i].UUID < rep.BillboardWise[j].UUID })

	types := make([]models.ObjectType, 0, len(composition))
	for t := range composition {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		rep.VehicleData = append(rep.VehicleData, VehicleCount{ObjectType: string(t), Count: composition[t]})
	}

	rep.CardData = CardData{
		TotalImpressions: rep.TotalImpressions,
		TotalBillboards:  len(byBillboard),
		TotalDates:       len(byDate),
	}
	if dwellCount > 0 {
		rep.CardData.AvgDwellTime = dwellSum / float64(dwellCount)
	}
	if reach != nil {
		rep.CardData.TotalFrequency = reach.Distinct
	}
	if otsN > 0 {
		t := time.Unix(otsSum/otsN, 0).UTC()
		rep.CardData.OTS = &t
	}
	if ltsN > 0 {
		t := time.Unix(ltsSum/ltsN, 0).UTC()
		rep.CardData.LTS = &t
	}
	return rep
}

func toLowerSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = true
	}
	return set
}
