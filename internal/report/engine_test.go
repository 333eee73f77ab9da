package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/braincount/impression-engine/internal/models"
	"github.com/braincount/impression-engine/internal/storage"
)

type fixture struct {
	engine     *Engine
	rollups    *storage.InMemoryRollupStore
	billboards *storage.InMemoryBillboardRepo
	campaigns  *storage.InMemoryCampaignRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rollups:    storage.NewInMemoryRollupStore(false),
		billboards: storage.NewInMemoryBillboardRepo(),
		campaigns:  storage.NewInMemoryCampaignRepo(),
	}
	f.engine = NewEngine(f.rollups, f.billboards, f.campaigns, zap.NewNop())
	return f
}

func (f *fixture) addBillboard(t *testing.T, uuid, location, townClass, subLocation string, bt models.BillboardType) {
	t.Helper()
	require.NoError(t, f.billboards.Upsert(context.Background(), &models.Billboard{
		UUID:          uuid,
		Title:         "Billboard " + uuid,
		Location:      location,
		TownClass:     townClass,
		SubLocation:   subLocation,
		BillboardType: bt,
	}))
}

func (f *fixture) addWindow(t *testing.T, campaign, billboard string, start, end time.Time) {
	t.Helper()
	require.NoError(t, f.campaigns.UpsertWindow(context.Background(), &models.CampaignWindow{
		CampaignUUID:  campaign,
		BillboardUUID: billboard,
		StartTime:     start,
		EndTime:       end,
	}))
}

func (f *fixture) addRollup(t *testing.T, billboard string, date time.Time, hour int, impressions int64, dwellSum float64, dwellCount int64, objectType models.ObjectType, tokens ...string) {
	t.Helper()
	ots := date.Add(time.Duration(hour) * time.Hour)
	lts := ots.Add(30 * time.Minute)
	err := f.rollups.ApplyDeltas(context.Background(), []*models.RollupDelta{{
		Key:         models.BucketKey{BillboardUUID: billboard, Date: date, Hour: hour},
		Impressions: impressions,
		DwellSum:    dwellSum,
		DwellCount:  dwellCount,
		OTS:         &ots,
		LTS:         &lts,
		ReachTokens: tokens,
		Composition: map[models.ObjectType]int64{objectType: impressions},
	}})
	require.NoError(t, err)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeMissingCampaign(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Compute(context.Background(), nil)
	require.ErrorIs(t, err, ErrMissingCampaign)

	_, err = f.engine.Compute(context.Background(), &Query{})
	require.ErrorIs(t, err, ErrMissingCampaign)
}

func TestComputeNoWindows(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Compute(context.Background(), &Query{CampaignUUID: "camp-1"})
	require.ErrorIs(t, err, ErrNoData)
}

func TestComputeWindowExcludesRollups(t *testing.T) {
	f := newFixture(t)
	f.addBillboard(t, "bb-1", "Dhaka", "Metro", "Gulshan", models.BillboardLED)
	f.addWindow(t, "camp-1", "bb-1", day(2024, 1, 1), day(2024, 1, 31))
	f.addRollup(t, "bb-1", day(2024, 2, 1), 10, 5, 50, 5, models.ObjectCar, "a")

	_, err := f.engine.Compute(context.Background(), &Query{CampaignUUID: "camp-1"})
	require.ErrorIs(t, err, ErrNoData)
}

func TestComputeWindowEndExclusive(t *testing.T) {
	f := newFixture(t)
	f.addBillboard(t, "bb-1", "Dhaka", "Metro", "Gulshan", models.BillboardLED)
	f.addWindow(t, "camp-1", "bb-1", day(2024, 1, 1), day(2024, 1, 31))
	f.addRollup(t, "bb-1", day(2024, 1, 31), 10, 5, 50, 5, models.ObjectCar)

	_, err := f.engine.Compute(context.Background(), &Query{CampaignUUID: "camp-1"})
	require.ErrorIs(t, err, ErrNoData, "window end date is exclusive")
}

func TestComputeTwoBillboards(t *testing.T) {
	f := newFixture(t)
	f.addBillboard(t, "bb-1", "Dhaka", "Metro", "Gulshan", models.BillboardLED)
	f.addBillboard(t, "bb-2", "Chattogram", "Metro", "Agrabad", models.BillboardDigital)
	f.addWindow(t, "camp-1", "bb-1", day(2024, 1, 1), day(2024, 2, 1))
	f.addWindow(t, "camp-1", "bb-2", day(2024, 1, 1), day(2024, 2, 1))
	f.addRollup(t, "bb-1", day(2024, 1, 10), 8, 5, 50, 5, models.ObjectCar, "a", "b")
	f.addRollup(t, "bb-2", day(2024, 1, 10), 9, 5, 25, 5, models.ObjectPerson, "b", "c")

	rep, err := f.engine.Compute(context.Background(), &Query{CampaignUUID: "camp-1"})
	require.NoError(t, err)

	assert.Equal(t, int64(10), rep.TotalImpressions)
	require.Len(t, rep.BillboardWise, 2)
	assert.Equal(t, int64(5), rep.BillboardWise[0].Impressions)
	assert.Equal(t, int64(5), rep.BillboardWise[1].Impressions)
	require.Len(t, rep.DateWise, 1)
	assert.Equal(t, int64(10), rep.DateWise[0].Impressions)

	// Per-billboard reach is distinct tokens, total frequency counts
	// the shared token once.
	assert.Equal(t, int64(2), rep.BillboardWise[0].Reach)
	assert.Equal(t, int64(2), rep.BillboardWise[1].Reach)
	assert.Equal(t, int64(3), rep.CardData.TotalFrequency)
}

func TestComputeDecomposition(t *testing.T) {
	f := newFixture(t)
	f.addBillboard(t, "bb-1", "Dhaka", "Metro", "Gulshan", models.BillboardLED)
	f.addBillboard(t, "bb-2", "Dhaka", "Metro", "Banani", models.BillboardDigital)
	f.addWindow(t, "camp-1", "bb-1", day(2024, 1, 1), day(2024, 3, 1))
	f.addWindow(t, "camp-1", "bb-2", day(2024, 1, 1), day(2024, 3, 1))
	f.addRollup(t, "bb-1", day(2024, 1, 10), 6, 7, 70, 7, models.ObjectCar, "a")
	f.addRollup(t, "bb-1", day(2024, 1, 11), 9, 4, 40, 4, models.ObjectBus, "b")
	f.addRollup(t, "bb-2", day(2024, 1, 10), 14, 3, 30, 3, models.ObjectPerson, "c")

	rep, err := f.engine.Compute(context.Background(), &Query{CampaignUUID: "camp-1"})
	require.NoError(t, err)

	var dateSum, billboardSum, hourSum, vehicleSum int64
	for _, p := range rep.DateWise {
		dateSum += p.Impressions
	}
	for _, p := range rep.HourWise {
		hourSum += p.Impressions
	}
	for _, b := range rep.BillboardWise {
		billboardSum += b.Impressions
	}
	for _, v := range rep.VehicleData {
		vehicleSum += v.Count
	}
	assert.Equal(t, rep.TotalImpressions, dateSum)
	assert.Equal(t, rep.TotalImpressions, hourSum)
	assert.Equal(t, rep.TotalImpressions, billboardSum)
	assert.Equal(t, rep.TotalImpressions, vehicleSum)

	assert.Equal(t, int64(14), rep.LocationWise["Dhaka"])
	assert.Equal(t, int64(11), rep.AreaWise["Metro"]["Gulshan"])
	assert.Equal(t, int64(3), rep.AreaWise["Metro"]["Banani"])
	assert.Equal(t, 2, rep.CardData.TotalBillboards)
	assert.Equal(t, 2, rep.CardData.TotalDates)
	// Mean dwell over all samples: (70+40+30)/(7+4+3)
	assert.InDelta(t, 10.0, rep.CardData.AvgDwellTime, 0.001)
	require.NotNil(t, rep.CardData.OTS)
	require.NotNil(t, rep.CardData.LTS)
	assert.True(t, rep.CardData.OTS.Before(*rep.CardData.LTS))
}

func TestComputeHourAndSlotFilters(t *testing.T) {
	f := newFixture(t)
	f.addBillboard(t, "bb-1", "Dhaka", "Metro", "Gulshan", models.BillboardLED)
	f.addWindow(t, "camp-1", "bb-1", day(2024, 1, 1), day(2024, 2, 1))
	f.addRollup(t, "bb-1", day(2024, 1, 10), 6, 1, 10, 1, models.ObjectCar)
	f.addRollup(t, "bb-1", day(2024, 1, 10), 10, 2, 10, 1, models.ObjectCar)
	f.addRollup(t, "bb-1", day(2024, 1, 10), 18, 4, 10, 1, models.ObjectCar)

	rep, err := f.engine.Compute(context.Background(), &Query{
		CampaignUUID: "camp-1",
		TimeSlots:    []string{"morning"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.TotalImpressions)

	from, to := 0, 12
	rep, err = f.engine.Compute(context.Background(), &Query{
		CampaignUUID: "camp-1",
		HourFrom:     &from,
		HourTo:       &to,
		TimeSlots:    []string{"morning", "evening"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.TotalImpressions, "hour range intersects slots")
}

func TestComputeEmptyHourIntersection(t *testing.T) {
	f := newFixture(t)
	f.addBillboard(t, "bb-1", "Dhaka", "Metro", "Gulshan", models.BillboardLED)
	f.addWindow(t, "camp-1", "bb-1", day(2024, 1, 1), day(2024, 2, 1))
	f.addRollup(t, "bb-1", day(2024, 1, 10), 10, 5, 50, 5, models.ObjectCar)

	// Range 0-4 and the evening slot share no hours; nothing can match,
	// so the result must not fall back to an unfiltered read.
	from, to := 0, 4
	_, err := f.engine.Compute(context.Background(), &Query{
		CampaignUUID: "camp-1",
		HourFrom:     &from,
		HourTo:       &to,
		TimeSlots:    []string{"evening"},
	})
	require.ErrorIs(t, err, ErrNoData)

	// An unknown slot name resolves to no hours at all.
	_, err = f.engine.Compute(context.Background(), &Query{
		CampaignUUID: "camp-1",
		TimeSlots:    []string{"midnight"},
	})
	require.ErrorIs(t, err, ErrNoData)
}

func TestComputeLocationAndTypeFilters(t *testing.T) {
	f := newFixture(t)
	f.addBillboard(t, "bb-1", "Dhaka", "Metro", "Gulshan", models.BillboardLED)
	f.addBillboard(t, "bb-2", "Chattogram", "Metro", "Agrabad", models.BillboardStatic)
	f.addWindow(t, "camp-1", "bb-1", day(2024, 1, 1), day(2024, 2, 1))
	f.addWindow(t, "camp-1", "bb-2", day(2024, 1, 1), day(2024, 2, 1))
	f.addRollup(t, "bb-1", day(2024, 1, 10), 6, 1, 10, 1, models.ObjectCar)
	f.addRollup(t, "bb-2", day(2024, 1, 10), 6, 3, 10, 1, models.ObjectCar)

	rep, err := f.engine.Compute(context.Background(), &Query{
		CampaignUUID: "camp-1",
		Locations:    []string{"dhaka"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.TotalImpressions)

	rep, err = f.engine.Compute(context.Background(), &Query{
		CampaignUUID:   "camp-1",
		BillboardTypes: []string{"static"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rep.TotalImpressions)

	_, err = f.engine.Compute(context.Background(), &Query{
		CampaignUUID: "camp-1",
		Locations:    []string{"Sylhet"},
	})
	require.ErrorIs(t, err, ErrNoData)
}

func TestComputeDateFilters(t *testing.T) {
	f := newFixture(t)
	f.addBillboard(t, "bb-1", "Dhaka", "Metro", "Gulshan", models.BillboardLED)
	f.addWindow(t, "camp-1", "bb-1", day(2024, 1, 1), day(2024, 3, 1))
	f.addRollup(t, "bb-1", day(2024, 1, 10), 6, 1, 10, 1, models.ObjectCar)
	f.addRollup(t, "bb-1", day(2024, 1, 20), 6, 2, 10, 1, models.ObjectCar)

	from := day(2024, 1, 15)
	rep, err := f.engine.Compute(context.Background(), &Query{
		CampaignUUID: "camp-1",
		DateFrom:     &from,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.TotalImpressions)

	to := day(2024, 1, 15)
	rep, err = f.engine.Compute(context.Background(), &Query{
		CampaignUUID: "camp-1",
		DateTo:       &to,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.TotalImpressions)
}
