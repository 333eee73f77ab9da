package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/braincount/impression-engine/internal/aggregate"
	"github.com/braincount/impression-engine/internal/models"
	"github.com/braincount/impression-engine/internal/storage"
)

type recordingArchive struct {
	mu   sync.Mutex
	rows []*models.Detection
}

func (a *recordingArchive) Archive(ctx context.Context, ds []*models.Detection) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, ds...)
	return nil
}

func newTestJob(t *testing.T, archive storage.DetectionArchive, pageSize int) (*DrainJob, *storage.InMemoryDetectionStore, *storage.InMemoryRollupStore, *storage.InMemoryBillboardRepo) {
	t.Helper()
	detections := storage.NewInMemoryDetectionStore()
	rollups := storage.NewInMemoryRollupStore(false)
	billboards := storage.NewInMemoryBillboardRepo()
	agg := aggregate.NewAggregator(rollups, billboards, nil, nil, zap.NewNop(), 0)
	job := NewDrainJob(detections, agg, archive, nil, zap.NewNop(), time.Hour, pageSize)
	return job, detections, rollups, billboards
}

func stageDetections(t *testing.T, s *storage.InMemoryDetectionStore, billboard string, n int) {
	t.Helper()
	entry := time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)
	var ds []*models.Detection
	for i := 0; i < n; i++ {
		ds = append(ds, &models.Detection{
			BillboardUUID: billboard,
			ObjectType:    models.ObjectCar,
			EntryTime:     entry,
			ExitTime:      entry.Add(10 * time.Second),
			DwellSeconds:  10,
			ReachTokens:   []string{"tok"},
		})
	}
	require.NoError(t, s.Stage(context.Background(), ds))
}

func TestRunOnceDrainsAllPages(t *testing.T) {
	archive := &recordingArchive{}
	job, detections, rollups, billboards := newTestJob(t, archive, 4)
	ctx := context.Background()

	require.NoError(t, billboards.Upsert(ctx, &models.Billboard{UUID: "bb-1", Title: "BB"}))
	stageDetections(t, detections, "bb-1", 10)

	require.NoError(t, job.RunOnce(ctx))

	rs, err := rollups.QueryRollups(ctx, storage.RollupQuery{Billboards: []string{"bb-1"}})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, int64(10), rs[0].Impressions)

	wm, err := detections.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), wm)

	page, err := detections.PageAfter(ctx, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, page, "drained rows are deleted from staging")

	assert.Len(t, archive.rows, 10)
}

func TestRunOnceIdempotentRerun(t *testing.T) {
	job, detections, rollups, billboards := newTestJob(t, nil, 100)
	ctx := context.Background()

	require.NoError(t, billboards.Upsert(ctx, &models.Billboard{UUID: "bb-1", Title: "BB"}))
	stageDetections(t, detections, "bb-1", 5)

	require.NoError(t, job.RunOnce(ctx))
	require.NoError(t, job.RunOnce(ctx))

	rs, err := rollups.QueryRollups(ctx, storage.RollupQuery{Billboards: []string{"bb-1"}})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, int64(5), rs[0].Impressions, "an empty rerun folds nothing twice")
}

func TestRunOncePicksUpNewRows(t *testing.T) {
	job, detections, rollups, billboards := newTestJob(t, nil, 100)
	ctx := context.Background()

	require.NoError(t, billboards.Upsert(ctx, &models.Billboard{UUID: "bb-1", Title: "BB"}))
	stageDetections(t, detections, "bb-1", 3)
	require.NoError(t, job.RunOnce(ctx))

	stageDetections(t, detections, "bb-1", 2)
	require.NoError(t, job.RunOnce(ctx))

	rs, err := rollups.QueryRollups(ctx, storage.RollupQuery{Billboards: []string{"bb-1"}})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, int64(5), rs[0].Impressions)
}

func TestRunOnceEmptyStaging(t *testing.T) {
	job, _, _, _ := newTestJob(t, nil, 100)
	require.NoError(t, job.RunOnce(context.Background()))
}

func TestRunCancellation(t *testing.T) {
	job, _, _, _ := newTestJob(t, nil, 100)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		job.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain job did not stop on cancellation")
	}
}
