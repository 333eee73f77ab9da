package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/braincount/impression-engine/internal/aggregate"
	"github.com/braincount/impression-engine/internal/metrics"
	"github.com/braincount/impression-engine/internal/storage"
)

// DrainJob periodically folds staged detections into rollups. The
// persisted watermark makes runs resumable and re-runs idempotent: a
// page is only deleted after its deltas committed and the watermark
// advanced past it.
type DrainJob struct {
	detections storage.DetectionStore
	aggregator *aggregate.Aggregator
	archive    storage.DetectionArchive
	metrics    *metrics.Metrics
	logger     *zap.Logger
	interval   time.Duration
	pageSize   int
}

// NewDrainJob creates a drain job. archive may be nil to disable
// archiving.
func NewDrainJob(detections storage.DetectionStore, aggregator *aggregate.Aggregator, archive storage.DetectionArchive, m *metrics.Metrics, logger *zap.Logger, interval time.Duration, pageSize int) *DrainJob {
	return &DrainJob{
		detections: detections,
		aggregator: aggregator,
		archive:    archive,
		metrics:    m,
		logger:     logger,
		interval:   interval,
		pageSize:   pageSize,
	}
}

// Run drains on a fixed interval until the context is cancelled. One
// drain runs immediately on start so a restart does not wait a full
// interval to catch up.
func (j *DrainJob) Run(ctx context.Context) {
	j.logger.Info("drain job started",
		zap.Duration("interval", j.interval),
		zap.Int("page_size", j.pageSize))

	if err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("drain run failed", zap.Error(err))
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("drain job stopped")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("drain run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce drains all staged detections past the watermark, one page at
// a time. A failing page aborts the run; already-committed pages stay
// committed.
func (j *DrainJob) RunOnce(ctx context.Context) error {
	start := time.Now()
	watermark, err := j.detections.Watermark(ctx)
	if err != nil {
		j.recordRun("error")
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	var drained int
	for {
		page, err := j.detections.PageAfter(ctx, watermark, j.pageSize)
		if err != nil {
			j.recordRun("error")
			return fmt.Errorf("failed to page detections after %d: %w", watermark, err)
		}
		if len(page) == 0 {
			break
		}

		events := make([]aggregate.Event, len(page))
		for i, d := range page {
			events[i] = aggregate.FromDetection(d)
		}
		result, err := j.aggregator.ProcessBatch(ctx, events)
		if err != nil {
			j.recordRun("error")
			return fmt.Errorf("failed to aggregate page after %d: %w", watermark, err)
		}
		if len(result.Failed) > 0 {
			j.logger.Warn("drain page had failed events",
				zap.Int64("after_id", watermark),
				zap.Int("failed", len(result.Failed)))
		}

		// Archive before deletion; the archive is an advisory audit
		// sink and must not block the drain.
		if j.archive != nil {
			if err := j.archive.Archive(ctx, page); err != nil {
				j.logger.Warn("failed to archive drained detections", zap.Error(err))
			} else if j.metrics != nil {
				j.metrics.DetectionsArchived.Add(float64(len(page)))
			}
		}

		lastID := page[len(page)-1].ID
		if err := j.detections.SetWatermark(ctx, lastID); err != nil {
			j.recordRun("error")
			return fmt.Errorf("failed to advance watermark to %d: %w", lastID, err)
		}
		if err := j.detections.DeleteThrough(ctx, lastID); err != nil {
			j.recordRun("error")
			return fmt.Errorf("failed to delete drained detections through %d: %w", lastID, err)
		}

		watermark = lastID
		drained += len(page)
		if j.metrics != nil {
			j.metrics.DetectionsDrained.Add(float64(len(page)))
		}
	}

	j.recordRun("ok")
	if drained > 0 {
		j.logger.Info("drain run completed",
			zap.Int("drained", drained),
			zap.Int64("watermark", watermark),
			zap.Duration("took", time.Since(start)))
	}
	return nil
}

func (j *DrainJob) recordRun(status string) {
	if j.metrics != nil {
		j.metrics.DrainRuns.WithLabelValues(status).Inc()
	}
}
