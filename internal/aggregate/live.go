package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/braincount/impression-engine/internal/models"
)

const liveCounterTTL = 48 * time.Hour

// LiveCounters maintains per-billboard daily counters in Redis so the
// live stats endpoint can answer without touching the rollup store.
type LiveCounters struct {
	client *redis.Client
	logger *zap.Logger
}

// LiveStats is a snapshot of today's counters for one billboard.
type LiveStats struct {
	BillboardUUID string `json:"billboard_uuid"`
	Date          string `json:"date"`
	Impressions   int64  `json:"impressions"`
	Reach         int64  `json:"reach"`
}

func NewLiveCounters(client *redis.Client, logger *zap.Logger) *LiveCounters {
	return &LiveCounters{client: client, logger: logger}
}

func impressionsKey(billboardUUID string, date time.Time) string {
	return fmt.Sprintf("live:imps:%s:%s", billboardUUID, date.Format("2006-01-02"))
}

func reachKey(billboardUUID string, date time.Time) string {
	return fmt.Sprintf("live:reach:%s:%s", billboardUUID, date.Format("2006-01-02"))
}

// Update folds applied deltas into the live counters. Failures are
// logged and swallowed; live counters are advisory.
func (lc *LiveCounters) Update(ctx context.Context, deltas []*models.RollupDelta) {
	if lc == nil || lc.client == nil {
		return
	}

	pipe := lc.client.Pipeline()
	for _, d := range deltas {
		impKey := impressionsKey(d.Key.BillboardUUID, d.Key.Date)
		pipe.IncrBy(ctx, impKey, d.Impressions)
		pipe.Expire(ctx, impKey, liveCounterTTL)

		if len(d.ReachTokens) > 0 {
			rKey := reachKey(d.Key.BillboardUUID, d.Key.Date)
			members := make([]interface{}, len(d.ReachTokens))
			for i, tok := range d.ReachTokens {
				members[i] = tok
			}
			pipe.SAdd(ctx, rKey, members...)
			pipe.Expire(ctx, rKey, liveCounterTTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		lc.logger.Warn("failed to update live counters", zap.Error(err))
	}
}

// Snapshot reads today's counters for one billboard.
func (lc *LiveCounters) Snapshot(ctx context.Context, billboardUUID string, date time.Time) (*LiveStats, error) {
	if lc == nil || lc.client == nil {
		return nil, fmt.Errorf("live counters not configured")
	}

	pipe := lc.client.Pipeline()
	impCmd := pipe.Get(ctx, impressionsKey(billboardUUID, date))
	reachCmd := pipe.SCard(ctx, reachKey(billboardUUID, date))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read live counters: %w", err)
	}

	stats := &LiveStats{
		BillboardUUID: billboardUUID,
		Date:          date.Format("2006-01-02"),
	}
	if imps, err := impCmd.Int64(); err == nil {
		stats.Impressions = imps
	}
	stats.Reach = reachCmd.Val()
	return stats, nil
}
