package storage

import (
	"context"
	"time"

	"github.com/braincount/impression-engine/internal/models"
)

// =============================================
// BILLBOARD REPOSITORY
// =============================================

// BillboardRepo defines operations for billboard reference data.
type BillboardRepo interface {
	ListAll(ctx context.Context) ([]*models.Billboard, error)
	GetByUUID(ctx context.Context, uuid string) (*models.Billboard, error)
	Upsert(ctx context.Context, b *models.Billboard) error
}

// =============================================
// CAMPAIGN REPOSITORY
// =============================================

// CampaignRepo defines operations for campaign-billboard windows. The
// core only reads windows; the upsert exists for reference-data
// administration, not for the approval workflow.
type CampaignRepo interface {
	GetWindows(ctx context.Context, campaignUUID string) ([]*models.CampaignWindow, error)
	UpsertWindow(ctx context.Context, w *models.CampaignWindow) error
}

// =============================================
// ROLLUP STORE
// =============================================

// RollupQuery selects rollups for the report engine. Nil bounds and a
// zero-length hour set mean "no restriction"; callers with an hour filter
// that matches nothing must not query at all. Window-level date filtering
// is applied by the engine on top of the bulk read.
type RollupQuery struct {
	Billboards []string
	DateFrom   *time.Time
	DateTo     *time.Time
	Hours      []int
}

// ReachCounts holds distinct reach-token tallies over a rollup set.
type ReachCounts struct {
	PerBillboard map[string]int64
	Distinct     int64
}

// RollupReader is the read-only view of aggregated data. The report
// engine depends on this interface and must never be handed the write
// side.
type RollupReader interface {
	QueryRollups(ctx context.Context, q RollupQuery) ([]*models.ImpressionRollup, error)
	ReachCounts(ctx context.Context, rollupIDs []string) (*ReachCounts, error)
	CompositionFor(ctx context.Context, rollupIDs []string) (map[models.ObjectType]int64, error)
}

// RollupStore owns the durable aggregates: hourly rollups, their reach
// token sets and composition entries.
type RollupStore interface {
	RollupReader

	// ApplyDeltas merges one delta per bucket into the store. The
	// merge is additive and atomic per bucket: counters increment,
	// dwell sum/count accumulate, OTS takes the minimum, LTS the
	// maximum, and reach tokens are registered with set semantics.
	ApplyDeltas(ctx context.Context, deltas []*models.RollupDelta) error

	// PurgeBillboards deletes all rollups (with reach and composition
	// children) for the given billboards. Administrative only.
	PurgeBillboards(ctx context.Context, billboardUUIDs []string) (int64, error)
}

// =============================================
// DETECTION STAGING
// =============================================

// DetectionStore stages raw perception-pipeline rows until the drain
// job folds them into rollups. ID ordering is the drain cursor.
type DetectionStore interface {
	Stage(ctx context.Context, ds []*models.Detection) error
	PageAfter(ctx context.Context, afterID int64, limit int) ([]*models.Detection, error)
	DeleteThrough(ctx context.Context, id int64) error

	Watermark(ctx context.Context) (int64, error)
	SetWatermark(ctx context.Context, id int64) error
}

// DetectionArchive receives drained detections before they are deleted
// from staging. Optional; a nil archive disables archiving.
type DetectionArchive interface {
	Archive(ctx context.Context, ds []*models.Detection) error
}
