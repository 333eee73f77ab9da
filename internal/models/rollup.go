package models

import (
	"fmt"
	"time"
)

// BucketKey identifies one hourly aggregation bucket.
type BucketKey struct {
	BillboardUUID string
	Date          time.Time // truncated to midnight UTC
	Hour          int       // 0-23
}

// NewBucketKey derives the bucket for an observation instant.
func NewBucketKey(billboardUUID string, at time.Time) BucketKey {
	at = at.UTC()
	return BucketKey{
		BillboardUUID: billboardUUID,
		Date:          time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC),
		Hour:          at.Hour(),
	}
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s/%s/%02d", k.BillboardUUID, k.Date.Format("2006-01-02"), k.Hour)
}

// ImpressionRollup is the durable hourly aggregate for one billboard.
// Unique per (billboard, date, hour). The dwell-time mean is carried as
// (sum, count) so merges stay a true arithmetic mean regardless of how
// many batches folded in. Frequency is derived at report time from
// distinct reach tokens and is never mutated during ingestion.
type ImpressionRollup struct {
	ID            string    `json:"id"`
	BillboardUUID string    `json:"billboard_uuid"`
	Date          time.Time `json:"date"`
	Hour          int       `json:"hour"`

	Impressions int64   `json:"impressions"`
	DwellSum    float64 `json:"-"`
	DwellCount  int64   `json:"-"`
	Frequency   int64   `json:"frequency"`

	OTS *time.Time `json:"ots,omitempty"` // earliest observed start in the bucket
	LTS *time.Time `json:"lts,omitempty"` // latest observed end in the bucket

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the bucket key of the rollup.
func (r *ImpressionRollup) Key() BucketKey {
	return BucketKey{BillboardUUID: r.BillboardUUID, Date: r.Date, Hour: r.Hour}
}

// DwellTimeAvg is the arithmetic mean of all dwell samples folded into
// the bucket, 0 for an empty bucket.
func (r *ImpressionRollup) DwellTimeAvg() float64 {
	if r.DwellCount == 0 {
		return 0
	}
	return r.DwellSum / float64(r.DwellCount)
}

// CompositionEntry is the per-object-type breakdown of a rollup.
// Unique per (rollup, object type).
type CompositionEntry struct {
	RollupID   string     `json:"rollup_id"`
	ObjectType ObjectType `json:"object_type"`
	Count      int64      `json:"count"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RollupDelta is the additive contribution of one ingestion chunk to a
// single bucket: the aggregator folds events in memory and the store
// applies one delta per bucket set-based.
type RollupDelta struct {
	Key         BucketKey
	Impressions int64
	DwellSum    float64
	DwellCount  int64
	OTS         *time.Time
	LTS         *time.Time
	ReachTokens []string                 // deduplicated within the delta
	Composition map[ObjectType]int64
}
