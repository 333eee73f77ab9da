package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/braincount/impression-engine/internal/metrics"
	"github.com/braincount/impression-engine/internal/models"
	"github.com/braincount/impression-engine/internal/storage"
)

// DefaultChunkSize bounds how many events fold into one storage commit.
const DefaultChunkSize = 100

// Failure reasons reported in BatchResult entries.
const (
	ReasonMalformed = "malformed_event"
	ReasonNotFound  = "reference_not_found"
	ReasonStorage   = "storage"
)

// EventFailure describes one event that could not be folded.
type EventFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// BatchResult summarizes a ProcessBatch call. A batch with failures is
// still a success for the events that made it through.
type BatchResult struct {
	Processed int            `json:"processed"`
	Failed    []EventFailure `json:"failed,omitempty"`
}

// Aggregator folds detection events into hourly rollups.
type Aggregator struct {
	rollups    storage.RollupStore
	billboards storage.BillboardRepo
	live       *LiveCounters
	logger     *zap.Logger
	metrics    *metrics.Metrics
	chunkSize  int
}

// NewAggregator creates an aggregator. live may be nil to disable live
// counter updates.
func NewAggregator(rollups storage.RollupStore, billboards storage.BillboardRepo, live *LiveCounters, m *metrics.Metrics, logger *zap.Logger, chunkSize int) *Aggregator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Aggregator{
		rollups:    rollups,
		billboards: billboards,
		live:       live,
		logger:     logger,
		metrics:    m,
		chunkSize:  chunkSize,
	}
}

type indexedEvent struct {
	index int
	event Event
}

// ProcessBatch validates, resolves and folds a batch of events. Events
// that fail validation or reference an unknown billboard are collected
// into the result and do not abort the batch. A non-nil error is
// returned only when the whole batch could not be attempted.
func (a *Aggregator) ProcessBatch(ctx context.Context, events []Event) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{}

	known := make(map[string]bool)
	valid := make([]indexedEvent, 0, len(events))

	for i, ev := range events {
		if ev.BillboardUUID == "" {
			result.Failed = append(result.Failed, EventFailure{Index: i, Reason: ReasonMalformed, Detail: "missing billboard"})
			a.recordFailure(ReasonMalformed)
			continue
		}
		ok, seen := known[ev.BillboardUUID]
		if !seen {
			b, err := a.billboards.GetByUUID(ctx, ev.BillboardUUID)
			if err != nil {
				return result, fmt.Errorf("failed to resolve billboard %s: %w", ev.BillboardUUID, err)
			}
			ok = b != nil
			known[ev.BillboardUUID] = ok
		}
		if !ok {
			result.Failed = append(result.Failed, EventFailure{
				Index:  i,
				Reason: ReasonNotFound,
				Detail: fmt.Sprintf("%v: %s", ErrReferenceNotFound, ev.BillboardUUID),
			})
			a.recordFailure(ReasonNotFound)
			continue
		}
		valid = append(valid, indexedEvent{index: i, event: ev})
	}

	for off := 0; off < len(valid); off += a.chunkSize {
		end := off + a.chunkSize
		if end > len(valid) {
			end = len(valid)
		}
		chunk := valid[off:end]

		deltas := foldChunk(chunk)
		if err := a.rollups.ApplyDeltas(ctx, deltas); err != nil {
			a.logger.Error("failed to apply rollup deltas",
				zap.Int("chunk_events", len(chunk)),
				zap.Error(err))
			for _, ie := range chunk {
				result.Failed = append(result.Failed, EventFailure{Index: ie.index, Reason: ReasonStorage, Detail: err.Error()})
				a.recordFailure(ReasonStorage)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			continue
		}

		result.Processed += len(chunk)
		if a.metrics != nil {
			a.metrics.ChunksProcessed.Inc()
			a.metrics.RollupsMerged.Add(float64(len(deltas)))
			for _, ie := range chunk {
				a.metrics.RecordEvent(string(ie.event.ObjectType))
			}
			for _, d := range deltas {
				a.metrics.ReachTokensSeen.Add(float64(len(d.ReachTokens)))
			}
		}
		a.live.Update(ctx, deltas)
	}

	if a.metrics != nil {
		a.metrics.RecordIngest(time.Since(start))
	}
	a.logger.Info("batch processed",
		zap.Int("events", len(events)),
		zap.Int("processed", result.Processed),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

func (a *Aggregator) recordFailure(reason string) {
	if a.metrics != nil {
		a.metrics.RecordEventFailure(reason)
	}
}

// foldChunk collapses a chunk of events into one delta per bucket.
func foldChunk(chunk []indexedEvent) []*models.RollupDelta {
	byKey := make(map[models.BucketKey]*models.RollupDelta)
	seenTokens := make(map[models.BucketKey]map[string]bool)

	for _, ie := range chunk {
		ev := ie.event
		key := models.NewBucketKey(ev.BillboardUUID, ev.EntryTime)

		d, ok := byKey[key]
		if !ok {
			d = &models.RollupDelta{
				Key:         key,
				Composition: make(map[models.ObjectType]int64),
			}
			byKey[key] = d
			seenTokens[key] = make(map[string]bool)
		}

		d.Impressions += ev.Impressions
		d.DwellSum += ev.DwellSeconds
		d.DwellCount++
		d.Composition[ev.ObjectType] += ev.Impressions

		entry := ev.EntryTime
		exit := ev.ExitTime
		if exit.IsZero() {
			exit = entry
		}
		if d.OTS == nil || entry.Before(*d.OTS) {
			t := entry
			d.OTS = &t
		}
		if d.LTS == nil || exit.After(*d.LTS) {
			t := exit
			d.LTS = &t
		}

		for _, tok := range ev.ReachTokens {
			if !seenTokens[key][tok] {
				seenTokens[key][tok] = true
				d.ReachTokens = append(d.ReachTokens, tok)
			}
		}
	}

	deltas := make([]*models.RollupDelta, 0, len(byKey))
	for _, d := range byKey {
		deltas = append(deltas, d)
	}
	sort.Slice(deltas, func(i, j int) bool {
		return deltas[i].Key.String() < deltas[j].Key.String()
	})
	return deltas
}
