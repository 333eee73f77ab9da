package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/braincount/impression-engine/internal/metrics"
	"github.com/braincount/impression-engine/internal/models"
)

const (
	// mergeRetries bounds retry attempts when two batches contend on
	// the same bucket.
	mergeRetries = 3
	mergeBackoff = 50 * time.Millisecond
)

// PostgresRollupStore implements RollupStore using PostgreSQL. The
// per-bucket merge is a single INSERT ... ON CONFLICT DO UPDATE with
// additive expressions, so concurrent batches on the same bucket
// serialize on the row while disjoint buckets proceed in parallel.
type PostgresRollupStore struct {
	pool           *pgxpool.Pool
	legacyDwellAvg bool
	metrics        *metrics.Metrics
}

// NewPostgresRollupStore creates a rollup store backed by the given pool.
func NewPostgresRollupStore(pool *pgxpool.Pool, legacyDwellAvg bool) *PostgresRollupStore {
	return &PostgresRollupStore{pool: pool, legacyDwellAvg: legacyDwellAvg}
}

// SetMetrics attaches merge instrumentation to the store.
func (s *PostgresRollupStore) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// trueMeanMerge accumulates (sum, count) so the exposed average stays a
// true arithmetic mean across every folded sample.
const trueMeanMerge = `
	INSERT INTO impression_rollups (
		id, billboard_uuid, date, hour,
		impressions, dwell_sum, dwell_count, ots, lts, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	ON CONFLICT (billboard_uuid, date, hour) DO UPDATE SET
		impressions = impression_rollups.impressions + EXCLUDED.impressions,
		dwell_sum   = impression_rollups.dwell_sum + EXCLUDED.dwell_sum,
		dwell_count = impression_rollups.dwell_count + EXCLUDED.dwell_count,
		ots = LEAST(COALESCE(impression_rollups.ots, EXCLUDED.ots), COALESCE(EXCLUDED.ots, impression_rollups.ots)),
		lts = GREATEST(COALESCE(impression_rollups.lts, EXCLUDED.lts), COALESCE(EXCLUDED.lts, impression_rollups.lts)),
		updated_at = EXCLUDED.updated_at
	RETURNING id`

// legacyMeanMerge averages the stored mean with the incoming batch mean,
// matching the legacy system's two-value formula. Lossy once more than
// two batches have folded in.
const legacyMeanMerge = `
	INSERT INTO impression_rollups (
		id, billboard_uuid, date, hour,
		impressions, dwell_sum, dwell_count, ots, lts, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	ON CONFLICT (billboard_uuid, date, hour) DO UPDATE SET
		impressions = impression_rollups.impressions + EXCLUDED.impressions,
		dwell_sum   = (impression_rollups.dwell_sum / GREATEST(impression_rollups.dwell_count, 1)
		               + EXCLUDED.dwell_sum / GREATEST(EXCLUDED.dwell_count, 1)) / 2,
		dwell_count = 1,
		ots = LEAST(COALESCE(impression_rollups.ots, EXCLUDED.ots), COALESCE(EXCLUDED.ots, impression_rollups.ots)),
		lts = GREATEST(COALESCE(impression_rollups.lts, EXCLUDED.lts), COALESCE(EXCLUDED.lts, impression_rollups.lts)),
		updated_at = EXCLUDED.updated_at
	RETURNING id`

func (s *PostgresRollupStore) ApplyDeltas(ctx context.Context, deltas []*models.RollupDelta) error {
	var lastErr error
	for attempt := 0; attempt < mergeRetries; attempt++ {
		if attempt > 0 {
			if s.metrics != nil {
				s.metrics.RecordMergeRetry()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(mergeBackoff << attempt):
			}
		}
		lastErr = s.applyOnce(ctx, deltas)
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("bucket merge retries exhausted: %w", lastErr)
}

func (s *PostgresRollupStore) applyOnce(ctx context.Context, deltas []*models.RollupDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	merge := trueMeanMerge
	if s.legacyDwellAvg {
		merge = legacyMeanMerge
	}

	now := time.Now().UTC()
	for _, d := range deltas {
		var rollupID string
		err := tx.QueryRow(ctx, merge,
			uuid.NewString(), d.Key.BillboardUUID, d.Key.Date, d.Key.Hour,
			d.Impressions, d.DwellSum, d.DwellCount, d.OTS, d.LTS, now,
		).Scan(&rollupID)
		if err != nil {
			return fmt.Errorf("failed to merge rollup %s: %w", d.Key, err)
		}

		if len(d.ReachTokens) > 0 {
			_, err = tx.Exec(ctx, `
				INSERT INTO rollup_reach (rollup_id, token)
				SELECT $1, unnest($2::text[])
				ON CONFLICT (rollup_id, token) DO NOTHING
			`, rollupID, d.ReachTokens)
			if err != nil {
				return fmt.Errorf("failed to register reach for %s: %w", d.Key, err)
			}
		}

		for ot, n := range d.Composition {
			_, err = tx.Exec(ctx, `
				INSERT INTO rollup_composition (rollup_id, object_type, count, updated_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (rollup_id, object_type) DO UPDATE SET
					count = rollup_composition.count + EXCLUDED.count,
					updated_at = EXCLUDED.updated_at
			`, rollupID, string(ot), n, now)
			if err != nil {
				return fmt.Errorf("failed to upsert composition for %s: %w", d.Key, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// isRetryable reports whether the error is a transient transaction
// conflict (serialization failure or deadlock).
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (s *PostgresRollupStore) QueryRollups(ctx context.Context, q RollupQuery) ([]*models.ImpressionRollup, error) {
	query := `
		SELECT id, billboard_uuid, date, hour,
		       impressions, dwell_sum, dwell_count, ots, lts, created_at, updated_at
		FROM impression_rollups
		WHERE 1=1`
	args := []interface{}{}

	if len(q.Billboards) > 0 {
		args = append(args, q.Billboards)
		query += fmt.Sprintf(" AND billboard_uuid = ANY($%d)", len(args))
	}
	if q.DateFrom != nil {
		args = append(args, *q.DateFrom)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if q.DateTo != nil {
		args = append(args, *q.DateTo)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if len(q.Hours) > 0 {
		args = append(args, q.Hours)
		query += fmt.Sprintf(" AND hour = ANY($%d)", len(args))
	}
	query += " ORDER BY date, hour, billboard_uuid"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	var res []*models.ImpressionRollup
	for rows.Next() {
		var r models.ImpressionRollup
		if err := rows.Scan(
			&r.ID, &r.BillboardUUID, &r.Date, &r.Hour,
			&r.Impressions, &r.DwellSum, &r.DwellCount, &r.OTS, &r.LTS,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		res = append(res, &r)
	}
	return res, rows.Err()
}

func (s *PostgresRollupStore) ReachCounts(ctx context.Context, rollupIDs []string) (*ReachCounts, error) {
	counts := &ReachCounts{PerBillboard: make(map[string]int64)}
	if len(rollupIDs) == 0 {
		return counts, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT r.billboard_uuid, COUNT(DISTINCT rr.token)
		FROM rollup_reach rr
		JOIN impression_rollups r ON r.id = rr.rollup_id
		WHERE rr.rollup_id = ANY($1)
		GROUP BY r.billboard_uuid
	`, rollupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count reach per billboard: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var billboard string
		var n int64
		if err := rows.Scan(&billboard, &n); err != nil {
			return nil, err
		}
		counts.PerBillboard[billboard] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT token) FROM rollup_reach WHERE rollup_id = ANY($1)
	`, rollupIDs).Scan(&counts.Distinct)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to count distinct reach: %w", err)
	}
	return counts, nil
}

func (s *PostgresRollupStore) CompositionFor(ctx context.Context, rollupIDs []string) (map[models.ObjectType]int64, error) {
	res := make(map[models.ObjectType]int64)
	if len(rollupIDs) == 0 {
		return res, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT object_type, SUM(count)
		FROM rollup_composition
		WHERE rollup_id = ANY($1)
		GROUP BY object_type
	`, rollupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to sum composition: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ot string
		var n int64
		if err := rows.Scan(&ot, &n); err != nil {
			return nil, err
		}
		res[models.ObjectType(ot)] = n
	}
	return res, rows.Err()
}

func (s *PostgresRollupStore) PurgeBillboards(ctx context.Context, billboardUUIDs []string) (int64, error) {
	if len(billboardUUIDs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM rollup_reach WHERE rollup_id IN (
			SELECT id FROM impression_rollups WHERE billboard_uuid = ANY($1))
	`, billboardUUIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to purge reach: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM rollup_composition WHERE rollup_id IN (
			SELECT id FROM impression_rollups WHERE billboard_uuid = ANY($1))
	`, billboardUUIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to purge composition: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM impression_rollups WHERE billboard_uuid = ANY($1)
	`, billboardUUIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to purge rollups: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
