package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/braincount/impression-engine/internal/models"
)

// watermarkName is the single cursor row for the detection drain job.
const watermarkName = "detections"

// PostgresDetectionStore implements DetectionStore using PostgreSQL.
type PostgresDetectionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresDetectionStore(pool *pgxpool.Pool) *PostgresDetectionStore {
	return &PostgresDetectionStore{pool: pool}
}

func (s *PostgresDetectionStore) Stage(ctx context.Context, ds []*models.Detection) error {
	if len(ds) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, d := range ds {
		err := tx.QueryRow(ctx, `
			INSERT INTO detections (
				camera_id, billboard_uuid, object_type,
				entry_time, exit_time, dwell_seconds, reach_tokens, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, d.CameraID, d.BillboardUUID, string(d.ObjectType),
			d.EntryTime, d.ExitTime, d.DwellSeconds, d.ReachTokens, now,
		).Scan(&d.ID)
		if err != nil {
			return fmt.Errorf("failed to stage detection: %w", err)
		}
		d.CreatedAt = now
	}
	return tx.Commit(ctx)
}

func (s *PostgresDetectionStore) PageAfter(ctx context.Context, afterID int64, limit int) ([]*models.Detection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, camera_id, billboard_uuid, object_type,
		       entry_time, exit_time, dwell_seconds, reach_tokens, created_at
		FROM detections WHERE id > $1 ORDER BY id LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page detections: %w", err)
	}
	defer rows.Close()

	var res []*models.Detection
	for rows.Next() {
		var d models.Detection
		var objectType string
		if err := rows.Scan(
			&d.ID, &d.CameraID, &d.BillboardUUID, &objectType,
			&d.EntryTime, &d.ExitTime, &d.DwellSeconds, &d.ReachTokens, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		d.ObjectType = models.ObjectType(objectType)
		res = append(res, &d)
	}
	return res, rows.Err()
}

func (s *PostgresDetectionStore) DeleteThrough(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM detections WHERE id <= $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete drained detections: %w", err)
	}
	return nil
}

func (s *PostgresDetectionStore) Watermark(ctx context.Context) (int64, error) {
	var pos int64
	err := s.pool.QueryRow(ctx, `
		SELECT position FROM ingest_watermark WHERE name = $1
	`, watermarkName).Scan(&pos)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	return pos, nil
}

func (s *PostgresDetectionStore) SetWatermark(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_watermark (name, position, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			position = GREATEST(ingest_watermark.position, EXCLUDED.position),
			updated_at = EXCLUDED.updated_at
	`, watermarkName, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}
