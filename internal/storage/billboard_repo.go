package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/braincount/impression-engine/internal/models"
)

// PostgresBillboardRepo implements BillboardRepo using PostgreSQL.
type PostgresBillboardRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresBillboardRepo(pool *pgxpool.Pool) *PostgresBillboardRepo {
	return &PostgresBillboardRepo{pool: pool}
}

func (r *PostgresBillboardRepo) ListAll(ctx context.Context) ([]*models.Billboard, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT uuid, title, location, town_class, sub_location, billboard_type,
		       latitude, longitude, created_at, updated_at
		FROM billboards ORDER BY uuid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list billboards: %w", err)
	}
	defer rows.Close()

	var res []*models.Billboard
	for rows.Next() {
		var b models.Billboard
		if err := rows.Scan(
			&b.UUID, &b.Title, &b.Location, &b.TownClass, &b.SubLocation, &b.BillboardType,
			&b.Latitude, &b.Longitude, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		res = append(res, &b)
	}
	return res, rows.Err()
}

func (r *PostgresBillboardRepo) GetByUUID(ctx context.Context, id string) (*models.Billboard, error) {
	var b models.Billboard
	err := r.pool.QueryRow(ctx, `
		SELECT uuid, title, location, town_class, sub_location, billboard_type,
		       latitude, longitude, created_at, updated_at
		FROM billboards WHERE uuid = $1
	`, id).Scan(
		&b.UUID, &b.Title, &b.Location, &b.TownClass, &b.SubLocation, &b.BillboardType,
		&b.Latitude, &b.Longitude, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billboard: %w", err)
	}
	return &b, nil
}

func (r *PostgresBillboardRepo) Upsert(ctx context.Context, b *models.Billboard) error {
	if b.UUID == "" {
		b.UUID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO billboards (
			uuid, title, location, town_class, sub_location, billboard_type,
			latitude, longitude, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (uuid) DO UPDATE SET
			title = EXCLUDED.title,
			location = EXCLUDED.location,
			town_class = EXCLUDED.town_class,
			sub_location = EXCLUDED.sub_location,
			billboard_type = EXCLUDED.billboard_type,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			updated_at = EXCLUDED.updated_at
	`, b.UUID, b.Title, b.Location, b.TownClass, b.SubLocation, b.BillboardType,
		b.Latitude, b.Longitude, now)
	if err != nil {
		return fmt.Errorf("failed to upsert billboard: %w", err)
	}
	return nil
}

// PostgresCampaignRepo implements CampaignRepo using PostgreSQL.
type PostgresCampaignRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCampaignRepo(pool *pgxpool.Pool) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{pool: pool}
}

func (r *PostgresCampaignRepo) GetWindows(ctx context.Context, campaignUUID string) ([]*models.CampaignWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT campaign_uuid, billboard_uuid, start_time, end_time
		FROM campaign_windows WHERE campaign_uuid = $1
		ORDER BY billboard_uuid
	`, campaignUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign windows: %w", err)
	}
	defer rows.Close()

	var res []*models.CampaignWindow
	for rows.Next() {
		var w models.CampaignWindow
		if err := rows.Scan(&w.CampaignUUID, &w.BillboardUUID, &w.StartTime, &w.EndTime); err != nil {
			return nil, err
		}
		res = append(res, &w)
	}
	return res, rows.Err()
}

func (r *PostgresCampaignRepo) UpsertWindow(ctx context.Context, w *models.CampaignWindow) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_windows (campaign_uuid, billboard_uuid, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (campaign_uuid, billboard_uuid) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time
	`, w.CampaignUUID, w.BillboardUUID, w.StartTime, w.EndTime)
	if err != nil {
		return fmt.Errorf("failed to upsert campaign window: %w", err)
	}
	return nil
}
