package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/braincount/impression-engine/internal/models"
)

// ClickHouseArchive implements DetectionArchive against ClickHouse.
// Drained detections are appended to a wide events table before the
// staging rows are deleted, preserving the raw stream the legacy system
// threw away. Append-only; nothing in the serving path reads it.
type ClickHouseArchive struct {
	conn driver.Conn
}

// NewClickHouseArchive opens a ClickHouse connection and verifies it.
func NewClickHouseArchive(ctx context.Context, addr, database, username, password string) (*ClickHouseArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return &ClickHouseArchive{conn: conn}, nil
}

func (a *ClickHouseArchive) Archive(ctx context.Context, ds []*models.Detection) error {
	if len(ds) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO detection_archive (
			id, camera_id, billboard_uuid, object_type,
			entry_time, exit_time, dwell_seconds, reach_tokens
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive batch: %w", err)
	}

	for _, d := range ds {
		err := batch.Append(
			d.ID, d.CameraID, d.BillboardUUID, string(d.ObjectType),
			d.EntryTime, d.ExitTime, d.DwellSeconds, d.ReachTokens,
		)
		if err != nil {
			return fmt.Errorf("failed to append detection %d: %w", d.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send archive batch: %w", err)
	}
	return nil
}

// Close releases the ClickHouse connection.
func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}
