package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

// UpsertDevice creates the device or updates mode, info and status
func (s *PostgresStore) UpsertDevice(ctx context.Context, device *models.Device) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	now := time.Now()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	if device.Status == "" {
		device.Status = models.StatusFromInfo(device.Info)
	}

	query := `
		INSERT INTO devices (base_id, mode, info, status, created_at, updated_at)
		VALUES (:base_id, :mode, :info, :status, :created_at, :updated_at)
		ON CONFLICT (base_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			info = EXCLUDED.info,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`

	rows, err := db.NamedQueryContext(ctx, query, device)
	if err != nil {
		return wrap("upsert device", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&device.CreatedAt); err != nil {
			return wrap("upsert device", err)
		}
	}
	return wrap("upsert device", rows.Err())
}

// GetDevice gets a device by base id
func (s *PostgresStore) GetDevice(ctx context.Context, baseID int) (*models.Device, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	device := &models.Device{}
	err = db.GetContext(ctx, device, `
		SELECT base_id, mode, info, status, created_at, updated_at
		FROM devices WHERE base_id = $1`, baseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get device", err)
	}
	return device, nil
}

// ListDevices lists all known devices ordered by base id
func (s *PostgresStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	devices := []*models.Device{}
	err = db.SelectContext(ctx, &devices, `
		SELECT base_id, mode, info, status, created_at, updated_at
		FROM devices ORDER BY base_id`)
	if err != nil {
		return nil, wrap("list devices", err)
	}
	return devices, nil
}
