package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

const keyEventColumns = `id, client_id, base_id, remote_id, key_sn, mode, response_info,
	sdk_timestamp, client_timestamp, event_type, sequence, received_at, created_at`

// InsertKeyEvent persists a relay key event and fills in its id
func (s *PostgresStore) InsertKeyEvent(ctx context.Context, rec *models.KeyEventRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	query := `
		INSERT INTO key_events (
			client_id, base_id, remote_id, key_sn, mode, response_info,
			sdk_timestamp, client_timestamp, event_type, sequence, received_at
		) VALUES (
			:client_id, :base_id, :remote_id, :key_sn, :mode, :response_info,
			:sdk_timestamp, :client_timestamp, :event_type, :sequence, :received_at
		) RETURNING id, created_at`

	rows, err := db.NamedQueryContext(ctx, query, rec)
	if err != nil {
		return wrap("insert key event", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&rec.ID, &rec.CreatedAt); err != nil {
			return wrap("insert key event", err)
		}
	}
	return wrap("insert key event", rows.Err())
}

// CountKeyEvents returns the number of persisted relay key events
func (s *PostgresStore) CountKeyEvents(ctx context.Context) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM key_events"); err != nil {
		return 0, wrap("count key events", err)
	}
	return n, nil
}

// ListKeyEvents lists relay key events in insertion order
func (s *PostgresStore) ListKeyEvents(ctx context.Context, filters KeyEventFilters, limit, offset int) ([]*models.KeyEventRecord, int64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, 0, err
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.ClientID != nil {
		argCount++
		where += fmt.Sprintf(" AND client_id = $%d", argCount)
		args = append(args, *filters.ClientID)
	}

	if filters.BaseID != nil {
		argCount++
		where += fmt.Sprintf(" AND base_id = $%d", argCount)
		args = append(args, *filters.BaseID)
	}

	var total int64
	if err := db.GetContext(ctx, &total, "SELECT COUNT(*) FROM key_events"+where, args...); err != nil {
		return nil, 0, wrap("list key events", err)
	}

	query := "SELECT " + keyEventColumns + " FROM key_events" + where
	argCount++
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", argCount)
	args = append(args, limit)
	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	records := []*models.KeyEventRecord{}
	if err := db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, wrap("list key events", err)
	}
	return records, total, nil
}
