package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

// CreateKeyEvent stores a key event posted to the backend
func (s *PostgresStore) CreateKeyEvent(ctx context.Context, ev *models.StoredKeyEvent) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	ev.Touch()

	query := `
		INSERT INTO ingested_key_events (
			id, base_id, key_id, key_sn, mode, sdk_timestamp, info,
			client_timestamp, event_type, source, processed, created_at
		) VALUES (
			:id, :base_id, :key_id, :key_sn, :mode, :sdk_timestamp, :info,
			:client_timestamp, :event_type, :source, :processed, :created_at
		)`

	_, err = db.NamedExecContext(ctx, query, ev)
	return wrap("create key event", err)
}

// LatestKeyEvent returns the most recently stored key event
func (s *PostgresStore) LatestKeyEvent(ctx context.Context) (*models.StoredKeyEvent, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	ev := &models.StoredKeyEvent{}
	err = db.GetContext(ctx, ev, `
		SELECT id, base_id, key_id, key_sn, mode, sdk_timestamp, info,
			client_timestamp, event_type, source, processed, created_at
		FROM ingested_key_events
		ORDER BY created_at DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("latest key event", err)
	}
	return ev, nil
}

// ListStoredKeyEvents lists backend key events, newest first
func (s *PostgresStore) ListStoredKeyEvents(ctx context.Context, filters KeyEventFilters, limit, offset int) ([]*models.StoredKeyEvent, int64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, 0, err
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.BaseID != nil {
		argCount++
		where += fmt.Sprintf(" AND base_id = $%d", argCount)
		args = append(args, *filters.BaseID)
	}

	var total int64
	if err := db.GetContext(ctx, &total, "SELECT COUNT(*) FROM ingested_key_events"+where, args...); err != nil {
		return nil, 0, wrap("list key events", err)
	}

	query := `SELECT id, base_id, key_id, key_sn, mode, sdk_timestamp, info,
		client_timestamp, event_type, source, processed, created_at
		FROM ingested_key_events` + where
	argCount++
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)
	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	events := []*models.StoredKeyEvent{}
	if err := db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, wrap("list key events", err)
	}
	return events, total, nil
}

// CreateConnectEvent stores a connect event
func (s *PostgresStore) CreateConnectEvent(ctx context.Context, ev *models.StoredConnectEvent) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	ev.Touch()

	_, err = db.NamedExecContext(ctx, `
		INSERT INTO connect_events (id, base_id, mode, info, timestamp, created_at)
		VALUES (:id, :base_id, :mode, :info, :timestamp, :created_at)`, ev)
	return wrap("create connect event", err)
}

// CreateVoteEvent stores a vote event
func (s *PostgresStore) CreateVoteEvent(ctx context.Context, ev *models.StoredVoteEvent) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	ev.Touch()

	_, err = db.NamedExecContext(ctx, `
		INSERT INTO vote_events (id, base_id, mode, info, timestamp, created_at)
		VALUES (:id, :base_id, :mode, :info, :timestamp, :created_at)`, ev)
	return wrap("create vote event", err)
}

// CreateParamEvent stores a hardware or keypad parameter event
func (s *PostgresStore) CreateParamEvent(ctx context.Context, ev *models.StoredParamEvent) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if ev.Kind != models.ParamKindHD && ev.Kind != models.ParamKindKeypad {
		return fmt.Errorf("param kind %q: %w", ev.Kind, ErrInvalidData)
	}
	ev.Touch()

	_, err = db.NamedExecContext(ctx, `
		INSERT INTO param_events (id, kind, base_id, key_id, key_sn, mode, info, timestamp, created_at)
		VALUES (:id, :kind, :base_id, :key_id, :key_sn, :mode, :info, :timestamp, :created_at)`, ev)
	return wrap("create param event", err)
}
