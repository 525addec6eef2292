package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
	ErrStorage     = errors.New("storage error")
	ErrClosed      = errors.New("store closed")
)

// Error wraps a failure of the underlying database. errors.Is(err, ErrStorage)
// holds for every Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrStorage
func (e *Error) Is(target error) bool { return target == ErrStorage }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidData) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// KeyEventStore persists key events received by the relay server
type KeyEventStore interface {
	InsertKeyEvent(ctx context.Context, rec *models.KeyEventRecord) error
	CountKeyEvents(ctx context.Context) (int64, error)
	ListKeyEvents(ctx context.Context, filters KeyEventFilters, limit, offset int) ([]*models.KeyEventRecord, int64, error)

	// Reconnect replaces the underlying handle after a storage error
	Reconnect(ctx context.Context) error
	Close() error
}

// IngestStore persists events posted to the backend
type IngestStore interface {
	CreateKeyEvent(ctx context.Context, ev *models.StoredKeyEvent) error
	LatestKeyEvent(ctx context.Context) (*models.StoredKeyEvent, error)
	ListStoredKeyEvents(ctx context.Context, filters KeyEventFilters, limit, offset int) ([]*models.StoredKeyEvent, int64, error)

	CreateConnectEvent(ctx context.Context, ev *models.StoredConnectEvent) error
	CreateVoteEvent(ctx context.Context, ev *models.StoredVoteEvent) error
	CreateParamEvent(ctx context.Context, ev *models.StoredParamEvent) error

	UpsertDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, baseID int) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)

	Close() error
}

// KeyEventFilters represents filters for key event listings
type KeyEventFilters struct {
	ClientID *string
	BaseID   *int
}

// Options configure a database connection pool
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
