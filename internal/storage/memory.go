package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

// MemoryStore keeps everything in process memory. It is used when no
// database is configured and in tests.
type MemoryStore struct {
	sync.RWMutex

	keyEvents  []models.KeyEventRecord
	nextID     int64
	reconnects int
	closed     bool

	ingested []models.StoredKeyEvent
	connects []models.StoredConnectEvent
	votes    []models.StoredVoteEvent
	params   []models.StoredParamEvent
	devices  map[int]models.Device

	// FailInserts makes the next n InsertKeyEvent calls fail
	FailInserts int
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		devices: make(map[int]models.Device),
	}
}

// InsertKeyEvent stores a relay key event
func (s *MemoryStore) InsertKeyEvent(ctx context.Context, rec *models.KeyEventRecord) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.FailInserts > 0 {
		s.FailInserts--
		return &Error{Op: "insert key event", Err: fmt.Errorf("simulated failure")}
	}

	rec.ID = s.nextID
	s.nextID++
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	rec.CreatedAt = time.Now()
	s.keyEvents = append(s.keyEvents, *rec)
	return nil
}

// CountKeyEvents returns the number of stored relay key events
func (s *MemoryStore) CountKeyEvents(ctx context.Context) (int64, error) {
	s.RLock()
	defer s.RUnlock()
	return int64(len(s.keyEvents)), nil
}

// ListKeyEvents lists relay key events in insertion order
func (s *MemoryStore) ListKeyEvents(ctx context.Context, filters KeyEventFilters, limit, offset int) ([]*models.KeyEventRecord, int64, error) {
	s.RLock()
	defer s.RUnlock()

	matched := []*models.KeyEventRecord{}
	for i := range s.keyEvents {
		rec := s.keyEvents[i]
		if filters.ClientID != nil && rec.ClientID != *filters.ClientID {
			continue
		}
		if filters.BaseID != nil && rec.BaseID != *filters.BaseID {
			continue
		}
		matched = append(matched, &rec)
	}
	return page(matched, limit, offset), int64(len(matched)), nil
}

// Reconnect only records the attempt
func (s *MemoryStore) Reconnect(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()
	s.reconnects++
	return nil
}

// Reconnects returns how many times Reconnect was called
func (s *MemoryStore) Reconnects() int {
	s.RLock()
	defer s.RUnlock()
	return s.reconnects
}

// Closed reports whether Close was called
func (s *MemoryStore) Closed() bool {
	s.RLock()
	defer s.RUnlock()
	return s.closed
}

// CreateKeyEvent stores a backend key event
func (s *MemoryStore) CreateKeyEvent(ctx context.Context, ev *models.StoredKeyEvent) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	ev.Touch()
	s.ingested = append(s.ingested, *ev)
	return nil
}

// LatestKeyEvent returns the most recently stored backend key event
func (s *MemoryStore) LatestKeyEvent(ctx context.Context) (*models.StoredKeyEvent, error) {
	s.RLock()
	defer s.RUnlock()
	if len(s.ingested) == 0 {
		return nil, ErrNotFound
	}
	ev := s.ingested[len(s.ingested)-1]
	return &ev, nil
}

// ListStoredKeyEvents lists backend key events, newest first
func (s *MemoryStore) ListStoredKeyEvents(ctx context.Context, filters KeyEventFilters, limit, offset int) ([]*models.StoredKeyEvent, int64, error) {
	s.RLock()
	defer s.RUnlock()

	matched := []*models.StoredKeyEvent{}
	for i := len(s.ingested) - 1; i >= 0; i-- {
		ev := s.ingested[i]
		if filters.BaseID != nil && ev.BaseID != *filters.BaseID {
			continue
		}
		matched = append(matched, &ev)
	}
	return page(matched, limit, offset), int64(len(matched)), nil
}

// CreateConnectEvent stores a connect event
func (s *MemoryStore) CreateConnectEvent(ctx context.Context, ev *models.StoredConnectEvent) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	ev.Touch()
	s.connects = append(s.connects, *ev)
	return nil
}

// CreateVoteEvent stores a vote event
func (s *MemoryStore) CreateVoteEvent(ctx context.Context, ev *models.StoredVoteEvent) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	ev.Touch()
	s.votes = append(s.votes, *ev)
	return nil
}

// CreateParamEvent stores a parameter event
func (s *MemoryStore) CreateParamEvent(ctx context.Context, ev *models.StoredParamEvent) error {
	if ev.Kind != models.ParamKindHD && ev.Kind != models.ParamKindKeypad {
		return fmt.Errorf("param kind %q: %w", ev.Kind, ErrInvalidData)
	}

	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	ev.Touch()
	s.params = append(s.params, *ev)
	return nil
}

// Counts returns how many connect, vote and parameter events are stored
func (s *MemoryStore) Counts() (connects, votes, params int) {
	s.RLock()
	defer s.RUnlock()
	return len(s.connects), len(s.votes), len(s.params)
}

// UpsertDevice creates or updates a device
func (s *MemoryStore) UpsertDevice(ctx context.Context, device *models.Device) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}

	now := time.Now()
	if existing, ok := s.devices[device.BaseID]; ok {
		device.CreatedAt = existing.CreatedAt
	} else if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	if device.Status == "" {
		device.Status = models.StatusFromInfo(device.Info)
	}
	s.devices[device.BaseID] = *device
	return nil
}

// GetDevice gets a device by base id
func (s *MemoryStore) GetDevice(ctx context.Context, baseID int) (*models.Device, error) {
	s.RLock()
	defer s.RUnlock()
	if d, ok := s.devices[baseID]; ok {
		return &d, nil
	}
	return nil, ErrNotFound
}

// ListDevices lists all devices ordered by base id
func (s *MemoryStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	s.RLock()
	defer s.RUnlock()

	devices := make([]*models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		d := d
		devices = append(devices, &d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].BaseID < devices[j].BaseID })
	return devices, nil
}

// Close marks the store closed
func (s *MemoryStore) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
