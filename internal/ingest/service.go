// Package ingest stores events posted by relay clients or received from the
// event bus.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
	"github.com/keypad-relay/keypad-relay-server/internal/storage"
	"github.com/keypad-relay/keypad-relay-server/internal/validation"
)

// Event sources
const (
	SourceHTTP = "http"
	SourceBus  = "nats"
)

// UnknownKeySN is stored when a key event arrives without a serial number
const UnknownKeySN = "unknown"

// ErrUnsupportedKind is returned for message kinds that are not events
var ErrUnsupportedKind = errors.New("unsupported event kind")

// DeviceCache holds the latest device status
type DeviceCache interface {
	SetDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, baseID int) (*models.Device, error)
}

// Notifier is told about every stored event
type Notifier interface {
	Notify(kind protocol.MessageType, baseID int, payload interface{})
}

// Service validates and stores ingested events
type Service struct {
	store     storage.IngestStore
	validator *validation.Validator
	cache     DeviceCache
	notifier  Notifier
}

// NewService creates an ingest service. validator, cache and notifier may be nil.
func NewService(store storage.IngestStore, validator *validation.Validator, cache DeviceCache, notifier Notifier) *Service {
	return &Service{
		store:     store,
		validator: validator,
		cache:     cache,
		notifier:  notifier,
	}
}

// Ingest validates body against the schema for kind, stores it and returns
// the stored row.
func (s *Service) Ingest(ctx context.Context, kind protocol.MessageType, body []byte, source string) (interface{}, error) {
	if protocol.EndpointFor(kind) == "" {
		return nil, fmt.Errorf("%s: %w", kind, ErrUnsupportedKind)
	}
	if s.validator != nil {
		if err := s.validator.Validate(kind, body); err != nil {
			return nil, err
		}
	}

	switch kind {
	case protocol.TypeKeyEvent:
		var ev models.KeypadEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, decodeError(kind, err)
		}
		return s.StoreKeyEvent(ctx, &ev, source)

	case protocol.TypeConnectEvent:
		var ev models.ConnectEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, decodeError(kind, err)
		}
		return s.StoreConnectEvent(ctx, &ev)

	case protocol.TypeVoteEvent:
		var ev models.VoteEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, decodeError(kind, err)
		}
		return s.StoreVoteEvent(ctx, &ev)

	case protocol.TypeHDParamEvent:
		var ev models.HDParamEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, decodeError(kind, err)
		}
		return s.storeParam(ctx, &models.StoredParamEvent{
			Kind:      models.ParamKindHD,
			BaseID:    ev.BaseID,
			Mode:      ev.Mode,
			Info:      ev.Info,
			Timestamp: eventTime(ev.Timestamp),
		})

	default:
		var ev models.KeypadParamEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, decodeError(kind, err)
		}
		return s.storeParam(ctx, &models.StoredParamEvent{
			Kind:      models.ParamKindKeypad,
			BaseID:    ev.BaseID,
			KeyID:     ev.KeyID,
			KeySN:     ev.KeySN,
			Mode:      ev.Mode,
			Info:      ev.Info,
			Timestamp: eventTime(ev.Timestamp),
		})
	}
}

// StoreKeyEvent stores a key event. The relay client timestamp is optional.
func (s *Service) StoreKeyEvent(ctx context.Context, ev *models.KeypadEvent, source string) (*models.StoredKeyEvent, error) {
	if ev.KeyID == nil {
		return nil, &validation.Error{Kind: protocol.TypeKeyEvent, Details: []string{"/key_id: is required"}}
	}

	row := &models.StoredKeyEvent{
		BaseID:       ev.BaseID,
		KeyID:        *ev.KeyID,
		KeySN:        ev.KeySN,
		Mode:         ev.Mode,
		SDKTimestamp: ev.SDKTimestamp,
		Info:         ev.Info,
		EventType:    ev.EventType,
		Source:       source,
	}
	if row.KeySN == "" {
		row.KeySN = UnknownKeySN
	}
	if ev.ClientTimestamp != "" {
		if ts, err := models.ParseTimestamp(ev.ClientTimestamp); err == nil {
			row.ClientTimestamp = &ts
		} else {
			log.Warn().Err(err).Int("base_id", ev.BaseID).Msg("Ignoring client timestamp")
		}
	}

	if err := s.store.CreateKeyEvent(ctx, row); err != nil {
		return nil, fmt.Errorf("store key event: %w", err)
	}

	log.Info().
		Str("source", source).
		Int("base_id", row.BaseID).
		Int("key_id", row.KeyID).
		Str("info", row.Info).
		Msg("Key event saved")

	s.notify(protocol.TypeKeyEvent, row.BaseID, row)
	return row, nil
}

// StoreConnectEvent stores a connect event and upserts the device registry
func (s *Service) StoreConnectEvent(ctx context.Context, ev *models.ConnectEvent) (*models.StoredConnectEvent, error) {
	row := &models.StoredConnectEvent{
		BaseID:    ev.BaseID,
		Mode:      ev.Mode,
		Info:      ev.Info,
		Timestamp: eventTime(ev.Timestamp),
	}
	if err := s.store.CreateConnectEvent(ctx, row); err != nil {
		return nil, fmt.Errorf("store connect event: %w", err)
	}

	device := &models.Device{BaseID: ev.BaseID}
	device.ApplyConnect(ev.Mode, ev.Info, row.Timestamp)
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("update device %d: %w", ev.BaseID, err)
	}
	if s.cache != nil {
		if err := s.cache.SetDevice(ctx, device); err != nil {
			log.Warn().Err(err).Int("base_id", ev.BaseID).Msg("Failed to cache device status")
		}
	}

	log.Info().
		Int("base_id", ev.BaseID).
		Str("info", ev.Info).
		Str("status", string(device.Status)).
		Msg("Connect event saved")

	s.notify(protocol.TypeConnectEvent, row.BaseID, row)
	return row, nil
}

// StoreVoteEvent stores a vote event
func (s *Service) StoreVoteEvent(ctx context.Context, ev *models.VoteEvent) (*models.StoredVoteEvent, error) {
	row := &models.StoredVoteEvent{
		BaseID:    ev.BaseID,
		Mode:      ev.Mode,
		Info:      ev.Info,
		Timestamp: eventTime(ev.Timestamp),
	}
	if err := s.store.CreateVoteEvent(ctx, row); err != nil {
		return nil, fmt.Errorf("store vote event: %w", err)
	}

	log.Info().Int("base_id", ev.BaseID).Str("info", ev.Info).Msg("Vote event saved")
	s.notify(protocol.TypeVoteEvent, row.BaseID, row)
	return row, nil
}

func (s *Service) storeParam(ctx context.Context, row *models.StoredParamEvent) (*models.StoredParamEvent, error) {
	if err := s.store.CreateParamEvent(ctx, row); err != nil {
		return nil, fmt.Errorf("store %s param event: %w", row.Kind, err)
	}

	kind := protocol.TypeHDParamEvent
	if row.Kind == models.ParamKindKeypad {
		kind = protocol.TypeKeypadParamEvent
	}
	log.Debug().Str("kind", string(row.Kind)).Int("base_id", row.BaseID).Msg("Parameter event saved")
	s.notify(kind, row.BaseID, row)
	return row, nil
}

// LatestKeyEvent returns the most recent key event
func (s *Service) LatestKeyEvent(ctx context.Context) (*models.StoredKeyEvent, error) {
	return s.store.LatestKeyEvent(ctx)
}

// ListKeyEvents lists stored key events, newest first
func (s *Service) ListKeyEvents(ctx context.Context, baseID *int, limit, offset int) ([]*models.StoredKeyEvent, int64, error) {
	return s.store.ListStoredKeyEvents(ctx, storage.KeyEventFilters{BaseID: baseID}, limit, offset)
}

// GetDevice returns a device, preferring the status cache
func (s *Service) GetDevice(ctx context.Context, baseID int) (*models.Device, error) {
	if s.cache != nil {
		device, err := s.cache.GetDevice(ctx, baseID)
		if err == nil {
			return device, nil
		}
		log.Debug().Err(err).Int("base_id", baseID).Msg("Device cache lookup failed")
	}

	device, err := s.store.GetDevice(ctx, baseID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetDevice(ctx, device); err != nil {
			log.Warn().Err(err).Int("base_id", baseID).Msg("Failed to cache device status")
		}
	}
	return device, nil
}

// ListDevices lists all known devices
func (s *Service) ListDevices(ctx context.Context) ([]*models.Device, error) {
	return s.store.ListDevices(ctx)
}

func (s *Service) notify(kind protocol.MessageType, baseID int, payload interface{}) {
	if s.notifier != nil {
		s.notifier.Notify(kind, baseID, payload)
	}
}

// eventTime parses a relay timestamp, falling back to now
func eventTime(s string) time.Time {
	if s != "" {
		if t, err := models.ParseTimestamp(s); err == nil {
			return t
		}
	}
	return time.Now()
}

func decodeError(kind protocol.MessageType, err error) error {
	return &validation.Error{Kind: kind, Details: []string{err.Error()}}
}
