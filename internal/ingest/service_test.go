package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
	"github.com/keypad-relay/keypad-relay-server/internal/storage"
	"github.com/keypad-relay/keypad-relay-server/internal/validation"
)

type mapCache struct {
	mu      sync.Mutex
	devices map[int]models.Device
	sets    int
}

func newMapCache() *mapCache { return &mapCache{devices: map[int]models.Device{}} }

func (c *mapCache) SetDevice(ctx context.Context, d *models.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[d.BaseID] = *d
	c.sets++
	return nil
}

func (c *mapCache) GetDevice(ctx context.Context, baseID int) (*models.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[baseID]
	if !ok {
		return nil, errors.New("miss")
	}
	return &d, nil
}

type recordingNotifier struct {
	kinds []protocol.MessageType
}

func (n *recordingNotifier) Notify(kind protocol.MessageType, baseID int, payload interface{}) {
	n.kinds = append(n.kinds, kind)
}

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *mapCache, *recordingNotifier) {
	t.Helper()
	v, err := validation.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	store := storage.NewMemoryStore()
	cache := newMapCache()
	notifier := &recordingNotifier{}
	return NewService(store, v, cache, notifier), store, cache, notifier
}

func TestIngest_KeyEventDefaultsSerial(t *testing.T) {
	t.Parallel()

	svc, _, _, notifier := newTestService(t)
	ctx := context.Background()

	body := []byte(`{"base_id":1,"key_id":9,"mode":1,"timestamp":1700000000.25,"info":"B","client_timestamp":"2024-03-01T09:30:00.123456","event_type":"real_hardware"}`)
	out, err := svc.Ingest(ctx, protocol.TypeKeyEvent, body, SourceHTTP)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	row := out.(*models.StoredKeyEvent)
	if row.KeySN != UnknownKeySN || row.KeyID != 9 || row.Source != SourceHTTP {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.ClientTimestamp == nil || row.ClientTimestamp.Minute() != 30 {
		t.Fatalf("client timestamp not parsed: %v", row.ClientTimestamp)
	}

	latest, err := svc.LatestKeyEvent(ctx)
	if err != nil {
		t.Fatalf("LatestKeyEvent: %v", err)
	}
	if latest.ID != row.ID {
		t.Fatalf("latest event %s, want %s", latest.ID, row.ID)
	}
	if len(notifier.kinds) != 1 || notifier.kinds[0] != protocol.TypeKeyEvent {
		t.Fatalf("unexpected notifications %v", notifier.kinds)
	}
}

func TestIngest_RejectsInvalidKeyEvent(t *testing.T) {
	t.Parallel()

	svc, _, _, notifier := newTestService(t)

	_, err := svc.Ingest(context.Background(), protocol.TypeKeyEvent, []byte(`{"base_id":1,"mode":1,"event_type":"real_hardware"}`), SourceHTTP)
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.LatestKeyEvent(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no stored events, got %v", err)
	}
	if len(notifier.kinds) != 0 {
		t.Fatalf("rejected event should not notify")
	}
}

func TestIngest_ConnectEventUpdatesDeviceAndCache(t *testing.T) {
	t.Parallel()

	svc, store, cache, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, protocol.TypeConnectEvent, []byte(`{"base_id":4,"mode":2,"info":"2","timestamp":"2024-03-01T09:00:00"}`), SourceHTTP); err != nil {
		t.Fatalf("Ingest connecting: %v", err)
	}
	if _, err := svc.Ingest(ctx, protocol.TypeConnectEvent, []byte(`{"base_id":4,"mode":2,"info":"1","timestamp":"2024-03-01T09:00:05"}`), SourceBus); err != nil {
		t.Fatalf("Ingest connected: %v", err)
	}

	device, err := store.GetDevice(ctx, 4)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if device.Status != models.DeviceStatusConnected {
		t.Fatalf("expected connected, got %s", device.Status)
	}
	if cache.sets != 2 {
		t.Fatalf("expected 2 cache writes, got %d", cache.sets)
	}

	cached, err := svc.GetDevice(ctx, 4)
	if err != nil || cached.Info != "1" {
		t.Fatalf("GetDevice via cache = %+v, %v", cached, err)
	}

	connects, _, _ := store.Counts()
	if connects != 2 {
		t.Fatalf("expected 2 connect events, got %d", connects)
	}
}

func TestIngest_ParamAndVoteEvents(t *testing.T) {
	t.Parallel()

	svc, store, _, notifier := newTestService(t)
	ctx := context.Background()

	inputs := []struct {
		kind protocol.MessageType
		body string
	}{
		{protocol.TypeVoteEvent, `{"base_id":1,"mode":1,"info":"started","timestamp":"2024-03-01T09:00:00"}`},
		{protocol.TypeHDParamEvent, `{"base_id":1,"mode":1,"info":"ch=3"}`},
		{protocol.TypeKeypadParamEvent, `{"base_id":1,"key_id":3,"key_sn":"SN3","mode":1,"info":"bat=80"}`},
	}
	for _, in := range inputs {
		if _, err := svc.Ingest(ctx, in.kind, []byte(in.body), SourceHTTP); err != nil {
			t.Fatalf("Ingest %s: %v", in.kind, err)
		}
	}

	_, votes, params := store.Counts()
	if votes != 1 || params != 2 {
		t.Fatalf("expected 1 vote and 2 params, got %d and %d", votes, params)
	}
	want := []protocol.MessageType{protocol.TypeVoteEvent, protocol.TypeHDParamEvent, protocol.TypeKeypadParamEvent}
	for i, k := range want {
		if notifier.kinds[i] != k {
			t.Fatalf("notification %d: got %s, want %s", i, notifier.kinds[i], k)
		}
	}
}

func TestIngest_UnsupportedKind(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)
	if _, err := svc.Ingest(context.Background(), protocol.TypePing, []byte(`{}`), SourceBus); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
}
