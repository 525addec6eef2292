package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

func TestMemoryStore_KeyEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	for i, client := range []string{"a", "b", "a"} {
		rec := &models.KeyEventRecord{ClientID: client, BaseID: 1, RemoteID: i, EventType: models.EventTypeRealHardware}
		if err := s.InsertKeyEvent(ctx, rec); err != nil {
			t.Fatalf("InsertKeyEvent: %v", err)
		}
		if rec.ID != int64(i+1) {
			t.Fatalf("id=%d want %d", rec.ID, i+1)
		}
	}

	n, _ := s.CountKeyEvents(ctx)
	if n != 3 {
		t.Fatalf("count=%d", n)
	}

	client := "a"
	recs, total, err := s.ListKeyEvents(ctx, KeyEventFilters{ClientID: &client}, 10, 0)
	if err != nil {
		t.Fatalf("ListKeyEvents: %v", err)
	}
	if total != 2 || len(recs) != 2 || recs[0].RemoteID != 0 || recs[1].RemoteID != 2 {
		t.Fatalf("unexpected listing total=%d recs=%+v", total, recs)
	}

	recs, _, _ = s.ListKeyEvents(ctx, KeyEventFilters{}, 1, 2)
	if len(recs) != 1 || recs[0].ID != 3 {
		t.Fatalf("paging: %+v", recs)
	}
}

func TestMemoryStore_FailInsertsIsStorageError(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	s.FailInserts = 1

	err := s.InsertKeyEvent(context.Background(), &models.KeyEventRecord{})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err=%v, want ErrStorage", err)
	}
	if err := s.InsertKeyEvent(context.Background(), &models.KeyEventRecord{}); err != nil {
		t.Fatalf("second insert: %v", err)
	}
}

func TestMemoryStore_ClosedRejectsWrites(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	s.Close()
	if err := s.InsertKeyEvent(context.Background(), &models.KeyEventRecord{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
}

func TestMemoryStore_Devices(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetDevice(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}

	if err := s.UpsertDevice(ctx, &models.Device{BaseID: 7, Mode: 1, Info: "2"}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	d, _ := s.GetDevice(ctx, 7)
	if d.Status != models.DeviceStatusConnecting {
		t.Fatalf("status=%s", d.Status)
	}
	created := d.CreatedAt

	if err := s.UpsertDevice(ctx, &models.Device{BaseID: 7, Mode: 1, Info: "1"}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	d, _ = s.GetDevice(ctx, 7)
	if d.Status != models.DeviceStatusConnected || !d.CreatedAt.Equal(created) {
		t.Fatalf("unexpected device %+v", d)
	}

	s.UpsertDevice(ctx, &models.Device{BaseID: 2, Info: "0"})
	list, _ := s.ListDevices(ctx)
	if len(list) != 2 || list[0].BaseID != 2 || list[1].BaseID != 7 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestMemoryStore_LatestKeyEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.LatestKeyEvent(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}

	s.CreateKeyEvent(ctx, &models.StoredKeyEvent{BaseID: 1, KeyID: 4})
	s.CreateKeyEvent(ctx, &models.StoredKeyEvent{BaseID: 1, KeyID: 5})

	ev, err := s.LatestKeyEvent(ctx)
	if err != nil {
		t.Fatalf("LatestKeyEvent: %v", err)
	}
	if ev.KeyID != 5 {
		t.Fatalf("key_id=%d want 5", ev.KeyID)
	}
	if ev.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatalf("id not assigned")
	}
}

func TestMemoryStore_ParamKindValidated(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	err := s.CreateParamEvent(context.Background(), &models.StoredParamEvent{Kind: "bogus"})
	if !errors.Is(err, ErrInvalidData) {
		t.Fatalf("err=%v, want ErrInvalidData", err)
	}
}
