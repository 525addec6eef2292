package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

func TestDeviceCache_Key(t *testing.T) {
	t.Parallel()

	c := NewDeviceCacheWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "", time.Minute)
	defer c.Close()

	if got := c.Key(3); got != "keypad:device:3" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestDeviceCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("KEYPAD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KEYPAD_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	c := NewDeviceCacheWithClient(redis.NewClient(&redis.Options{Addr: addr}), "keypad-test", time.Minute)
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	c.DeleteDevice(ctx, 42)

	if _, err := c.GetDevice(ctx, 42); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	dev := &models.Device{BaseID: 42, Mode: 2}
	dev.ApplyConnect(2, "1", time.Now().UTC())
	if err := c.SetDevice(ctx, dev); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}

	got, err := c.GetDevice(ctx, 42)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Status != models.DeviceStatusConnected || got.Info != "1" {
		t.Fatalf("unexpected cached device %+v", got)
	}
}
