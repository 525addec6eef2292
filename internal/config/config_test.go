package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\nrelay:\n  listen: 127.0.0.1:9999\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("level=%q", cfg.Log.Level)
	}
	if cfg.Relay.Listen != "127.0.0.1:9999" {
		t.Fatalf("listen=%q", cfg.Relay.Listen)
	}
	if cfg.Relay.ReadTimeout != 30*time.Second {
		t.Fatalf("read_timeout=%s", cfg.Relay.ReadTimeout)
	}
	if cfg.Relay.AcceptPoll != time.Second {
		t.Fatalf("accept_poll=%s", cfg.Relay.AcceptPoll)
	}
	if cfg.Relay.MaxBuffer != 10000 {
		t.Fatalf("max_buffer=%d", cfg.Relay.MaxBuffer)
	}
	if cfg.Client.Connect.MaxAttempts != 5 || cfg.Client.Connect.Backoff != 2*time.Second {
		t.Fatalf("connect=%+v", cfg.Client.Connect)
	}
	if cfg.Client.PostAttempts != 3 || cfg.Client.PostBackoff != time.Second {
		t.Fatalf("post attempts=%d backoff=%s", cfg.Client.PostAttempts, cfg.Client.PostBackoff)
	}
	if cfg.Client.AutoStart.TriggerInfo != "1" || cfg.Client.AutoStart.Config != "1,1,0,0,4,1" {
		t.Fatalf("auto_start=%+v", cfg.Client.AutoStart)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yml")
	if err := os.WriteFile(path, []byte("client:\n  server_addr: 10.0.0.1:8888\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RELAY_ADDR", "10.0.0.2:7777")
	t.Setenv("BACKEND_URL", "http://backend:8000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Client.ServerAddr != "10.0.0.2:7777" {
		t.Fatalf("server_addr=%q", cfg.Client.ServerAddr)
	}
	if cfg.Client.BackendURL != "http://backend:8000" {
		t.Fatalf("backend_url=%q", cfg.Client.BackendURL)
	}
}

func TestLoad_RejectsUnknownMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yml")
	if err := os.WriteFile(path, []byte("client:\n  mode: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
