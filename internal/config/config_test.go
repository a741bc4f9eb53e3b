package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected default address %q", cfg.Server.Address)
	}
	if cfg.Engine.Shards != 8 {
		t.Fatalf("unexpected default shards %d", cfg.Engine.Shards)
	}
	if cfg.Cache.Enabled {
		t.Fatalf("cache must default to disabled")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "correlator.yaml")
	raw := `
server:
  address: ":9090"
engine:
  shards: 16
faultStore:
  baseURL: http://store.local
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("FAULTLINE_SERVER_ADDRESS", ":7070")
	t.Setenv("FAULTLINE_SLA_TICK_INTERVAL", "15s")
	t.Setenv("FAULTLINE_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("env override must win, got %q", cfg.Server.Address)
	}
	if cfg.Engine.Shards != 16 {
		t.Fatalf("expected 16 shards from file, got %d", cfg.Engine.Shards)
	}
	if cfg.SLA.TickInterval != 15*time.Second {
		t.Fatalf("expected 15s tick, got %s", cfg.SLA.TickInterval)
	}
	if cfg.FaultStore.BaseURL != "http://store.local" {
		t.Fatalf("unexpected fault store url %q", cfg.FaultStore.BaseURL)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging from env")
	}
}

func TestMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/correlator.yaml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
