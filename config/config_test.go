package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Expected memory driver by default, got %s", cfg.Database.Driver)
	}
	if cfg.Room.PurgePageSize != 200 {
		t.Errorf("Expected purge page size 200, got %d", cfg.Room.PurgePageSize)
	}
	if cfg.Room.HeartbeatInterval != 20*time.Second {
		t.Errorf("Expected 20s heartbeat, got %v", cfg.Room.HeartbeatInterval)
	}
	if cfg.Dataset.DefaultDeck != "cards" {
		t.Errorf("Expected default deck cards, got %s", cfg.Dataset.DefaultDeck)
	}
}

func TestLoadConfig_ReadsYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  http_address: ":9000"
room:
  draw_strategy: transactional
  purge_page_size: 50
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9000" {
		t.Errorf("Expected :9000, got %s", cfg.Server.HTTPAddress)
	}
	if cfg.Room.DrawStrategy != "transactional" {
		t.Errorf("Expected transactional strategy, got %s", cfg.Room.DrawStrategy)
	}
	if cfg.Room.PurgePageSize != 50 {
		t.Errorf("Expected page size 50, got %d", cfg.Room.PurgePageSize)
	}
}

func TestValidate_RejectsUnknownStrategy(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "memory"},
		Room:     RoomConfig{DrawStrategy: "lottery", PurgePageSize: 200},
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate_FirestoreNeedsProject(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "firestore"},
		Room:     RoomConfig{DrawStrategy: "eventlog", PurgePageSize: 200},
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
}
