package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tricorder/telemetry"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  name: \"EVA-1\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Name != "EVA-1" {
		t.Fatalf("expected server.name EVA-1, got %q", cfg.Server.Name)
	}
	if cfg.LoadedFrom != path {
		t.Fatalf("expected LoadedFrom=%s, got %s", path, cfg.LoadedFrom)
	}
	if cfg.Thresholds != telemetry.DefaultThresholds() {
		t.Fatalf("expected default thresholds, got %+v", cfg.Thresholds)
	}
	if cfg.Topics.Telemetry != "tricorder/telemetry" || cfg.Topics.Commands != "tricorder/mission/commands" {
		t.Fatalf("unexpected default topics: %+v", cfg.Topics)
	}
	if cfg.Persistence.Backend != BackendFile || cfg.Persistence.Path != "data/missions.json" {
		t.Fatalf("unexpected persistence defaults: %+v", cfg.Persistence)
	}
	if cfg.MQTT.Port != 1883 || cfg.MQTT.Broker != "localhost" {
		t.Fatalf("unexpected mqtt defaults: %+v", cfg.MQTT)
	}
}

func TestLoadMergesPartialThresholds(t *testing.T) {
	path := writeConfig(t, "thresholds:\n  o2_low: 20.5\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Thresholds.O2Low != 20.5 {
		t.Fatalf("expected o2_low override, got %g", cfg.Thresholds.O2Low)
	}
	if cfg.Thresholds.BatteryLow != 15 || cfg.Thresholds.SuitTempHigh != 45 {
		t.Fatalf("expected remaining thresholds to keep defaults, got %+v", cfg.Thresholds)
	}
}

func TestPersistencePathFollowsBackend(t *testing.T) {
	path := writeConfig(t, "persistence:\n  backend: PEBBLE\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Persistence.Backend != BackendPebble || cfg.Persistence.Path != "data/missions.pebble" {
		t.Fatalf("unexpected persistence: %+v", cfg.Persistence)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"backend", "persistence:\n  backend: redis\n", "persistence.backend"},
		{"transport", "console:\n  transport: ssh\n", "console.transport"},
		{"qos", "mqtt:\n  qos: 3\n", "mqtt.qos"},
		{"thresholds", "thresholds:\n  suit_temp_low: 50\n", "thresholds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.LoadedFrom != "" || cfg.Server.Name != "tricorder" {
		t.Fatalf("expected defaults, got %+v", cfg.Server)
	}
}

func TestLoadOrDefaultSurfacesParseErrors(t *testing.T) {
	if _, err := LoadOrDefault(writeConfig(t, "server: [unterminated\n")); err == nil {
		t.Fatalf("expected parse error to surface")
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "data", "config.yaml"))
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !cfg.MQTT.Enabled || cfg.Persistence.Backend != BackendFile || cfg.Console.Port != 7373 {
		t.Fatalf("unexpected sample values %+v", cfg)
	}
	if cfg.Thresholds != telemetry.DefaultThresholds() {
		t.Fatalf("sample thresholds drifted from defaults: %+v", cfg.Thresholds)
	}
}
