package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hadash/internal/model"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected default config file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	if cfg.Sync.PollInterval.Std() != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s", cfg.Sync.PollInterval.Std())
	}
	if cfg.HomeAssistant.Timeout != 0 {
		t.Errorf("timeout = %v, want none", cfg.HomeAssistant.Timeout.Std())
	}
	if cfg.MediaDevice.ReconnectDelay.Std() != 3*time.Second {
		t.Errorf("reconnect delay = %v, want 3s", cfg.MediaDevice.ReconnectDelay.Std())
	}
	if len(cfg.Cameras) != 2 {
		t.Errorf("expected 2 default cameras, got %d", len(cfg.Cameras))
	}
	if len(cfg.Rooms) != 4 {
		t.Errorf("expected 4 default rooms, got %d", len(cfg.Rooms))
	}
	if !cfg.MQTT.Retained() {
		t.Error("mqtt messages should be retained by default")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "retain: true") {
		t.Errorf("default file should spell out retain: true:\n%s", data)
	}
}

func TestMQTTRetain(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want bool
	}{
		{"unset", "mqtt:\n  broker: tcp://b:1883\n", true},
		{"explicit true", "mqtt:\n  retain: true\n", true},
		{"explicit false", "mqtt:\n  retain: false\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yml), 0o600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got := cfg.MQTT.Retained(); got != tt.want {
				t.Errorf("retained = %v, want %v", got, tt.want)
			}
		})
	}

	if !(MQTTConfig{}).Retained() {
		t.Error("zero MQTTConfig should publish retained")
	}
}

func TestLoad_ReadsYAMLAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
listen: 0.0.0.0:9000
home_assistant:
  url: http://from-file:8123
  token: file-token
sync:
  poll_interval: 10s
  room_policy: first
media_device:
  sleep_mode: script
cameras:
  - id: porch
    snapshot_entity: camera.porch
    ptz_entity: camera.porch_main
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HA_URL", "http://from-env:8123/")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.HomeAssistant.URL != "http://from-env:8123" {
		t.Errorf("url = %q, want env value without trailing slash", cfg.HomeAssistant.URL)
	}
	if cfg.HomeAssistant.Token != "file-token" {
		t.Errorf("token = %q", cfg.HomeAssistant.Token)
	}
	if cfg.Sync.PollInterval.Std() != 10*time.Second {
		t.Errorf("poll interval = %v", cfg.Sync.PollInterval.Std())
	}
	if cfg.Sync.RoomPolicy != RoomPolicyFirst {
		t.Errorf("room policy = %q", cfg.Sync.RoomPolicy)
	}
	if cfg.MediaDevice.SleepMode != SleepModeScript {
		t.Errorf("sleep mode = %q", cfg.MediaDevice.SleepMode)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	cam, ok := cfg.Camera("porch")
	if !ok || cam.SnapshotEntity != "camera.porch" {
		t.Errorf("camera porch = %+v, %v", cam, ok)
	}
	if _, ok := cfg.Camera("garage"); ok {
		t.Error("configured cameras should replace the defaults")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sync: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"bad sleep mode", func(c *Config) { c.MediaDevice.SleepMode = "nap" }, "sleep_mode"},
		{"bad room policy", func(c *Config) { c.Sync.RoomPolicy = "random" }, "room_policy"},
		{"short poll interval", func(c *Config) { c.Sync.PollInterval = Duration(100 * time.Millisecond) }, "poll_interval"},
		{"wake service without domain", func(c *Config) { c.MediaDevice.WakeService = "wake" }, "wake_service"},
		{"duplicate camera", func(c *Config) {
			c.Cameras = append(c.Cameras, CameraConfig{ID: "garage"})
		}, "duplicate"},
		{"duplicate room", func(c *Config) {
			c.Rooms = append(c.Rooms, model.Room{ID: "office"})
		}, "duplicate"},
		{"room without id", func(c *Config) {
			c.Rooms = append(c.Rooms, model.Room{Name: "Attic"})
		}, "id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Calendar.URL = "https://example.com/basic.ics"
	cfg.MediaDevice.ReconnectDelay = Duration(1500 * time.Millisecond)

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Calendar.URL != cfg.Calendar.URL {
		t.Errorf("calendar url = %q", got.Calendar.URL)
	}
	if got.MediaDevice.ReconnectDelay.Std() != 1500*time.Millisecond {
		t.Errorf("reconnect delay = %v", got.MediaDevice.ReconnectDelay.Std())
	}
}
