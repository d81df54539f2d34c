package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	appLog "hadash/internal/log"
	"hadash/internal/model"
)

// NOTE: This file provides the configuration model and YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables are applied on top of the file.

// Duration is a time.Duration that reads and writes Go duration strings
// ("5s", "3m") in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// SetValue lets cleanenv parse durations from the environment.
func (d *Duration) SetValue(s string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// HomeAssistantConfig holds the build-time default connection.
type HomeAssistantConfig struct {
	// URL is the Home Assistant base URL, e.g. http://192.168.1.2:8123.
	URL   string `yaml:"url" json:"url" env:"HA_URL,NEXT_PUBLIC_HA_URL"`
	Token string `yaml:"token" json:"-" env:"HA_TOKEN,NEXT_PUBLIC_HA_TOKEN"`

	// Timeout bounds each outbound call. Zero means no client-side timeout.
	Timeout Duration `yaml:"timeout" json:"timeout" env:"HA_TIMEOUT"`

	// SettingsPath is where the URL/token pair saved from the UI lives.
	SettingsPath string `yaml:"settings_path" json:"settings_path" env:"HADASH_SETTINGS_PATH"`
}

type SyncConfig struct {
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval" env:"HADASH_POLL_INTERVAL"`

	// RoomPolicy decides how a light matching several rooms is placed:
	//   - "all"   (default) the light is listed in every matching room
	//   - "first" only the first matching room in table order gets it
	RoomPolicy string `yaml:"room_policy" json:"room_policy"`
}

type CalendarConfig struct {
	URL             string   `yaml:"url" json:"-" env:"CALENDAR_URL"`
	HorizonDays     int      `yaml:"horizon_days" json:"horizon_days"`
	MaxEvents       int      `yaml:"max_events" json:"max_events"`
	CacheTTL        Duration `yaml:"cache_ttl" json:"cache_ttl"`
	RefreshCron     string   `yaml:"refresh" json:"refresh"`
	ExpandRecurring bool     `yaml:"expand_recurring" json:"expand_recurring"`
	CacheDir        string   `yaml:"cache_dir" json:"cache_dir"`
}

// MediaDeviceConfig describes the media box behind the sleep/wake/state
// endpoints.
type MediaDeviceConfig struct {
	PowerSensor   string `yaml:"power_sensor" json:"power_sensor"`
	RemoteEntity  string `yaml:"remote_entity" json:"remote_entity"`
	ConfigEntryID string `yaml:"config_entry_id" json:"config_entry_id"`
	WakeService   string `yaml:"wake_service" json:"wake_service"`

	// SleepMode controls how sleep is performed:
	//   - "inline" (default) reload integration, wait ReconnectDelay, turn off
	//   - "script" run SleepScript on the Home Assistant side
	SleepMode      string   `yaml:"sleep_mode" json:"sleep_mode"`
	SleepScript    string   `yaml:"sleep_script" json:"sleep_script"`
	ReconnectDelay Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
}

type CameraConfig struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	SnapshotEntity string `yaml:"snapshot_entity" json:"snapshot_entity"`
	PTZEntity      string `yaml:"ptz_entity" json:"ptz_entity"`
}

type PTZConfig struct {
	MoveMode           string  `yaml:"move_mode" json:"move_mode"`
	ContinuousDuration float64 `yaml:"continuous_duration" json:"continuous_duration"`
	Speed              float64 `yaml:"speed" json:"speed"`
	Distance           float64 `yaml:"distance" json:"distance"`
}

type LoggingConfig struct {
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT"`
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL"`
}

type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled" env:"OTEL_ENABLED"`
	Endpoint      string  `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName   string  `yaml:"service_name" json:"service_name" env:"OTEL_SERVICE_NAME"`
	SamplingRatio float64 `yaml:"sampling_ratio" json:"sampling_ratio"`
	Insecure      bool    `yaml:"insecure" json:"insecure"`
}

type MQTTConfig struct {
	// Broker is a URL such as tcp://127.0.0.1:1883. Empty disables publishing.
	Broker      string `yaml:"broker" json:"broker" env:"MQTT_BROKER"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	Username    string `yaml:"username" json:"username" env:"MQTT_USERNAME"`
	Password    string `yaml:"password" json:"-" env:"MQTT_PASSWORD"`
	// Retain defaults to true when unset.
	Retain      *bool  `yaml:"retain" json:"retain"`
}

// Retained reports whether light messages are published retained.
func (m MQTTConfig) Retained() bool {
	return m.Retain == nil || *m.Retain
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen" env:"HADASH_LISTEN"`

	// Timezone is the IANA timezone used for floating calendar times.
	// Empty means the process local zone.
	Timezone string `yaml:"timezone" json:"timezone" env:"TZ_NAME"`

	HomeAssistant HomeAssistantConfig `yaml:"home_assistant" json:"home_assistant"`
	Sync          SyncConfig          `yaml:"sync" json:"sync"`
	Calendar      CalendarConfig      `yaml:"calendar" json:"calendar"`
	MediaDevice   MediaDeviceConfig   `yaml:"media_device" json:"media_device"`
	Cameras       []CameraConfig      `yaml:"cameras" json:"cameras"`
	PTZ           PTZConfig           `yaml:"ptz" json:"ptz"`
	Rooms         []model.Room        `yaml:"rooms" json:"rooms"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" json:"telemetry"`
	MQTT          MQTTConfig          `yaml:"mqtt" json:"mqtt"`
}

// Sleep modes.
const (
	SleepModeInline = "inline"
	SleepModeScript = "script"
)

// Room policies.
const (
	RoomPolicyAll   = "all"
	RoomPolicyFirst = "first"
)

func defaultCameras() []CameraConfig {
	return []CameraConfig{
		{ID: "garage", Name: "Garage", SnapshotEntity: "camera.host_docker_internal", PTZEntity: "camera.garage_camera_mainstream"},
		{ID: "driveway", Name: "Driveway", SnapshotEntity: "camera.host_docker_internal_2", PTZEntity: "camera.driveway_camera_mainstream"},
	}
}

func defaultRooms() []model.Room {
	return []model.Room{
		{ID: "living", Name: "Living Room", Icon: "🛋️", Temp: "21.0°C", Humidity: "49%", Color: "room-card-living", LightPatterns: []string{"living", "lounge"}},
		{ID: "bedroom", Name: "Bedroom", Icon: "🛏️", Temp: "19.5°C", Humidity: "52%", Color: "room-card-bedroom", LightPatterns: []string{"bedroom"}},
		{ID: "kitchen", Name: "Kitchen", Icon: "🍳", Temp: "20.2°C", Humidity: "45%", Color: "room-card-guest", LightPatterns: []string{"kitchen"}},
		{ID: "office", Name: "Office", Icon: "💻", Temp: "21.5°C", Humidity: "48%", Color: "room-card-baby", LightPatterns: []string{"office", "study"}},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.HomeAssistant.SettingsPath == "" {
		c.HomeAssistant.SettingsPath = "./var/settings.yaml"
	}
	c.HomeAssistant.URL = strings.TrimRight(strings.TrimSpace(c.HomeAssistant.URL), "/")

	if c.Sync.PollInterval <= 0 {
		c.Sync.PollInterval = Duration(5 * time.Second)
	}
	if c.Sync.RoomPolicy == "" {
		c.Sync.RoomPolicy = RoomPolicyAll
	}

	if c.Calendar.HorizonDays <= 0 {
		c.Calendar.HorizonDays = 14
	}
	if c.Calendar.MaxEvents <= 0 {
		c.Calendar.MaxEvents = 10
	}
	if c.Calendar.CacheTTL <= 0 {
		c.Calendar.CacheTTL = Duration(5 * time.Minute)
	}
	if c.Calendar.RefreshCron == "" {
		c.Calendar.RefreshCron = "*/5 * * * *"
	}
	if c.Calendar.CacheDir == "" {
		c.Calendar.CacheDir = "./var/ics-cache"
	}

	m := &c.MediaDevice
	if m.PowerSensor == "" {
		m.PowerSensor = "sensor.apple_tv_power"
	}
	if m.RemoteEntity == "" {
		m.RemoteEntity = "remote.lounge_room"
	}
	if m.ConfigEntryID == "" {
		m.ConfigEntryID = "01KHD3PX3R0QCXENV5NH7M355F"
	}
	if m.WakeService == "" {
		m.WakeService = "shell_command.appletv_wake"
	}
	if m.SleepMode == "" {
		m.SleepMode = SleepModeInline
	}
	if m.SleepScript == "" {
		m.SleepScript = "script.appletv_sleep"
	}
	if m.ReconnectDelay <= 0 {
		m.ReconnectDelay = Duration(3 * time.Second)
	}

	if c.Cameras == nil {
		c.Cameras = defaultCameras()
	}
	if c.PTZ.MoveMode == "" {
		c.PTZ.MoveMode = "ContinuousMove"
	}
	if c.PTZ.ContinuousDuration <= 0 {
		c.PTZ.ContinuousDuration = 0.5
	}
	if c.PTZ.Speed <= 0 {
		c.PTZ.Speed = 0.5
	}
	if c.PTZ.Distance <= 0 {
		c.PTZ.Distance = 0.3
	}

	if c.Rooms == nil {
		c.Rooms = defaultRooms()
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "hadash"
	}
	if c.Telemetry.SamplingRatio <= 0 {
		c.Telemetry.SamplingRatio = 1.0
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "hadash"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "hadash"
	}
	if c.MQTT.Retain == nil {
		retain := true
		c.MQTT.Retain = &retain
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := appLog.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json", "logfmt":
	default:
		return fmt.Errorf("logging format must be 'console', 'json' or 'logfmt', got %q", c.Logging.Format)
	}

	switch c.MediaDevice.SleepMode {
	case SleepModeInline, SleepModeScript:
	default:
		return fmt.Errorf("media_device.sleep_mode must be %q or %q, got %q", SleepModeInline, SleepModeScript, c.MediaDevice.SleepMode)
	}
	if c.MediaDevice.SleepMode == SleepModeInline && c.MediaDevice.ConfigEntryID == "" {
		return errors.New("media_device.config_entry_id is required for inline sleep mode")
	}
	if !strings.Contains(c.MediaDevice.WakeService, ".") {
		return fmt.Errorf("media_device.wake_service must be <domain>.<service>, got %q", c.MediaDevice.WakeService)
	}

	switch c.Sync.RoomPolicy {
	case RoomPolicyAll, RoomPolicyFirst:
	default:
		return fmt.Errorf("sync.room_policy must be %q or %q, got %q", RoomPolicyAll, RoomPolicyFirst, c.Sync.RoomPolicy)
	}
	if c.Sync.PollInterval.Std() < time.Second {
		return errors.New("sync.poll_interval must be at least 1s")
	}

	seenCams := make(map[string]bool)
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera %d: id is required", i)
		}
		if seenCams[cam.ID] {
			return fmt.Errorf("camera %s: duplicate id", cam.ID)
		}
		seenCams[cam.ID] = true
	}

	seenRooms := make(map[string]bool)
	for i, room := range c.Rooms {
		if room.ID == "" {
			return fmt.Errorf("room %d: id is required", i)
		}
		if seenRooms[room.ID] {
			return fmt.Errorf("room %s: duplicate id", room.ID)
		}
		seenRooms[room.ID] = true
	}

	return nil
}

// Camera looks up a camera by its logical id.
func (c *Config) Camera(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

// DefaultConnection is the URL/token pair from the file and environment.
func (c *Config) DefaultConnection() model.Connection {
	return model.Connection{URL: c.HomeAssistant.URL, Token: c.HomeAssistant.Token}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - In both cases environment variables override file values, then
//     defaults are normalized and the result validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes data to path through a temp file in the same
// directory, then renames it into place with 0600 permissions.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".hadash-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// PrintConfig logs the effective configuration without secrets.
func (c *Config) PrintConfig() {
	appLog.Info("effective config",
		"listen", c.Listen,
		"timezone", c.Timezone,
		"ha_url", c.HomeAssistant.URL,
		"ha_token_set", c.HomeAssistant.Token != "",
		"ha_timeout", c.HomeAssistant.Timeout.Std(),
		"poll_interval", c.Sync.PollInterval.Std(),
		"room_policy", c.Sync.RoomPolicy,
		"calendar_set", c.Calendar.URL != "",
		"calendar_refresh", c.Calendar.RefreshCron,
		"sleep_mode", c.MediaDevice.SleepMode,
		"reconnect_delay", c.MediaDevice.ReconnectDelay.Std(),
		"camera_count", len(c.Cameras),
		"room_count", len(c.Rooms),
		"telemetry", c.Telemetry.Enabled,
		"mqtt_broker", c.MQTT.Broker,
	)
}
