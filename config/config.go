package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"tricorder/telemetry"

	"gopkg.in/yaml.v3"
)

// Persistence backends.
const (
	BackendFile   = "file"
	BackendPebble = "pebble"
	BackendSQLite = "sqlite"
)

// Console transports.
const (
	TransportNative = "native"
	TransportZiutek = "ziutek"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig         `yaml:"server"`
	MQTT        MQTTConfig           `yaml:"mqtt"`
	Topics      TopicsConfig         `yaml:"topics"`
	Thresholds  telemetry.Thresholds `yaml:"thresholds"`
	Persistence PersistenceConfig    `yaml:"persistence"`
	Console     ConsoleConfig        `yaml:"console"`
	Alerts      AlertsConfig         `yaml:"alerts"`
	Stats       StatsConfig          `yaml:"stats"`
	Metrics     MetricsConfig        `yaml:"metrics"`
	Logging     LoggingConfig        `yaml:"logging"`

	// LoadedFrom records the file the config came from; empty for defaults.
	LoadedFrom string `yaml:"-"`
}

// ServerConfig contains general settings
type ServerConfig struct {
	Name string `yaml:"name"`
}

// MQTTConfig contains broker connection settings. When disabled the service
// runs on an in-process loopback bus.
type MQTTConfig struct {
	Enabled                     bool   `yaml:"enabled"`
	Broker                      string `yaml:"broker"`
	Port                        int    `yaml:"port"`
	ClientID                    string `yaml:"client_id"`
	Username                    string `yaml:"username"`
	Password                    string `yaml:"password"`
	QoS                         byte   `yaml:"qos"`
	KeepaliveSeconds            int    `yaml:"keepalive_seconds"`
	ConnectTimeoutSeconds       int    `yaml:"connect_timeout_seconds"`
	MaxReconnectIntervalSeconds int    `yaml:"max_reconnect_interval_seconds"`
	PublishTimeoutMS            int    `yaml:"publish_timeout_ms"`
	InboundQueueSize            int    `yaml:"inbound_queue_size"`
}

// TopicsConfig names every bus topic the core reads or writes.
type TopicsConfig struct {
	Telemetry       string `yaml:"telemetry"`
	Commands        string `yaml:"commands"`
	MissionState    string `yaml:"mission_state"`
	WarningsRaised  string `yaml:"warnings_raised"`
	WarningsCleared string `yaml:"warnings_cleared"`
	WarningsActive  string `yaml:"warnings_active"`
}

// PersistenceConfig selects where the mission snapshot lives.
type PersistenceConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// ConsoleConfig contains operator console settings
type ConsoleConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Port           int    `yaml:"port"`
	Transport      string `yaml:"transport"`
	MaxConnections int    `yaml:"max_connections"`
	Stdin          bool   `yaml:"stdin"`
}

// AlertsConfig points at the alert sound asset handed to presentation
// layers; the core never plays it.
type AlertsConfig struct {
	SoundPath string `yaml:"sound_path"`
}

// StatsConfig controls the periodic stats line.
type StatsConfig struct {
	DisplayIntervalSeconds int `yaml:"display_interval_seconds"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{Thresholds: telemetry.DefaultThresholds()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	cfg.LoadedFrom = filename
	return cfg, nil
}

// LoadOrDefault loads filename, falling back to defaults when it does not
// exist. Any other error is returned.
func LoadOrDefault(filename string) (*Config, error) {
	cfg, err := Load(filename)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return nil, err
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Server.Name) == "" {
		c.Server.Name = "tricorder"
	}
	if c.Thresholds == (telemetry.Thresholds{}) {
		c.Thresholds = telemetry.DefaultThresholds()
	}

	m := &c.MQTT
	if strings.TrimSpace(m.Broker) == "" {
		m.Broker = "localhost"
	}
	if m.Port <= 0 {
		m.Port = 1883
	}
	if strings.TrimSpace(m.ClientID) == "" {
		m.ClientID = "mission-manager"
	}
	if m.KeepaliveSeconds <= 0 {
		m.KeepaliveSeconds = 60
	}
	if m.ConnectTimeoutSeconds <= 0 {
		m.ConnectTimeoutSeconds = 10
	}
	if m.MaxReconnectIntervalSeconds <= 0 {
		m.MaxReconnectIntervalSeconds = 60
	}
	if m.PublishTimeoutMS <= 0 {
		m.PublishTimeoutMS = 2000
	}
	if m.InboundQueueSize <= 0 {
		m.InboundQueueSize = 256
	}

	t := &c.Topics
	setDefault(&t.Telemetry, "tricorder/telemetry")
	setDefault(&t.Commands, "tricorder/mission/commands")
	setDefault(&t.MissionState, "tricorder/mission/state")
	setDefault(&t.WarningsRaised, "tricorder/warnings/raised")
	setDefault(&t.WarningsCleared, "tricorder/warnings/cleared")
	setDefault(&t.WarningsActive, "tricorder/warnings/active")

	p := &c.Persistence
	p.Backend = strings.ToLower(strings.TrimSpace(p.Backend))
	if p.Backend == "" {
		p.Backend = BackendFile
	}
	if strings.TrimSpace(p.Path) == "" {
		switch p.Backend {
		case BackendPebble:
			p.Path = "data/missions.pebble"
		case BackendSQLite:
			p.Path = "data/missions.db"
		default:
			p.Path = "data/missions.json"
		}
	}
	if p.BusyTimeoutMS <= 0 {
		p.BusyTimeoutMS = 5000
	}

	con := &c.Console
	if con.Port <= 0 {
		con.Port = 7373
	}
	con.Transport = strings.ToLower(strings.TrimSpace(con.Transport))
	if con.Transport == "" {
		con.Transport = TransportNative
	}
	if con.MaxConnections <= 0 {
		con.MaxConnections = 8
	}

	setDefault(&c.Alerts.SoundPath, "assets/alert.wav")

	if c.Stats.DisplayIntervalSeconds <= 0 {
		c.Stats.DisplayIntervalSeconds = 60
	}

	setDefault(&c.Logging.Dir, "data/logs")
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
}

// Validate rejects settings that cannot be normalized into something usable.
func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case BackendFile, BackendPebble, BackendSQLite:
	default:
		return fmt.Errorf("persistence.backend %q is not one of file, pebble, sqlite", c.Persistence.Backend)
	}
	switch c.Console.Transport {
	case TransportNative, TransportZiutek:
	default:
		return fmt.Errorf("console.transport %q is not one of native, ziutek", c.Console.Transport)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d out of range 0-2", c.MQTT.QoS)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	return nil
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Server: %s\n", c.Server.Name)
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s:%d (client %s, qos %d)\n", c.MQTT.Broker, c.MQTT.Port, c.MQTT.ClientID, c.MQTT.QoS)
	} else {
		fmt.Printf("MQTT: disabled (loopback bus)\n")
	}
	fmt.Printf("Topics: telemetry=%s commands=%s state=%s\n", c.Topics.Telemetry, c.Topics.Commands, c.Topics.MissionState)
	fmt.Printf("Thresholds: o2<%g battery<%g co2>%g temp=[%g,%g]\n",
		c.Thresholds.O2Low, c.Thresholds.BatteryLow, c.Thresholds.CO2High, c.Thresholds.SuitTempLow, c.Thresholds.SuitTempHigh)
	fmt.Printf("Persistence: %s at %s\n", c.Persistence.Backend, c.Persistence.Path)
	if c.Console.Enabled {
		fmt.Printf("Console: port %d (%s transport, max %d)\n", c.Console.Port, c.Console.Transport, c.Console.MaxConnections)
	}
	if c.Metrics.Listen != "" {
		fmt.Printf("Metrics: %s\n", c.Metrics.Listen)
	}
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}
