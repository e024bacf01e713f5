package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// dmxChannelCount is the size of a DMX512 universe.
const dmxChannelCount = 512

// Config is the root configuration structure for tinkerforge2mqtt.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hardware  HardwareConfig  `yaml:"hardware"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Devices   DevicesConfig   `yaml:"devices"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Inventory InventoryConfig `yaml:"inventory"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HardwareConfig contains brickd connection and enumeration settings.
type HardwareConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	// ConnectTimeout bounds a single dial + handshake (seconds).
	ConnectTimeout int `yaml:"connect_timeout" validate:"min=1"`

	// EnumerateInterval is the pause between enumeration passes (seconds).
	EnumerateInterval int `yaml:"enumerate_interval" validate:"min=1"`

	// ReconnectCooldown is the pause after a dropped link before reconnecting (seconds).
	ReconnectCooldown int `yaml:"reconnect_cooldown" validate:"min=0"`

	// StalePasses is how many enumeration passes a device may be missing
	// before its handler is dropped.
	StalePasses int `yaml:"stale_passes" validate:"min=1"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker          MQTTBrokerConfig    `yaml:"broker"`
	Auth            MQTTAuthConfig      `yaml:"auth"`
	QoS             int                 `yaml:"qos" validate:"min=0,max=2"`
	DiscoveryPrefix string              `yaml:"discovery_prefix" validate:"required"`
	TopicPrefix     string              `yaml:"topic_prefix" validate:"required"`
	Reconnect       MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id" validate:"required"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// MaxAttempts of 0 retries the initial connection forever.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" validate:"min=1"`
	MaxDelay     int `yaml:"max_delay" validate:"min=1"`
	MaxAttempts  int `yaml:"max_attempts" validate:"min=0"`
}

// DevicesConfig contains per-device-type settings.
type DevicesConfig struct {
	DMX DMXConfig `yaml:"dmx"`
}

// DMXConfig describes the fixtures patched into the DMX universe.
type DMXConfig struct {
	Fixtures []FixtureConfig `yaml:"fixtures" validate:"dive"`
}

// FixtureConfig is one light fixture occupying Width channels from Start (1-based).
type FixtureConfig struct {
	Name  string `yaml:"name" validate:"required"`
	Start int    `yaml:"start" validate:"min=1,max=512"`
	Width int    `yaml:"width" validate:"oneof=3 4"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url" validate:"required_if=Enabled true"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket" validate:"required_if=Enabled true"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// InventoryConfig contains settings for the optional SQLite device inventory.
type InventoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path" validate:"required_if=Enabled true"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"required_if=Enabled true"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout stderr"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// A missing file is not an error when allowMissing is true; defaults and
// environment overrides are used instead.
//
// Environment variables follow the pattern: TF2MQTT_SECTION_KEY
// For example: TF2MQTT_HARDWARE_HOST, TF2MQTT_MQTT_PASSWORD
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case allowMissing && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Hardware: HardwareConfig{
			Host:              "localhost",
			Port:              4223,
			ConnectTimeout:    10,
			EnumerateInterval: 5,
			ReconnectCooldown: 1,
			StalePasses:       3,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tinkerforge2mqtt",
			},
			QoS:             1,
			DiscoveryPrefix: "homeassistant",
			TopicPrefix:     "tinkerforge",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Devices: DevicesConfig{
			DMX: DMXConfig{
				Fixtures: []FixtureConfig{
					{Name: "DMX Light", Start: 1, Width: 3},
				},
			},
		},
		Inventory: InventoryConfig{
			Path:        "./data/inventory.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Metrics: MetricsConfig{
			Listen: ":9108",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Hardware
	if v := os.Getenv("TF2MQTT_HARDWARE_HOST"); v != "" {
		cfg.Hardware.Host = v
	}
	if v := os.Getenv("TF2MQTT_HARDWARE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Hardware.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("TF2MQTT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TF2MQTT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("TF2MQTT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TF2MQTT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("TF2MQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("TF2MQTT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Struct-level rules live in the validate tags; cross-field rules that the
// tags cannot express (fixture bounds and overlaps) are checked here.
func (c *Config) Validate() error {
	var errs []string

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must be >= initial_delay")
	}

	used := make(map[int]string, dmxChannelCount)
	for _, f := range c.Devices.DMX.Fixtures {
		end := f.Start + f.Width - 1
		if end > dmxChannelCount {
			errs = append(errs, fmt.Sprintf("devices.dmx.fixtures[%s] channels %d-%d exceed %d", f.Name, f.Start, end, dmxChannelCount))
			continue
		}
		for ch := f.Start; ch <= end; ch++ {
			if other, taken := used[ch]; taken {
				errs = append(errs, fmt.Sprintf("devices.dmx.fixtures[%s] overlaps %s at channel %d", f.Name, other, ch))
				break
			}
			used[ch] = f.Name
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HardwareAddress returns the brickd host:port pair.
func (c *Config) HardwareAddress() string {
	return fmt.Sprintf("%s:%d", c.Hardware.Host, c.Hardware.Port)
}

// ConnectTimeout returns the hardware connect timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Hardware.ConnectTimeout) * time.Second
}

// EnumerateInterval returns the enumeration period as a Duration.
func (c *Config) EnumerateInterval() time.Duration {
	return time.Duration(c.Hardware.EnumerateInterval) * time.Second
}

// ReconnectCooldown returns the post-failure pause as a Duration.
func (c *Config) ReconnectCooldown() time.Duration {
	return time.Duration(c.Hardware.ReconnectCooldown) * time.Second
}

// StaleTimeout returns how long a device may go unseen before it is dropped.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.Hardware.StalePasses) * c.EnumerateInterval()
}
