// Package config loads the daemon's YAML configuration: which board it runs
// on, where state lives and which transports are enabled. Values changed
// from the shell at run time live in the settings store instead.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Board    string         `yaml:"board"`
	GPIOChip string         `yaml:"gpio_chip"`
	Tick     time.Duration  `yaml:"tick"`
	StateDir string         `yaml:"state_dir"`
	Serial   SerialConfig   `yaml:"serial"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Journal  JournalConfig  `yaml:"journal"`
	HomeKit  HomeKitConfig  `yaml:"homekit"`
	Log      LogConfig      `yaml:"log"`
	Control  ControlConfig  `yaml:"control"`
}

// SerialConfig selects the serial console. An empty device disables it;
// "stdio" uses the process's standard input and output.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// MQTTConfig contains MQTT broker connection settings. An empty broker
// disables MQTT.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

// HTTPConfig contains the status server address. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// JournalConfig contains the event journal database path. Empty disables
// the journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// HomeKitConfig contains HomeKit accessory settings.
type HomeKitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Name        string `yaml:"name"`
	Pin         string `yaml:"pin"`
	StoragePath string `yaml:"storage_path"`
}

// LogConfig contains the local log threshold.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ControlConfig contains compressor protection settings.
type ControlConfig struct {
	MinOff time.Duration `yaml:"min_off"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. Loading order: defaults, file, environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults for every field.
func Default() *Config {
	return &Config{
		Board:    "rpi",
		GPIOChip: "gpiochip0",
		Tick:     10 * time.Millisecond,
		StateDir: "/var/lib/fridge",
		Serial: SerialConfig{
			Baud: 115200,
		},
		MQTT: MQTTConfig{
			ClientID:  "fridge",
			Heartbeat: 15 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		HomeKit: HomeKitConfig{
			Name:        "Fridge",
			Pin:         "00102003",
			StoragePath: "/var/lib/fridge/homekit",
		},
		Log: LogConfig{
			Level: "info",
		},
		Control: ControlConfig{
			MinOff: 3 * time.Minute,
		},
	}
}

// applyEnvOverrides applies FRIDGE_* environment overrides for secrets and
// deployment-specific endpoints.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FRIDGE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("FRIDGE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("FRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("FRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("FRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("FRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
