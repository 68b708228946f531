// Package config loads and validates the YAML configuration file that
// drives the broker, the scheduler and their ambient concerns. It follows
// the same load-once, package-singleton shape as the teacher's JSON
// config loader, but the schema and format are this repository's own.
package config

import (
	"fmt"
	"os"

	"github.com/nas-panel/telemetry-publisher/internal/transform"
	"gopkg.in/yaml.v3"
)

// ServerConfig names this NAS instance for the payloads it publishes.
type ServerConfig struct {
	Hostname string `yaml:"hostname"`
	IP       string `yaml:"ip"`
}

// MQTTReconnect configures the External Client's reconnect backoff.
type MQTTReconnect struct {
	InitialDelaySeconds int `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     int `yaml:"max_delay_seconds"`
}

// MQTTConfig selects and configures the publish transport: either the
// embedded broker ("builtin") or a connection to a separately-run broker
// ("external").
type MQTTConfig struct {
	Type      string        `yaml:"type"`
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Topic     string        `yaml:"topic"`
	QoS       byte          `yaml:"qos"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	ClientID  string        `yaml:"client_id"`
	KeepAlive int           `yaml:"keep_alive"`
	Reconnect MQTTReconnect `yaml:"reconnect"`
}

// CollectionConfig sets how often the scheduler assembles and publishes
// a telemetry payload.
type CollectionConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// CustomCollectorConfig declares one user-defined probe. Transform is one
// of a closed set of names (see internal/transform); there is no
// expression evaluator.
type CustomCollectorConfig struct {
	Name      string  `yaml:"name"`
	Type      string  `yaml:"type"` // file | command | env
	Path      string  `yaml:"path,omitempty"`
	Command   string  `yaml:"command,omitempty"`
	EnvVar    string  `yaml:"env_var,omitempty"`
	Default   string  `yaml:"default,omitempty"` // env: fallback value when EnvVar is unset
	Unit      string  `yaml:"unit,omitempty"`
	Transform string  `yaml:"transform,omitempty"`
	Pattern   string  `yaml:"pattern,omitempty"` // for the regex-extract transform
	Scale     float64 `yaml:"scale,omitempty"`
}

// HistoryConfig is additive to spec.md's option list: it never conflicts
// with the persistent-session-storage Non-goal because it holds published
// payloads, not session or subscription state.
type HistoryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Capacity   int    `yaml:"capacity"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	MongoURI   string `yaml:"mongo_uri,omitempty"`
}

// Config is the root of the YAML configuration file.
type Config struct {
	Server           ServerConfig            `yaml:"server"`
	MQTT             MQTTConfig              `yaml:"mqtt"`
	Collection       CollectionConfig        `yaml:"collection"`
	CustomCollectors []CustomCollectorConfig `yaml:"custom_collectors"`
	History          HistoryConfig           `yaml:"history"`
}

// Default returns the configuration used to bootstrap a first run and to
// seed --generate-config.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Hostname: "nas-panel",
			IP:       "0.0.0.0",
		},
		MQTT: MQTTConfig{
			Type:      "builtin",
			Host:      "0.0.0.0",
			Port:      1883,
			Topic:     "nas/panel/data",
			QoS:       1,
			ClientID:  "nas-panel-publisher",
			KeepAlive: 60,
			Reconnect: MQTTReconnect{InitialDelaySeconds: 1, MaxDelaySeconds: 30},
		},
		Collection: CollectionConfig{IntervalSeconds: 60},
		History: HistoryConfig{
			Enabled:    true,
			Capacity:   200,
			TTLSeconds: 3600,
		},
	}
}

var (
	current     Config
	initialized bool
)

// ReadConfig loads path as YAML into the package-singleton Config. If the
// file does not exist, it is created with default values so a first run
// succeeds immediately rather than asking the operator to retry.
func ReadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
		}
		if err := WriteConfig(path, cfg); err != nil {
			return cfg, fmt.Errorf("%w: writing default config to %s: %v", ErrConfig, path, err)
		}
		current = cfg
		initialized = true
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	current = cfg
	initialized = true
	return cfg, nil
}

// WriteConfig serializes cfg as YAML to path, used both by ReadConfig's
// first-run bootstrap and by the --generate-config CLI flag.
func WriteConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// GetConfig returns the already-loaded config without touching the
// filesystem again.
func GetConfig() (Config, error) {
	if initialized {
		return current, nil
	}
	return Config{}, fmt.Errorf("%w: config not loaded", ErrConfig)
}

// Validate reports structural problems a YAML parse alone wouldn't catch.
func (c *Config) Validate() error {
	switch c.MQTT.Type {
	case "builtin", "external":
	default:
		return fmt.Errorf("mqtt.type must be \"builtin\" or \"external\", got %q", c.MQTT.Type)
	}
	if c.MQTT.QoS > 1 {
		return fmt.Errorf("mqtt.qos must be 0 or 1, got %d", c.MQTT.QoS)
	}
	if c.Collection.IntervalSeconds <= 0 {
		return fmt.Errorf("collection.interval_seconds must be positive, got %d", c.Collection.IntervalSeconds)
	}
	for _, cc := range c.CustomCollectors {
		if cc.Name == "" {
			return fmt.Errorf("custom_collectors entry missing name")
		}
		switch cc.Type {
		case "file", "command", "env":
		default:
			return fmt.Errorf("custom_collectors[%s].type must be file, command or env, got %q", cc.Name, cc.Type)
		}
		if !transform.Valid(cc.Transform) {
			return fmt.Errorf("custom_collectors[%s].transform %q is not a recognised transform", cc.Name, cc.Transform)
		}
	}
	return nil
}
