// Package config loads the YAML configuration used by the publish
// command. Defaults come from struct tags; values present in the file
// override them.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// StationConfig selects the station to poll and tunes connection timing.
type StationConfig struct {
	// Address is the BLE address of the station. When empty, the first
	// station discovered by name is used.
	Address string `yaml:"address"`
	// Names overrides the advertised names matched during discovery.
	Names          []string `yaml:"names"`
	ConnectTimeout string   `yaml:"connect_timeout" default:"30s"`
	// SettleWindow is how long notifications must stay silent before a
	// measurement pass is considered complete.
	SettleWindow string `yaml:"settle_window" default:"1s"`
	// RetryTimeout bounds retries of a failed measurement pass.
	RetryTimeout string `yaml:"retry_timeout" default:"1m"`
}

// MQTTConfig configures the broker connection and topic layout.
type MQTTConfig struct {
	Broker   string `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID string `yaml:"client_id" default:"blews"`
	Topic    string `yaml:"topic" default:"blews"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos" default:"0"`
	Retain   bool   `yaml:"retain"`
}

// Config is the root configuration for the publish command.
type Config struct {
	Station      StationConfig `yaml:"station"`
	MQTT         MQTTConfig    `yaml:"mqtt"`
	PollInterval string        `yaml:"poll_interval" default:"5m"`
	LogLevel     string        `yaml:"log_level" default:"info"`
}

// Default returns a Config with all default values applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path on top of the defaults and
// validates the result. An empty path returns validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks durations, the QoS level and the log level.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"poll_interval":           c.PollInterval,
		"station.connect_timeout": c.Station.ConnectTimeout,
		"station.settle_window":   c.Station.SettleWindow,
		"station.retry_timeout":   c.Station.RetryTimeout,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, value)
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must not be empty")
	}
	if c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic must not be empty")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	return nil
}

// PollIntervalDuration returns the parsed poll interval. Validate must
// have succeeded first.
func (c *Config) PollIntervalDuration() time.Duration {
	return mustDuration(c.PollInterval)
}

// ConnectTimeoutDuration returns the parsed connect timeout.
func (s *StationConfig) ConnectTimeoutDuration() time.Duration {
	return mustDuration(s.ConnectTimeout)
}

// SettleWindowDuration returns the parsed settle window.
func (s *StationConfig) SettleWindowDuration() time.Duration {
	return mustDuration(s.SettleWindow)
}

// RetryTimeoutDuration returns the parsed retry timeout.
func (s *StationConfig) RetryTimeoutDuration() time.Duration {
	return mustDuration(s.RetryTimeout)
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("duration %q not validated: %v", value, err))
	}
	return d
}
