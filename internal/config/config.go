// Package config loads and validates sockhubd's YAML configuration,
// following the Default/Load/Validate shape of the teacher's own config
// package: a Config struct with yaml tags, a Duration wrapper for
// human-readable durations, and defaults applied before a file is merged
// in.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete sockhubd server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	EngineIO EngineIOConfig `yaml:"engineio"`
	Rooms   RoomsConfig   `yaml:"rooms"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Address      string    `yaml:"address"`
	HTTP2        bool      `yaml:"http2"`
	TLS          TLSConfig `yaml:"tls"`
	HTTPRedirect bool      `yaml:"http_redirect"`
}

type TLSConfig struct {
	Auto bool       `yaml:"auto"`
	Cert string     `yaml:"cert"`
	Key  string      `yaml:"key"`
	ACME ACMEConfig `yaml:"acme"`
}

type ACMEConfig struct {
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"`
	Staging  bool     `yaml:"staging"`
}

// EngineIOConfig carries the handshake/heartbeat parameters advertised in
// the Engine.IO OPEN packet and the long-poll session's backpressure bound.
type EngineIOConfig struct {
	Path                   string   `yaml:"path"`
	PingInterval           Duration `yaml:"ping_interval"`
	PingTimeout            Duration `yaml:"ping_timeout"`
	UpgradeTimeout         Duration `yaml:"upgrade_timeout"`
	MaxPayloadBytes        int      `yaml:"max_payload_bytes"`
	PollingChannelCapacity int      `yaml:"polling_channel_capacity"`
	AllowUpgrades          bool     `yaml:"allow_upgrades"`
}

// RoomsConfig bounds the broadcast fan-out pool serving Server.EmitTo.
type RoomsConfig struct {
	BroadcastWorkers int `yaml:"broadcast_workers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Duration is a time.Duration that supports YAML string unmarshaling
// ("30s", "2m") instead of raw nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0:8080",
			HTTP2:   true,
			TLS:     TLSConfig{Auto: false},
		},
		EngineIO: EngineIOConfig{
			Path:                   "/socket.io/",
			PingInterval:           Duration(25 * time.Second),
			PingTimeout:            Duration(20 * time.Second),
			UpgradeTimeout:         Duration(10 * time.Second),
			MaxPayloadBytes:        1 << 20,
			PollingChannelCapacity: 100,
			AllowUpgrades:          true,
		},
		Rooms: RoomsConfig{
			BroadcastWorkers: 8,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads config from a YAML file, merging it over Default(), and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.EngineIO.Path == "" {
		return fmt.Errorf("engineio.path is required")
	}
	if c.EngineIO.PingInterval.Duration() <= 0 {
		return fmt.Errorf("engineio.ping_interval must be > 0, got %s", c.EngineIO.PingInterval.Duration())
	}
	if c.EngineIO.PingTimeout.Duration() <= 0 {
		return fmt.Errorf("engineio.ping_timeout must be > 0, got %s", c.EngineIO.PingTimeout.Duration())
	}
	if c.EngineIO.MaxPayloadBytes <= 0 {
		return fmt.Errorf("engineio.max_payload_bytes must be > 0, got %d", c.EngineIO.MaxPayloadBytes)
	}
	if c.EngineIO.PollingChannelCapacity <= 0 {
		return fmt.Errorf("engineio.polling_channel_capacity must be > 0, got %d", c.EngineIO.PollingChannelCapacity)
	}
	if c.Rooms.BroadcastWorkers <= 0 {
		return fmt.Errorf("rooms.broadcast_workers must be > 0, got %d", c.Rooms.BroadcastWorkers)
	}
	if c.Server.TLS.Auto && len(c.Server.TLS.ACME.Domains) == 0 {
		return fmt.Errorf("server.tls.acme.domains is required when server.tls.auto is enabled")
	}
	return nil
}

// HeartbeatParams returns the ping interval/timeout pair used both in the
// OPEN handshake payload and to build an internal/rawsocket.Config.
func (c *Config) HeartbeatParams() (pingInterval, pingTimeout time.Duration) {
	return c.EngineIO.PingInterval.Duration(), c.EngineIO.PingTimeout.Duration()
}
