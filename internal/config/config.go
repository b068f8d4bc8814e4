// Package config loads server configuration from a YAML file with
// SKYBUS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openastro/skybus/internal/logging"
)

// Config is the top-level server configuration.
type Config struct {
	Bus       BusConfig       `mapstructure:"bus"`
	Server    ServerConfig    `mapstructure:"server"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Log       LogConfig       `mapstructure:"log"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// BusConfig bounds the registry tables and selects the locking mode.
type BusConfig struct {
	// MaxDevices and MaxClients cap the bounded registry tables.
	MaxDevices int `mapstructure:"max_devices"`
	MaxClients int `mapstructure:"max_clients"`

	// StrictLocking wraps dispatch fan-out in the emitting device's lock.
	StrictLocking bool `mapstructure:"strict_locking"`

	// BlobProxy caches the latest BLOB content for URL-mode clients.
	BlobProxy bool `mapstructure:"blob_proxy"`

	// TimerWorkers sizes the timer callback pool.
	TimerWorkers int `mapstructure:"timer_workers"`
}

// ServerConfig holds the network listener addresses.
type ServerConfig struct {
	// TCPAddress is the listen address of the line-oriented JSON adapter.
	TCPAddress string `mapstructure:"tcp_address"`

	// HTTPAddress is the listen address of the BLOB/status HTTP server.
	HTTPAddress string `mapstructure:"http_address"`

	// DiscoveryPort is the UDP port answering discovery probes; zero
	// disables the responder.
	DiscoveryPort int `mapstructure:"discovery_port"`

	// ConfigDir is where drivers persist per-device configuration files.
	ConfigDir string `mapstructure:"config_dir"`
}

// MQTTConfig configures the optional MQTT bridge adapter.
type MQTTConfig struct {
	// BrokerURL enables the bridge when non-empty, e.g. "tcp://broker:1883".
	BrokerURL string `mapstructure:"broker_url"`

	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LogConfig selects diagnostic verbosity and routing.
type LogConfig struct {
	Level string `mapstructure:"level"`

	// UseSyslog reroutes diagnostics to the system log on POSIX systems.
	UseSyslog bool `mapstructure:"use_syslog"`
}

// SimulatorConfig controls the built-in simulator devices.
type SimulatorConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Mounts and Cameras are the numbers of simulated devices to attach.
	Mounts  int `mapstructure:"mounts"`
	Cameras int `mapstructure:"cameras"`
}

// Load reads configuration from path (or the default search locations when
// path is empty), applies SKYBUS_* environment overrides and validates the
// result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("skybus")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/skybus")
	}
	v.SetEnvPrefix("SKYBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when no explicit path was given; defaults
		// and environment overrides still apply.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.max_devices", 256)
	v.SetDefault("bus.max_clients", 256)
	v.SetDefault("bus.strict_locking", true)
	v.SetDefault("bus.blob_proxy", true)
	v.SetDefault("bus.timer_workers", 4)
	v.SetDefault("server.tcp_address", ":7624")
	v.SetDefault("server.http_address", ":7626")
	v.SetDefault("server.discovery_port", 7625)
	v.SetDefault("server.config_dir", "")
	v.SetDefault("mqtt.client_id", "skybus-server")
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.use_syslog", false)
	v.SetDefault("simulator.enabled", false)
	v.SetDefault("simulator.mounts", 1)
	v.SetDefault("simulator.cameras", 1)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Bus.MaxDevices <= 0 {
		return fmt.Errorf("bus.max_devices must be positive, got %d", c.Bus.MaxDevices)
	}
	if c.Bus.MaxClients <= 0 {
		return fmt.Errorf("bus.max_clients must be positive, got %d", c.Bus.MaxClients)
	}
	if c.Server.TCPAddress == "" {
		return fmt.Errorf("server.tcp_address must not be empty")
	}
	if c.Server.DiscoveryPort < 0 || c.Server.DiscoveryPort > 65535 {
		return fmt.Errorf("server.discovery_port out of range: %d", c.Server.DiscoveryPort)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// LogLevel returns the parsed diagnostic level.
func (c *Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
