// Package config loads wire-host settings from YAML, with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"twowire/core"
)

// Config is the root wire-host configuration.
type Config struct {
	// Backend selects the bus: mcu, linux or sim.
	Backend string `mapstructure:"backend"`

	// Variant selects the device implementation: hardware or software.
	Variant string `mapstructure:"variant"`

	// Platform names the profile used by the software variant.
	Platform string `mapstructure:"platform"`

	Bus    BusConfig    `mapstructure:"bus"`
	Serial SerialConfig `mapstructure:"serial"`
	Sim    SimConfig    `mapstructure:"sim"`
	Log    LogConfig    `mapstructure:"log"`
}

// BusConfig describes the bus devices are attached to.
type BusConfig struct {
	// Name is the periph.io bus name for the linux backend; empty picks the
	// first bus.
	Name string `mapstructure:"name"`
	// ID is the firmware bus index for the mcu backend.
	ID uint8 `mapstructure:"id"`
	// Rate is the initial clock in Hz.
	Rate uint32 `mapstructure:"rate"`
	// MaxBufferSize caps hardware variant transfers; 0 uses the default.
	MaxBufferSize int `mapstructure:"max_buffer_size"`
}

// SerialConfig is used by the mcu backend.
type SerialConfig struct {
	Device            string `mapstructure:"device"`
	Baud              int    `mapstructure:"baud"`
	ReadTimeoutMS     int    `mapstructure:"read_timeout_ms"`
	ResponseTimeoutMS int    `mapstructure:"response_timeout_ms"`
	// DictionaryCache is a file the firmware dictionary is cached in.
	DictionaryCache string `mapstructure:"dictionary_cache"`
}

// SimConfig populates the sim backend.
type SimConfig struct {
	// Memories lists addresses that get a 256 byte register file.
	Memories []int `mapstructure:"memories"`
	// Bridge routes traffic through an in-process firmware and host link
	// instead of driving the simulated bus directly.
	Bridge bool `mapstructure:"bridge"`
	// BufferSize is the simulated driver buffer.
	BufferSize int `mapstructure:"buffer_size"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

func Default() *Config {
	return &Config{
		Backend:  "sim",
		Variant:  "software",
		Platform: "generic",
		Bus: BusConfig{
			Rate: 100000,
		},
		Serial: SerialConfig{
			Device:            "/dev/ttyACM0",
			Baud:              250000,
			ReadTimeoutMS:     100,
			ResponseTimeoutMS: 1000,
		},
		Sim: SimConfig{
			Memories:   []int{0x50},
			BufferSize: core.DefaultBufferSize,
		},
		Log: LogConfig{
			Level:   "warn",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
	}
}

// Load reads configuration from path, or from twowire.yaml in the usual
// places when path is empty. Environment variables use the prefix TWOWIRE
// with "." replaced by "_", e.g. TWOWIRE_SERIAL_DEVICE.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TWOWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Defaults must be known to viper for env-only configs to work.
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("variant", cfg.Variant)
	v.SetDefault("platform", cfg.Platform)
	v.SetDefault("bus.name", cfg.Bus.Name)
	v.SetDefault("bus.id", cfg.Bus.ID)
	v.SetDefault("bus.rate", cfg.Bus.Rate)
	v.SetDefault("bus.max_buffer_size", cfg.Bus.MaxBufferSize)
	v.SetDefault("serial.device", cfg.Serial.Device)
	v.SetDefault("serial.baud", cfg.Serial.Baud)
	v.SetDefault("serial.read_timeout_ms", cfg.Serial.ReadTimeoutMS)
	v.SetDefault("serial.response_timeout_ms", cfg.Serial.ResponseTimeoutMS)
	v.SetDefault("serial.dictionary_cache", cfg.Serial.DictionaryCache)
	v.SetDefault("sim.memories", cfg.Sim.Memories)
	v.SetDefault("sim.bridge", cfg.Sim.Bridge)
	v.SetDefault("sim.buffer_size", cfg.Sim.BufferSize)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("TWOWIRE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("twowire")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "twowire"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalises cfg and rejects unknown choices.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case "mcu", "linux", "sim":
	default:
		return fmt.Errorf("invalid backend: %q", c.Backend)
	}

	c.Variant = strings.ToLower(strings.TrimSpace(c.Variant))
	switch c.Variant {
	case "hardware", "software":
	default:
		return fmt.Errorf("invalid variant: %q", c.Variant)
	}

	if _, err := core.ProfileByName(c.Platform); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	for _, addr := range c.Sim.Memories {
		if addr < 0 || addr > 0x7F {
			return fmt.Errorf("invalid sim memory address: %#x", addr)
		}
	}
	return nil
}
