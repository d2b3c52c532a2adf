package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Devices         []DeviceConfig   `yaml:"devices"`
	Device          DeviceDefaults   `yaml:"device"`
	Throttle        ThrottleConfig   `yaml:"throttle"`
	Transition      TransitionConfig `yaml:"transition"`
	Optimistic      OptimisticConfig `yaml:"optimistic"`
	Presets         PresetConfig     `yaml:"presets"`
	Database        DatabaseConfig   `yaml:"database"`
	Log             LogConfig        `yaml:"log"`
	EventBus        EventBusConfig   `yaml:"eventbus"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DeviceConfig describes one LED controller on the network
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"` // host or host:port
	LEDs    int    `yaml:"leds"`    // fallback strip length until the device reports one
}

// DeviceDefaults contains settings shared by all devices
type DeviceDefaults struct {
	Timeout         Duration `yaml:"timeout"`          // HTTP timeout for device requests
	RefreshInterval Duration `yaml:"refresh_interval"` // Periodic state refresh interval
}

// ThrottleConfig contains interactive edit debounce settings
type ThrottleConfig struct {
	Window     Duration `yaml:"window"`      // Debounce window for single-value edits
	DualWindow Duration `yaml:"dual_window"` // Wider window for dual-value controls
}

// TransitionConfig contains timed transition settings
type TransitionConfig struct {
	MaxWriteRate float64 `yaml:"max_write_rate"` // Hard cap on transition frames per second
}

// OptimisticConfig contains optimistic state settings
type OptimisticConfig struct {
	Window Duration `yaml:"window"` // How long intended state outranks a mismatching read
}

// PresetConfig contains preset sync settings
type PresetConfig struct {
	SyncRPS     float64  `yaml:"sync_rps"`     // Rate limit for background preset pushes
	SyncTimeout Duration `yaml:"sync_timeout"` // Per-push timeout
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	for i, dev := range cfg.Devices {
		if dev.Name == "" {
			return nil, fmt.Errorf("devices[%d]: name is required", i)
		}
		if dev.Address == "" {
			return nil, fmt.Errorf("device %q: address is required", dev.Name)
		}
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./glowd.sqlite"
	}

	// Device defaults
	if cfg.Device.Timeout == 0 {
		cfg.Device.Timeout = Duration(5 * time.Second)
	}
	if cfg.Device.RefreshInterval == 0 {
		cfg.Device.RefreshInterval = Duration(30 * time.Second)
	}

	// Throttle defaults
	if cfg.Throttle.Window == 0 {
		cfg.Throttle.Window = Duration(60 * time.Millisecond)
	}
	if cfg.Throttle.DualWindow == 0 {
		cfg.Throttle.DualWindow = Duration(150 * time.Millisecond)
	}

	// Transition defaults
	if cfg.Transition.MaxWriteRate == 0 {
		cfg.Transition.MaxWriteRate = 20.0 // 20 writes per second
	}

	// Optimistic defaults
	if cfg.Optimistic.Window == 0 {
		cfg.Optimistic.Window = Duration(750 * time.Millisecond)
	}

	// Preset sync defaults
	if cfg.Presets.SyncRPS == 0 {
		cfg.Presets.SyncRPS = 2.0
	}
	if cfg.Presets.SyncTimeout == 0 {
		cfg.Presets.SyncTimeout = Duration(10 * time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
