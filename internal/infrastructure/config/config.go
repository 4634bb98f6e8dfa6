package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mj41/ha-modbus-windows-shutter/internal/bridges/modbus"
	"github.com/mj41/ha-modbus-windows-shutter/internal/shutter"
)

// supportedVersionPrefix gates the configuration schema. Files declaring
// an incompatible major version are rejected at load time rather than
// misinterpreted at run time.
const supportedVersionPrefix = "v1."

// Config is the root configuration structure for shutterd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	ConfigVersion string                   `yaml:"config_version"`
	Logging       LoggingConfig            `yaml:"logging"`
	Modbus        ModbusConfig             `yaml:"modbus"`
	MQTT          MQTTConfig               `yaml:"mqtt"`
	History       HistoryConfig            `yaml:"history"`
	Shutters      map[string]ShutterConfig `yaml:"shutters"`
	ShutterGroups map[string][]string      `yaml:"shutter_groups"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ModbusConfig contains relay board connection settings.
type ModbusConfig struct {
	Mode      string  `yaml:"mode"`
	RTUDevice string  `yaml:"rtu_device"`
	RTUBaud   int     `yaml:"rtu_baud"`
	TCPHost   string  `yaml:"tcp_host"`
	TCPPort   int     `yaml:"tcp_port"`
	SlaveID   int     `yaml:"slave_id"`
	Timeout   float64 `yaml:"timeout"` // seconds

	// DeviceAddress, when non-zero, is verified against the board's
	// device-address register at startup. Guards against driving the
	// wrong board on a shared RS-485 bus.
	DeviceAddress int `yaml:"device_address"`
}

// MQTTConfig contains MQTT broker connection settings for service mode.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// HistoryConfig contains invocation history database settings.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds

	// RetentionDays bounds how long invocation records are kept.
	// Records older than this are pruned at startup. 0 keeps forever.
	RetentionDays int `yaml:"retention_days"`
}

// ShutterConfig declares one shutter's named actions.
type ShutterConfig struct {
	Actions map[string]ActionConfig `yaml:"actions"`
}

// ActionConfig is one named relay program.
type ActionConfig struct {
	RelaySeq []RelayStepConfig `yaml:"relay_seq"`
}

// RelayStepConfig is one step of a relay program. Delay is in seconds as
// written by installers; it is converted to a millisecond Duration exactly
// once, when the inventory is built.
type RelayStepConfig struct {
	RelayNum int     `yaml:"relay_num"`
	Delay    float64 `yaml:"delay"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SHUTTERD_SECTION_KEY
// For example: SHUTTERD_MODBUS_DEVICE, SHUTTERD_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		ConfigVersion: "v1.0",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Modbus: ModbusConfig{
			Mode:      "rtu",
			RTUDevice: "/dev/ttyUSB0",
			RTUBaud:   9600,
			TCPPort:   502,
			SlaveID:   1,
			Timeout:   5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "shutterd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/shutterd.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 90,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SHUTTERD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Modbus
	if v := os.Getenv("SHUTTERD_MODBUS_MODE"); v != "" {
		cfg.Modbus.Mode = v
	}
	if v := os.Getenv("SHUTTERD_MODBUS_DEVICE"); v != "" {
		cfg.Modbus.RTUDevice = v
	}
	if v := os.Getenv("SHUTTERD_MODBUS_HOST"); v != "" {
		cfg.Modbus.TCPHost = v
	}
	if v := os.Getenv("SHUTTERD_MODBUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Modbus.TCPPort = port
		}
	}

	// MQTT
	if v := os.Getenv("SHUTTERD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SHUTTERD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SHUTTERD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// History
	if v := os.Getenv("SHUTTERD_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Schema version gate
	if c.ConfigVersion == "" {
		errs = append(errs, "config_version is required")
	} else if !strings.HasPrefix(c.ConfigVersion, supportedVersionPrefix) {
		errs = append(errs, fmt.Sprintf(
			"config_version %q is not supported (want %sx)", c.ConfigVersion, supportedVersionPrefix))
	}

	// Modbus validation
	switch strings.ToLower(c.Modbus.Mode) {
	case "rtu":
		if c.Modbus.RTUDevice == "" {
			errs = append(errs, "modbus.rtu_device is required in rtu mode")
		}
	case "tcp":
		if c.Modbus.TCPHost == "" {
			errs = append(errs, "modbus.tcp_host is required in tcp mode")
		}
		if c.Modbus.TCPPort < 1 || c.Modbus.TCPPort > 65535 {
			errs = append(errs, "modbus.tcp_port must be between 1 and 65535")
		}
	default:
		errs = append(errs, "modbus.mode must be rtu or tcp")
	}
	if c.Modbus.SlaveID < 0 || c.Modbus.SlaveID > 255 {
		errs = append(errs, "modbus.slave_id must be between 0 and 255")
	}
	if c.Modbus.Timeout < 0 {
		errs = append(errs, "modbus.timeout must not be negative")
	}

	// MQTT validation (only meaningful in service mode, but a broken
	// stanza is rejected regardless so mistakes surface early)
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// History validation
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, "history.retention_days must not be negative")
	}

	// Shutter inventory validation
	for name, sc := range c.Shutters {
		if len(sc.Actions) == 0 {
			errs = append(errs, fmt.Sprintf("shutters.%s declares no actions", name))
		}
		for action, ac := range sc.Actions {
			if action == shutter.ActionStop {
				errs = append(errs, fmt.Sprintf(
					"shutters.%s: %q is reserved and cannot be declared", name, action))
			}
			for i, step := range ac.RelaySeq {
				if step.RelayNum < modbus.MinRelay || step.RelayNum > modbus.MaxRelay {
					errs = append(errs, fmt.Sprintf(
						"shutters.%s.%s step %d: relay_num %d out of range %d..%d",
						name, action, i, step.RelayNum, modbus.MinRelay, modbus.MaxRelay))
				}
				if step.Delay < 0 {
					errs = append(errs, fmt.Sprintf(
						"shutters.%s.%s step %d: delay must not be negative", name, action, i))
				}
			}
		}
	}

	// Group membership validation
	for group, members := range c.ShutterGroups {
		if _, clash := c.Shutters[group]; clash {
			errs = append(errs, fmt.Sprintf(
				"shutter_groups.%s: name collides with a shutter", group))
		}
		if len(members) == 0 {
			errs = append(errs, fmt.Sprintf("shutter_groups.%s has no members", group))
		}
		for _, member := range members {
			if _, ok := c.Shutters[member]; !ok {
				errs = append(errs, fmt.Sprintf(
					"shutter_groups.%s references undeclared shutter %q", group, member))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ShutterInventory converts the declared shutters into the domain model.
//
// The seconds-to-milliseconds conversion happens here, exactly once:
// everything downstream works in integer-millisecond Durations and never
// sees floating point.
func (c *Config) ShutterInventory() map[string]shutter.Shutter {
	inventory := make(map[string]shutter.Shutter, len(c.Shutters))
	for name, sc := range c.Shutters {
		actions := make(map[string]shutter.Sequence, len(sc.Actions))
		for action, ac := range sc.Actions {
			seq := make(shutter.Sequence, 0, len(ac.RelaySeq))
			for _, step := range ac.RelaySeq {
				seq = append(seq, shutter.Step{
					Relay:    step.RelayNum,
					Duration: secondsToDuration(step.Delay),
				})
			}
			actions[action] = seq
		}
		inventory[name] = shutter.Shutter{Name: name, Actions: actions}
	}
	return inventory
}

// secondsToDuration converts a fractional-second delay to a whole
// millisecond Duration, rounding half away from zero.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds*1000)) * time.Millisecond
}

// ModbusClientConfig maps the Modbus stanza onto the bridge's own config.
func (c *Config) ModbusClientConfig() modbus.Config {
	return modbus.Config{
		Mode:    c.Modbus.Mode,
		Device:  c.Modbus.RTUDevice,
		Baud:    c.Modbus.RTUBaud,
		Host:    c.Modbus.TCPHost,
		Port:    c.Modbus.TCPPort,
		SlaveID: byte(c.Modbus.SlaveID),
		Timeout: secondsToDuration(c.Modbus.Timeout),
	}
}
