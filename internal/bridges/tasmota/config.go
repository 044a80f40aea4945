package tasmota

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTemperatureKey is the StatusSNS sensor read by the temperature property.
const DefaultTemperatureKey = "DS18B20"

// minPollInterval guards against hammering devices.
const minPollInterval = 100

// Config is the root configuration for the Tasmota bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Polling  PollingConfig  `yaml:"polling"`
	Features Features       `yaml:"features"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health reports.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`

	// HistoryRetentionDays is how long property history is kept.
	// Default: 30 days. 0 disables pruning.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// PollingConfig controls the per-device poll loop.
type PollingConfig struct {
	// IntervalMS is the poll period in milliseconds. Required.
	IntervalMS int `yaml:"interval_ms"`

	// RequestTimeoutMS bounds each HTTP request. Default: 5000.
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
}

// Features are the optional behaviours applied to every device unless a
// device overrides them.
type Features struct {
	// TemperatureSensor adds a temperature property to plugs.
	TemperatureSensor bool `yaml:"temperature_sensor" json:"temperature_sensor"`

	// TemperatureKey is the StatusSNS sensor name. Default: DS18B20.
	TemperatureKey string `yaml:"temperature_key" json:"temperature_key"`

	// MultiChannelRelay probes Power1..Power9 on plugs.
	MultiChannelRelay bool `yaml:"multi_channel_relay" json:"multi_channel_relay"`

	// UseWhiteLEDInColorMode sends greys to the white channel on RGBW lights.
	UseWhiteLEDInColorMode bool `yaml:"use_white_led_in_color_mode" json:"use_white_led_in_color_mode"`

	// ColorMode adds the derived colorMode property to colour + CT lights.
	// Default: true.
	ColorMode bool `yaml:"color_mode" json:"color_mode"`
}

// FeatureOverrides replaces individual global features for one device.
type FeatureOverrides struct {
	TemperatureSensor      *bool  `yaml:"temperature_sensor"`
	TemperatureKey         string `yaml:"temperature_key"`
	MultiChannelRelay      *bool  `yaml:"multi_channel_relay"`
	UseWhiteLEDInColorMode *bool  `yaml:"use_white_led_in_color_mode"`
	ColorMode              *bool  `yaml:"color_mode"`
}

// DeviceConfig defines one Tasmota device.
type DeviceConfig struct {
	// ID is the Gray Logic device identifier.
	ID string `yaml:"id"`

	// Name is the display name. Default: ID.
	Name string `yaml:"name"`

	// Type is light, plug or auto. Default: auto.
	Type DeviceType `yaml:"type"`

	Host string `yaml:"host"`

	// Port of the Tasmota web server. Default: 80.
	Port int `yaml:"port"`

	// Username for the web password. Default: admin.
	Username string `yaml:"username"`

	// Password is the Tasmota web password (optional).
	// WARNING: Never log this value. Use String() method for safe logging.
	Password string `yaml:"password"`

	// Capabilities overrides light capability detection.
	Capabilities []Kind `yaml:"capabilities"`

	// Features overrides global features for this device.
	Features *FeatureOverrides `yaml:"features"`
}

// Endpoint returns the transport endpoint for this device.
func (d DeviceConfig) Endpoint() Endpoint {
	return Endpoint{
		Host:     d.Host,
		Port:     d.Port,
		Username: d.Username,
		Password: d.Password,
	}
}

// String returns a string representation with password masked.
func (d DeviceConfig) String() string {
	password := ""
	if d.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("DeviceConfig{ID:%q, Type:%q, Host:%q, Port:%d, Password:%s}",
		d.ID, d.Type, d.Host, d.Port, password)
}

// MarshalJSON implements json.Marshaler to redact the password.
func (d DeviceConfig) MarshalJSON() ([]byte, error) {
	type redacted DeviceConfig
	safe := redacted(d)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TASMOTA_BRIDGE_KEY
// For example: TASMOTA_BRIDGE_POLL_INTERVAL_MS
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig builds a Config from YAML bytes, applying defaults and
// environment overrides before validation.
func ParseConfig(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDeviceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// The poll interval has no default and must be configured.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:                   "tasmota-bridge-01",
			HealthInterval:       30,
			HistoryRetentionDays: 30,
		},
		Polling: PollingConfig{
			RequestTimeoutMS: 5000,
		},
		Features: Features{
			TemperatureKey: DefaultTemperatureKey,
			ColorMode:      true,
		},
		Devices: []DeviceConfig{},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TASMOTA_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("TASMOTA_BRIDGE_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Polling.IntervalMS = n
		}
	}
	if v := os.Getenv("TASMOTA_BRIDGE_REQUEST_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Polling.RequestTimeoutMS = n
		}
	}

	// Shared web password for devices that do not set their own.
	if v := os.Getenv("TASMOTA_BRIDGE_DEVICE_PASSWORD"); v != "" {
		for i := range cfg.Devices {
			if cfg.Devices[i].Password == "" {
				cfg.Devices[i].Password = v
			}
		}
	}
}

func (c *Config) applyDeviceDefaults() {
	for i := range c.Devices {
		dev := &c.Devices[i]
		if dev.Type == "" {
			dev.Type = DeviceTypeAuto
		}
		if dev.Port == 0 {
			dev.Port = DefaultPort
		}
		if dev.Username == "" {
			dev.Username = DefaultUsername
		}
		if dev.Name == "" {
			dev.Name = dev.ID
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.HistoryRetentionDays < 0 {
		errs = append(errs, "bridge.history_retention_days must not be negative")
	}
	if c.Polling.IntervalMS < minPollInterval {
		errs = append(errs, fmt.Sprintf("polling.interval_ms is required and must be at least %d", minPollInterval))
	}
	if c.Polling.RequestTimeoutMS < 1 {
		errs = append(errs, "polling.request_timeout_ms must be positive")
	}

	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateDevices validates device configurations.
func (c *Config) validateDevices() []string {
	var errs []string
	ids := make(map[string]bool)

	for i, dev := range c.Devices {
		if dev.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
			continue
		}
		if ids[dev.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicate", i, dev.ID))
		}
		ids[dev.ID] = true

		if dev.Host == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].host is required", i))
		}
		if dev.Port < 1 || dev.Port > 65535 {
			errs = append(errs, fmt.Sprintf("devices[%d].port %d is out of range", i, dev.Port))
		}

		switch dev.Type {
		case DeviceTypeLight, DeviceTypePlug, DeviceTypeAuto:
		default:
			errs = append(errs, fmt.Sprintf("devices[%d].type %q is invalid (use light, plug, or auto)", i, dev.Type))
		}

		if len(dev.Capabilities) > 0 {
			if dev.Type == DeviceTypePlug {
				errs = append(errs, fmt.Sprintf("devices[%d].capabilities only apply to lights", i))
			} else if _, err := normaliseKinds(dev.Capabilities); err != nil {
				errs = append(errs, fmt.Sprintf("devices[%d].capabilities: %v", i, err))
			}
		}
	}

	return errs
}

// GetPollInterval returns the poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalMS) * time.Millisecond
}

// GetRequestTimeout returns the per-request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Polling.RequestTimeoutMS) * time.Millisecond
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetHistoryRetention returns how long history is kept (0 = forever).
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Bridge.HistoryRetentionDays) * 24 * time.Hour
}

// FeaturesFor merges a device's overrides over the global features.
func (c *Config) FeaturesFor(dev DeviceConfig) Features {
	f := c.Features
	o := dev.Features
	if o == nil {
		return f
	}
	if o.TemperatureSensor != nil {
		f.TemperatureSensor = *o.TemperatureSensor
	}
	if o.TemperatureKey != "" {
		f.TemperatureKey = o.TemperatureKey
	}
	if o.MultiChannelRelay != nil {
		f.MultiChannelRelay = *o.MultiChannelRelay
	}
	if o.UseWhiteLEDInColorMode != nil {
		f.UseWhiteLEDInColorMode = *o.UseWhiteLEDInColorMode
	}
	if o.ColorMode != nil {
		f.ColorMode = *o.ColorMode
	}
	return f
}
