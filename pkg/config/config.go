package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig marks a configuration that parsed but failed validation.
	ErrInvalidConfig = errors.New("invalid link configuration")
	// ErrMalformedConfig marks input that is not valid YAML.
	ErrMalformedConfig = errors.New("malformed link configuration")
)

// Config is the operational link configuration, editable at runtime via the API.
type Config struct {
	Version     string          `yaml:"version" json:"version"`
	ConfigID    string          `yaml:"config_id" json:"config_id"`
	LastUpdated string          `yaml:"lastUpdated" json:"lastUpdated"`
	RobotID     string          `yaml:"robot_id" json:"robot_id"`
	Link        LinkConfig      `yaml:"link" json:"link"`
	Limits      CommandLimits   `yaml:"limits" json:"limits"`
	Telemetry   TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// LinkConfig addresses the robot and tunes the command loop.
type LinkConfig struct {
	ServiceUUID          string       `yaml:"service_uuid" json:"service_uuid"`
	CharacteristicUUID   string       `yaml:"characteristic_uuid" json:"characteristic_uuid"`
	Device               DeviceFilter `yaml:"device" json:"device"`
	ScanTimeoutMs        int          `yaml:"scan_timeout_ms" json:"scan_timeout_ms"`
	CommandIntervalMs    int          `yaml:"command_interval_ms" json:"command_interval_ms"`
	WriteWithoutResponse *bool        `yaml:"write_without_response,omitempty" json:"write_without_response,omitempty"`
}

// DeviceFilter picks the robot among advertising peripherals.
type DeviceFilter struct {
	Address    string `yaml:"address,omitempty" json:"address,omitempty"`
	Name       string `yaml:"name,omitempty" json:"name,omitempty"`
	NamePrefix string `yaml:"name_prefix,omitempty" json:"name_prefix,omitempty"`
}

// CommandLimits bound operator commands before they reach the loop.
// Zero means unlimited.
type CommandLimits struct {
	MaxLinear  float32 `yaml:"max_linear" json:"max_linear"`
	MaxAngular float32 `yaml:"max_angular" json:"max_angular"`
	// CommandTimeoutMs zeroes the command when the operator goes quiet.
	CommandTimeoutMs int `yaml:"command_timeout_ms" json:"command_timeout_ms"`
}

// CommandTimeout returns the operator dead-man timeout, zero if disabled.
func (l CommandLimits) CommandTimeout() time.Duration {
	return time.Duration(l.CommandTimeoutMs) * time.Millisecond
}

// TelemetryConfig names the topics telemetry is published on.
type TelemetryConfig struct {
	OdometryTopic string `yaml:"odometry_topic" json:"odometry_topic"`
	EventTopic    string `yaml:"event_topic" json:"event_topic"`
}

// Defaults used when the operational file leaves a field empty.
const (
	DefaultCommandIntervalMs = 50
	DefaultScanTimeoutMs     = 30000
	DefaultOdometryTopic     = "robotlink.telemetry.odometry"
	DefaultEventTopic        = "robotlink.link.event"
)

// LoadConfig loads configuration from the specified file path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses, defaults and validates operational YAML.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Link.CommandIntervalMs == 0 {
		c.Link.CommandIntervalMs = DefaultCommandIntervalMs
	}
	if c.Link.ScanTimeoutMs == 0 {
		c.Link.ScanTimeoutMs = DefaultScanTimeoutMs
	}
	if c.Link.WriteWithoutResponse == nil {
		enabled := true
		c.Link.WriteWithoutResponse = &enabled
	}
	if c.Telemetry.OdometryTopic == "" {
		c.Telemetry.OdometryTopic = DefaultOdometryTopic
	}
	if c.Telemetry.EventTopic == "" {
		c.Telemetry.EventTopic = DefaultEventTopic
	}
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.ConfigID == "" || c.Version == "" || c.RobotID == "" {
		return fmt.Errorf("%w: missing required fields (config_id, version, robot_id)", ErrInvalidConfig)
	}
	if c.Link.ServiceUUID == "" || c.Link.CharacteristicUUID == "" {
		return fmt.Errorf("%w: link.service_uuid and link.characteristic_uuid are required", ErrInvalidConfig)
	}
	if c.Link.CommandIntervalMs < 0 {
		return fmt.Errorf("%w: link.command_interval_ms must be positive", ErrInvalidConfig)
	}
	if c.Link.ScanTimeoutMs < 0 {
		return fmt.Errorf("%w: link.scan_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.Limits.CommandTimeoutMs < 0 {
		return fmt.Errorf("%w: limits.command_timeout_ms must not be negative", ErrInvalidConfig)
	}
	for name, v := range map[string]float32{"limits.max_linear": c.Limits.MaxLinear, "limits.max_angular": c.Limits.MaxAngular} {
		if v < 0 || math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: %s must be a non-negative finite number", ErrInvalidConfig, name)
		}
	}
	return nil
}

// CommandInterval returns the command loop period.
func (c *Config) CommandInterval() time.Duration {
	return time.Duration(c.Link.CommandIntervalMs) * time.Millisecond
}

// ScanTimeout returns the device selection bound.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Link.ScanTimeoutMs) * time.Millisecond
}

// UseWriteWithoutResponse reports whether unacknowledged writes are enabled.
func (c *Config) UseWriteWithoutResponse() bool {
	return c.Link.WriteWithoutResponse == nil || *c.Link.WriteWithoutResponse
}
