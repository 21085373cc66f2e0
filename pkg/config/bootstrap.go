package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapFilename is the process configuration file looked up in the config directory.
const BootstrapFilename = "robotlink_config.yaml"

// BootstrapConfig holds the initial configuration loaded from robotlink_config.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig         `yaml:"logging"`
	Server     BootstrapServerConfig `yaml:"server"`
	Radio      RadioConfig           `yaml:"radio"`
	ZeroMQ     ZeroMQBootstrap       `yaml:"zeromq"`
	MQTT       MQTTBootstrap         `yaml:"mqtt"`
	Data       DataConfig            `yaml:"data"`
	Processing ProcessingConfig      `yaml:"processing"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogPath    string `yaml:"log_path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// BootstrapServerConfig holds HTTP server settings
type BootstrapServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// Radio backends
const (
	RadioBluetooth = "bluetooth"
	RadioFake      = "fake"
)

// RadioConfig selects the Bluetooth backend.
type RadioConfig struct {
	Backend string `yaml:"backend"`
}

// ZeroMQBootstrap holds ZeroMQ settings from bootstrap
type ZeroMQBootstrap struct {
	Enabled            bool   `yaml:"enabled"`
	RequestBindAddress string `yaml:"request_bind_address"`
	PublishBindAddress string `yaml:"publish_bind_address"`
}

// MQTTBootstrap holds the optional MQTT telemetry publisher settings
type MQTTBootstrap struct {
	Enabled           bool   `yaml:"enabled"`
	Broker            string `yaml:"broker"`
	ClientID          string `yaml:"client_id"`
	Username          string `yaml:"username,omitempty"`
	Password          string `yaml:"password,omitempty"`
	TopicPrefix       string `yaml:"topic_prefix"`
	QoS               byte   `yaml:"qos"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
}

// ProcessingConfig sizes the telemetry fan-out pool
type ProcessingConfig struct {
	TelemetryWorkers   int `yaml:"telemetry_workers"`
	TelemetryQueueSize int `yaml:"telemetry_queue_size"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory          string `yaml:"directory"`
	LinkConfigFilename string `yaml:"link_config_file"`
}

// LinkConfigPath returns the operational link configuration file path.
func (d DataConfig) LinkConfigPath() string {
	return filepath.Join(d.Directory, d.LinkConfigFilename)
}

// LoadBootstrapConfig loads the bootstrap configuration from robotlink_config.yaml
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFilename)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	bootstrapCfg.applyDefaults()

	if bootstrapCfg.ZeroMQ.Enabled {
		if bootstrapCfg.ZeroMQ.RequestBindAddress == "" {
			return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.request_bind_address")
		}
		if bootstrapCfg.ZeroMQ.PublishBindAddress == "" {
			return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.publish_bind_address")
		}
	}
	if bootstrapCfg.MQTT.Enabled && bootstrapCfg.MQTT.Broker == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: mqtt.broker")
	}
	if bootstrapCfg.Data.Directory == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if bootstrapCfg.Data.LinkConfigFilename == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.link_config_file")
	}
	switch bootstrapCfg.Radio.Backend {
	case RadioBluetooth, RadioFake:
	default:
		return nil, fmt.Errorf("invalid radio.backend '%s' in bootstrap config", bootstrapCfg.Radio.Backend)
	}

	return &bootstrapCfg, nil
}

func (c *BootstrapConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Radio.Backend == "" {
		c.Radio.Backend = RadioBluetooth
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "robotlink"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "robotlink"
	}
	if c.MQTT.ConnectTimeoutSec == 0 {
		c.MQTT.ConnectTimeoutSec = 10
	}
	if c.Processing.TelemetryWorkers == 0 {
		c.Processing.TelemetryWorkers = 1
	}
	if c.Processing.TelemetryQueueSize == 0 {
		c.Processing.TelemetryQueueSize = 64
	}
}
