package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const linkConfigContent = `
version: "1.0"
config_id: "test-link-config"
lastUpdated: "2024-01-01T00:00:00Z"
robot_id: "test-rover"

link:
  service_uuid: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
  characteristic_uuid: "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
  device:
    name_prefix: "rover"
  scan_timeout_ms: 5000
  command_interval_ms: 20
  write_without_response: false

limits:
  max_linear: 1.5
  max_angular: 3.0

telemetry:
  odometry_topic: "rover.odom"
`

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "link_config.yaml")
	if err := os.WriteFile(configPath, []byte(linkConfigContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Version != "1.0" {
		t.Errorf("Expected version 1.0, got %s", config.Version)
	}
	if config.RobotID != "test-rover" {
		t.Errorf("Expected robot_id test-rover, got %s", config.RobotID)
	}
	if config.Link.Device.NamePrefix != "rover" {
		t.Errorf("Expected device name_prefix rover, got %s", config.Link.Device.NamePrefix)
	}
	if config.CommandInterval() != 20*time.Millisecond {
		t.Errorf("Expected 20ms command interval, got %s", config.CommandInterval())
	}
	if config.ScanTimeout() != 5*time.Second {
		t.Errorf("Expected 5s scan timeout, got %s", config.ScanTimeout())
	}
	if config.UseWriteWithoutResponse() {
		t.Errorf("Expected write_without_response to be disabled")
	}
	if config.Limits.MaxLinear != 1.5 || config.Limits.MaxAngular != 3.0 {
		t.Errorf("Unexpected limits: %+v", config.Limits)
	}
	if config.Telemetry.OdometryTopic != "rover.odom" {
		t.Errorf("Expected odometry topic rover.odom, got %s", config.Telemetry.OdometryTopic)
	}
	// event topic was left empty and must be defaulted
	if config.Telemetry.EventTopic != DefaultEventTopic {
		t.Errorf("Expected default event topic, got %s", config.Telemetry.EventTopic)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	minimal := `
version: "1"
config_id: "min"
robot_id: "r1"
link:
  service_uuid: "a"
  characteristic_uuid: "b"
`
	config, err := ParseConfig([]byte(minimal))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if config.CommandInterval() != 50*time.Millisecond {
		t.Errorf("Expected default 50ms interval, got %s", config.CommandInterval())
	}
	if config.ScanTimeout() != 30*time.Second {
		t.Errorf("Expected default 30s scan timeout, got %s", config.ScanTimeout())
	}
	if !config.UseWriteWithoutResponse() {
		t.Errorf("Expected write_without_response enabled by default")
	}
	if config.Telemetry.OdometryTopic != DefaultOdometryTopic {
		t.Errorf("Expected default odometry topic, got %s", config.Telemetry.OdometryTopic)
	}
}

func TestParseConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing robot id", `
version: "1"
config_id: "x"
link: {service_uuid: "a", characteristic_uuid: "b"}
`},
		{"missing uuids", `
version: "1"
config_id: "x"
robot_id: "r"
`},
		{"negative interval", `
version: "1"
config_id: "x"
robot_id: "r"
link: {service_uuid: "a", characteristic_uuid: "b", command_interval_ms: -5}
`},
		{"negative limit", `
version: "1"
config_id: "x"
robot_id: "r"
link: {service_uuid: "a", characteristic_uuid: "b"}
limits: {max_linear: -1}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.content))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParseConfigBadYAML(t *testing.T) {
	_, err := ParseConfig([]byte("version: [unterminated"))
	if err == nil {
		t.Fatal("Expected parse error")
	}
	if errors.Is(err, ErrInvalidConfig) {
		t.Errorf("A YAML syntax error is not a validation error: %v", err)
	}
	if !errors.Is(err, ErrMalformedConfig) {
		t.Errorf("Expected ErrMalformedConfig, got %v", err)
	}
}

func TestLoadBootstrapConfig(t *testing.T) {
	tempDir := t.TempDir()

	bootstrapContent := `
logging:
  level: "debug"
  log_path: "/var/log/robotlink"
  max_size_mb: 20
server:
  http_port: 9090
radio:
  backend: "fake"
zeromq:
  enabled: true
  request_bind_address: "tcp://*:6666"
  publish_bind_address: "tcp://*:7777"
mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  qos: 1
data:
  directory: "/data/robotlink"
  link_config_file: "my_link_config.yaml"
processing:
  telemetry_workers: 2
`
	configPath := filepath.Join(tempDir, BootstrapFilename)
	if err := os.WriteFile(configPath, []byte(bootstrapContent), 0644); err != nil {
		t.Fatalf("Failed to write test bootstrap config: %v", err)
	}

	bootstrapCfg, err := LoadBootstrapConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadBootstrapConfig failed: %v", err)
	}

	if bootstrapCfg.Logging.Level != "debug" {
		t.Errorf("Expected logging level 'debug', got '%s'", bootstrapCfg.Logging.Level)
	}
	if bootstrapCfg.Logging.MaxSizeMB != 20 {
		t.Errorf("Expected max_size_mb 20, got %d", bootstrapCfg.Logging.MaxSizeMB)
	}
	if bootstrapCfg.Server.HTTPPort != 9090 {
		t.Errorf("Expected server http_port 9090, got %d", bootstrapCfg.Server.HTTPPort)
	}
	if bootstrapCfg.Radio.Backend != RadioFake {
		t.Errorf("Expected radio backend 'fake', got '%s'", bootstrapCfg.Radio.Backend)
	}
	if bootstrapCfg.ZeroMQ.PublishBindAddress != "tcp://*:7777" {
		t.Errorf("Expected zeromq publish_bind_address 'tcp://*:7777', got '%s'", bootstrapCfg.ZeroMQ.PublishBindAddress)
	}
	if bootstrapCfg.MQTT.QoS != 1 {
		t.Errorf("Expected mqtt qos 1, got %d", bootstrapCfg.MQTT.QoS)
	}
	if bootstrapCfg.MQTT.TopicPrefix != "robotlink" {
		t.Errorf("Expected default mqtt topic prefix, got '%s'", bootstrapCfg.MQTT.TopicPrefix)
	}
	if got := bootstrapCfg.Data.LinkConfigPath(); got != filepath.Join("/data/robotlink", "my_link_config.yaml") {
		t.Errorf("Unexpected link config path '%s'", got)
	}
	if bootstrapCfg.Processing.TelemetryWorkers != 2 {
		t.Errorf("Expected telemetry_workers 2, got %d", bootstrapCfg.Processing.TelemetryWorkers)
	}
	if bootstrapCfg.Processing.TelemetryQueueSize != 64 {
		t.Errorf("Expected default telemetry_queue_size 64, got %d", bootstrapCfg.Processing.TelemetryQueueSize)
	}
}

func TestLoadBootstrapConfigMissingRequired(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{"zeromq request address", `
zeromq:
  enabled: true
  publish_bind_address: "tcp://*:7777"
data:
  directory: "/data"
  link_config_file: "link.yaml"
`, "zeromq.request_bind_address"},
		{"mqtt broker", `
mqtt:
  enabled: true
data:
  directory: "/data"
  link_config_file: "link.yaml"
`, "mqtt.broker"},
		{"data directory", `
data:
  link_config_file: "link.yaml"
`, "data.directory"},
		{"radio backend", `
radio:
  backend: "carrier-pigeon"
data:
  directory: "/data"
  link_config_file: "link.yaml"
`, "radio.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			configPath := filepath.Join(tempDir, BootstrapFilename)
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write test bootstrap config: %v", err)
			}

			_, err := LoadBootstrapConfig(tempDir)
			if err == nil {
				t.Fatalf("Expected error for missing %s, got nil", tt.expected)
			}
			if !strings.Contains(err.Error(), tt.expected) {
				t.Errorf("Expected error message to contain '%s', but got: %v", tt.expected, err)
			}
		})
	}
}
