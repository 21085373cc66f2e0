package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/robotlink/pkg/config"
	customlog "github.com/open-teleop/robotlink/pkg/log"
)

const validLinkYAML = `
version: "1.0"
config_id: "rover-link"
robot_id: "rover-1"
link:
  service_uuid: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
  characteristic_uuid: "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
limits:
  max_linear: 1.0
  max_angular: 2.0
`

const updatedLinkYAML = `
version: "1.1"
config_id: "rover-link-2"
robot_id: "rover-1"
link:
  service_uuid: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
  characteristic_uuid: "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
  command_interval_ms: 100
limits:
  max_linear: 0.5
`

type notifyPublisher struct {
	got chan *config.Config
}

func (p *notifyPublisher) PublishConfigUpdatedNotification(cfg *config.Config) error {
	p.got <- cfg
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "link_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewLinkConfigServiceLoadsFile(t *testing.T) {
	svc, err := NewLinkConfigService(writeFile(t, validLinkYAML), customlog.NewNopLogger())
	require.NoError(t, err)

	cfg := svc.GetCurrentConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "rover-link", cfg.ConfigID)
	assert.Equal(t, config.DefaultCommandIntervalMs, cfg.Link.CommandIntervalMs)

	raw, err := svc.GetCurrentConfigYAML()
	require.NoError(t, err)
	assert.Equal(t, validLinkYAML, string(raw))
}

func TestNewLinkConfigServiceToleratesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	svc, err := NewLinkConfigService(path, nil)
	require.NoError(t, err)
	assert.Nil(t, svc.GetCurrentConfig())

	_, err = svc.GetCurrentConfigYAML()
	assert.True(t, errors.Is(err, ErrNoConfig))

	_, err = NewLinkConfigService("", nil)
	assert.Error(t, err)
}

func TestUpdateConfigAppliesPersistsAndNotifies(t *testing.T) {
	path := writeFile(t, validLinkYAML)
	svc, err := NewLinkConfigService(path, customlog.NewNopLogger())
	require.NoError(t, err)

	pub := &notifyPublisher{got: make(chan *config.Config, 1)}
	svc.SetPublisher(pub)
	var seen []string
	svc.OnUpdate(func(cfg *config.Config) { seen = append(seen, cfg.ConfigID) })

	require.NoError(t, svc.UpdateConfig([]byte(updatedLinkYAML)))

	assert.Equal(t, "rover-link-2", svc.GetCurrentConfig().ConfigID)
	assert.Equal(t, 100, svc.GetCurrentConfig().Link.CommandIntervalMs)
	assert.Equal(t, []string{"rover-link-2"}, seen)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, updatedLinkYAML, string(onDisk))

	select {
	case cfg := <-pub.got:
		assert.Equal(t, "rover-link-2", cfg.ConfigID)
	case <-time.After(time.Second):
		t.Fatal("config update notification not published")
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	path := writeFile(t, validLinkYAML)
	svc, err := NewLinkConfigService(path, customlog.NewNopLogger())
	require.NoError(t, err)
	called := false
	svc.OnUpdate(func(*config.Config) { called = true })

	err = svc.UpdateConfig([]byte("version: \"2\"\nconfig_id: x\n"))
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))

	err = svc.UpdateConfig([]byte("link: [unclosed"))
	assert.Error(t, err)

	assert.False(t, called)
	assert.Equal(t, "rover-link", svc.GetCurrentConfig().ConfigID)
	onDisk, _ := os.ReadFile(path)
	assert.Equal(t, validLinkYAML, string(onDisk))
}

func TestLoadConfigKeepsPreviousOnError(t *testing.T) {
	path := writeFile(t, validLinkYAML)
	svc, err := NewLinkConfigService(path, customlog.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, svc.PersistConfig([]byte("not: [valid")))
	assert.Error(t, svc.LoadConfig())
	assert.Equal(t, "rover-link", svc.GetCurrentConfig().ConfigID)
}
