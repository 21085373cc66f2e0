package services

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/open-teleop/robotlink/pkg/config"
	customlog "github.com/open-teleop/robotlink/pkg/log"
)

// ErrNoConfig is returned when no operational configuration has been loaded
var ErrNoConfig = errors.New("no operational configuration loaded")

// ConfigPublisher announces configuration updates to remote subscribers
type ConfigPublisher interface {
	PublishConfigUpdatedNotification(cfg *config.Config) error
}

// UpdateListener is called with the new configuration after every
// successful update, in registration order.
type UpdateListener func(cfg *config.Config)

// LinkConfigService manages the operational link configuration
type LinkConfigService interface {
	LoadConfig() error
	GetCurrentConfig() *config.Config
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	PersistConfig(yamlData []byte) error
	SetPublisher(p ConfigPublisher)
	OnUpdate(l UpdateListener)
}

type linkConfigService struct {
	operationalConfigPath string
	logger                customlog.Logger
	configPublisher       ConfigPublisher
	listeners             []UpdateListener
	currentConfig         *config.Config
	mu                    sync.RWMutex
}

// NewLinkConfigService creates a LinkConfigService for the file at
// operationalConfigPath. A file that is missing or invalid at startup is
// logged and leaves the service without a configuration until one is
// provided through UpdateConfig.
func NewLinkConfigService(operationalConfigPath string, logger customlog.Logger) (LinkConfigService, error) {
	if operationalConfigPath == "" {
		return nil, fmt.Errorf("operational configuration path cannot be empty")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	service := &linkConfigService{
		operationalConfigPath: operationalConfigPath,
		logger:                logger,
	}

	if err := service.LoadConfig(); err != nil {
		logger.Warnf("Initial load of operational config '%s' failed: %v", operationalConfigPath, err)
		return service, nil
	}

	logger.Infof("LinkConfigService initialized for path: %s", operationalConfigPath)
	return service, nil
}

// LoadConfig reads, defaults and validates the operational config file.
// On failure the previously loaded configuration is kept.
func (s *linkConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading operational configuration from: %s", s.operationalConfigPath)
	cfg, err := config.LoadConfig(s.operationalConfigPath)
	if err != nil {
		return fmt.Errorf("error loading operational config file '%s': %w", s.operationalConfigPath, err)
	}

	s.currentConfig = cfg
	s.logger.Infof("Loaded operational configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

// GetCurrentConfig returns the loaded configuration, nil if none. Callers
// must treat it as read-only; updates replace the pointer.
func (s *linkConfigService) GetCurrentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig
}

// GetCurrentConfigYAML returns the raw YAML of the operational config file
func (s *linkConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.operationalConfigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoConfig, s.operationalConfigPath)
		}
		return nil, fmt.Errorf("error reading operational config file '%s': %w", s.operationalConfigPath, err)
	}
	return data, nil
}

// UpdateConfig validates newConfigYAML, persists it, makes it current,
// then notifies listeners and the publisher. Invalid input leaves both the
// file and the in-memory configuration untouched.
func (s *linkConfigService) UpdateConfig(newConfigYAML []byte) error {
	s.mu.Lock()

	newCfg, err := config.ParseConfig(newConfigYAML)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warnf("Rejected operational configuration update: %v", err)
		return err
	}

	if err := s.persistConfigUnlocked(newConfigYAML); err != nil {
		s.mu.Unlock()
		return err
	}

	oldID := "N/A"
	if s.currentConfig != nil {
		oldID = s.currentConfig.ConfigID
	}
	s.currentConfig = newCfg
	listeners := append([]UpdateListener(nil), s.listeners...)
	publisher := s.configPublisher
	s.mu.Unlock()

	s.logger.Infof("Updated operational configuration. ID %s -> %s, Version: %s", oldID, newCfg.ConfigID, newCfg.Version)

	for _, l := range listeners {
		l(newCfg)
	}

	if publisher != nil {
		go func() {
			if err := publisher.PublishConfigUpdatedNotification(newCfg); err != nil {
				s.logger.Warnf("Failed to publish config update notification: %v", err)
			}
		}()
	}
	return nil
}

// PersistConfig writes yamlData to the operational config file
func (s *linkConfigService) PersistConfig(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistConfigUnlocked(yamlData)
}

func (s *linkConfigService) persistConfigUnlocked(yamlData []byte) error {
	s.logger.Debugf("Persisting operational configuration to: %s", s.operationalConfigPath)
	if err := os.WriteFile(s.operationalConfigPath, yamlData, 0644); err != nil {
		return fmt.Errorf("error writing operational config file '%s': %w", s.operationalConfigPath, err)
	}
	return nil
}

// SetPublisher injects the remote notification publisher
func (s *linkConfigService) SetPublisher(p ConfigPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPublisher = p
}

// OnUpdate registers a listener for applied updates
func (s *linkConfigService) OnUpdate(l UpdateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}
