package zeromq

import (
	"github.com/open-teleop/robotlink/pkg/config"
	customlog "github.com/open-teleop/robotlink/pkg/log"
)

// Topics used for non-telemetry notifications
const (
	TopicConfigNotification = "configuration.notification"
)

// JSONPublisher is the publishing half of ZeroMQService
type JSONPublisher interface {
	PublishJSON(topic string, messageType string, data interface{}) error
}

// ConfigPublisher announces operational configuration changes to subscribers
type ConfigPublisher struct {
	service JSONPublisher
	logger  customlog.Logger
}

// NewConfigPublisher creates a new publisher for configuration updates
func NewConfigPublisher(service JSONPublisher, logger customlog.Logger) *ConfigPublisher {
	return &ConfigPublisher{
		service: service,
		logger:  logger,
	}
}

// PublishConfigUpdatedNotification publishes a CONFIG_UPDATED notification
func (p *ConfigPublisher) PublishConfigUpdatedNotification(cfg *config.Config) error {
	p.logger.Infof("Publishing configuration update notification (ID: %s)", cfg.ConfigID)

	notification := map[string]interface{}{
		"config_id":    cfg.ConfigID,
		"version":      cfg.Version,
		"last_updated": cfg.LastUpdated,
		"robot_id":     cfg.RobotID,
	}
	return p.service.PublishJSON(TopicConfigNotification, MsgTypeConfigUpdated, notification)
}
