package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/robotlink/pkg/config"
	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/services"
)

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	configService services.LinkConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(configService services.LinkConfigService, logger customlog.Logger) *ConfigHandler {
	if configService == nil {
		panic("ConfigService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// RegisterConfigRoutes registers the configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(router fiber.Router, configService services.LinkConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := router.Group("/api/v1/config")
	apiGroup.Get("/link", h.handleGetLinkConfig)
	apiGroup.Put("/link", h.handleUpdateLinkConfig)

	logger.Infof("Registered link configuration API endpoints under /api/v1/config")
}

// handleGetLinkConfig returns the operational configuration file as YAML.
func (h *ConfigHandler) handleGetLinkConfig(c *fiber.Ctx) error {
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		if errors.Is(err, services.ErrNoConfig) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": "Link configuration not found or not yet set.",
			})
		}
		h.logger.Errorf("Failed to get current link config YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateLinkConfig replaces the operational configuration. The body is
// YAML; a wrong Content-Type is logged but tolerated.
func (h *ConfigHandler) handleUpdateLinkConfig(c *fiber.Ctx) error {
	switch ct := c.Get(fiber.HeaderContentType); ct {
	case "application/x-yaml", "application/yaml", "text/yaml":
	default:
		h.logger.Warnf("Received PUT request with unexpected Content-Type: %s", ct)
	}

	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	if err := h.configService.UpdateConfig(newConfigYAML); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, config.ErrMalformedConfig) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Configuration update failed: %v", err),
			})
		}
		h.logger.Errorf("Failed to update link configuration: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during configuration update: %v", err),
		})
	}

	cfg := h.configService.GetCurrentConfig()
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message":   "Link configuration updated. Connection settings apply on the next connect.",
		"config_id": cfg.ConfigID,
		"version":   cfg.Version,
	})
}
