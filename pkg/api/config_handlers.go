package api

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/dashboard/pkg/log"
	"github.com/open-teleop/dashboard/services"
)

// yamlContentTypes are accepted on PUT; anything else is logged and parsed anyway.
var yamlContentTypes = map[string]bool{
	"application/x-yaml": true,
	"application/yaml":   true,
	"text/yaml":          true,
}

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	configService services.DashboardConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(configService services.DashboardConfigService, logger customlog.Logger) *ConfigHandler {
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
func RegisterConfigRoutes(app *fiber.App, configService services.DashboardConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/dashboard", h.handleGetDashboardConfig)
	apiGroup.Put("/dashboard", h.handleUpdateDashboardConfig)

	logger.Infof("Registered dashboard configuration API endpoints under /api/v1/config")
}

// handleGetDashboardConfig returns the operational config as YAML.
func (h *ConfigHandler) handleGetDashboardConfig(c *fiber.Ctx) error {
	h.logger.Debugf("Handling GET request for /api/v1/config/dashboard")
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		h.logger.Errorf("Failed to get current dashboard config YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}

	if len(yamlData) == 0 {
		h.logger.Warnf("Dashboard config is empty or was never set.")
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Dashboard configuration not found or not yet set.",
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateDashboardConfig validates and applies a YAML config.
func (h *ConfigHandler) handleUpdateDashboardConfig(c *fiber.Ctx) error {
	h.logger.Debugf("Handling PUT request for /api/v1/config/dashboard")

	if ct := c.Get(fiber.HeaderContentType); !yamlContentTypes[ct] {
		h.logger.Warnf("Received PUT request with unexpected Content-Type: %s", ct)
	}

	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		h.logger.Errorf("Received empty body in PUT request for dashboard config update.")
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	if err := h.configService.UpdateConfig(newConfigYAML); err != nil {
		h.logger.Errorf("Failed to update dashboard configuration: %v", err)
		if v, ok := err.(interface{ IsValidationError() bool }); ok && v.IsValidationError() {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Configuration update failed: %v", err),
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during configuration update: %v", err),
		})
	}

	h.logger.Infof("Successfully processed PUT request to update dashboard configuration.")
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "Dashboard configuration updated successfully. Poll interval changes apply on restart.",
	})
}
