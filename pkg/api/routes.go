package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/robotlink/domain/link"
	"github.com/open-teleop/robotlink/domain/teleop"
	"github.com/open-teleop/robotlink/domain/telemetry"
	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/processing"
	"github.com/open-teleop/robotlink/services"
)

// Services are the domain services exposed over HTTP
type Services struct {
	Link      *link.LinkService
	Teleop    *teleop.TeleopService
	Telemetry *telemetry.TelemetryService
	Config    services.LinkConfigService
	// Topics is optional; when set its stats are served under /api/v1/telemetry/topics.
	Topics *processing.TopicRegistry
}

// RegisterRoutes mounts the operator API on app
func RegisterRoutes(app *fiber.App, svc Services, logger customlog.Logger) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "robotlink controller",
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "link": svc.Link.Status().State})
	})

	v1 := app.Group("/api/v1")

	linkRoutes := v1.Group("/link")
	linkRoutes.Post("/connect", svc.Link.ConnectHandler)
	linkRoutes.Post("/disconnect", svc.Link.DisconnectHandler)
	linkRoutes.Get("/status", svc.Link.StatusHandler)
	linkRoutes.Post("/loop/restart", svc.Link.RestartLoopHandler)

	teleopRoutes := v1.Group("/teleop")
	teleopRoutes.Put("/command", svc.Teleop.CommandHandler)
	teleopRoutes.Get("/command", svc.Teleop.GetCommandHandler)
	teleopRoutes.Post("/stop", svc.Teleop.HaltHandler)

	v1.Get("/telemetry/odometry", svc.Telemetry.GetOdometryHandler)
	if svc.Topics != nil {
		v1.Get("/telemetry/topics", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"status": "success", "topics": svc.Topics.GetTopicStats()})
		})
	}

	if svc.Config != nil {
		RegisterConfigRoutes(app, svc.Config, logger)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/control", websocket.New(func(conn *websocket.Conn) {
		ControlWebSocketHandler(conn, logger, svc.Teleop, svc.Telemetry)
	}))

	logger.Infof("Registered operator API routes")
}
