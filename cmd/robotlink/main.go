package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"tinygo.org/x/bluetooth"

	"github.com/open-teleop/robotlink/domain/link"
	"github.com/open-teleop/robotlink/domain/teleop"
	"github.com/open-teleop/robotlink/domain/telemetry"
	"github.com/open-teleop/robotlink/pkg/api"
	"github.com/open-teleop/robotlink/pkg/ble"
	"github.com/open-teleop/robotlink/pkg/ble/fake"
	"github.com/open-teleop/robotlink/pkg/config"
	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/mqtt"
	"github.com/open-teleop/robotlink/pkg/processing"
	"github.com/open-teleop/robotlink/pkg/transport"
	"github.com/open-teleop/robotlink/pkg/zeromq"
	"github.com/open-teleop/robotlink/services"
)

func main() {
	configDir := flag.String("config-dir", "config", "directory containing "+config.BootstrapFilename)
	flag.Parse()

	bootstrapCfg, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load bootstrap configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := customlog.NewLogrusLoggerWithRotation(bootstrapCfg.Logging.Level, bootstrapCfg.Logging.LogPath, customlog.FileOptions{
		MaxSizeMB:  bootstrapCfg.Logging.MaxSizeMB,
		MaxBackups: bootstrapCfg.Logging.MaxBackups,
		MaxAgeDays: bootstrapCfg.Logging.MaxAgeDays,
		Compress:   bootstrapCfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	configService, err := services.NewLinkConfigService(bootstrapCfg.Data.LinkConfigPath(), logger)
	if err != nil {
		logger.Fatalf("Failed to create link config service: %v", err)
	}
	cfg := configService.GetCurrentConfig()
	if cfg == nil {
		logger.Fatalf("No valid link configuration at %s", bootstrapCfg.Data.LinkConfigPath())
	}
	logger.Infof("Robot %s, link config %s (version %s)", cfg.RobotID, cfg.ConfigID, cfg.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	radio := newRadio(bootstrapCfg.Radio.Backend, cfg, logger)

	// --- Telemetry fan-out ---
	pool := processing.NewProcessingPool("telemetry",
		bootstrapCfg.Processing.TelemetryWorkers, bootstrapCfg.Processing.TelemetryQueueSize, logger)
	var publishers []processing.MessagePublisher

	var zmqService *zeromq.ZeroMQService
	if bootstrapCfg.ZeroMQ.Enabled {
		zmqService, err = zeromq.NewZeroMQService(zeromq.Options{
			RequestBindAddress: bootstrapCfg.ZeroMQ.RequestBindAddress,
			PublishBindAddress: bootstrapCfg.ZeroMQ.PublishBindAddress,
		}, logger)
		if err != nil {
			logger.Fatalf("Failed to create ZeroMQ service: %v", err)
		}
		publishers = append(publishers, zmqService)
	}

	var mqttPublisher *mqtt.Publisher
	if bootstrapCfg.MQTT.Enabled {
		mqttPublisher = mqtt.NewPublisher(mqtt.Options{
			Broker:         bootstrapCfg.MQTT.Broker,
			ClientID:       bootstrapCfg.MQTT.ClientID,
			Username:       bootstrapCfg.MQTT.Username,
			Password:       bootstrapCfg.MQTT.Password,
			TopicPrefix:    bootstrapCfg.MQTT.TopicPrefix,
			RobotID:        cfg.RobotID,
			QoS:            bootstrapCfg.MQTT.QoS,
			ConnectTimeout: time.Duration(bootstrapCfg.MQTT.ConnectTimeoutSec) * time.Second,
			Routes: map[string]string{
				cfg.Telemetry.OdometryTopic:    "odometry",
				cfg.Telemetry.EventTopic:       "link",
				zeromq.TopicConfigNotification: "config",
			},
			Retained: map[string]bool{cfg.Telemetry.EventTopic: true},
		}, logger)
		mqttPublisher.Start()
		publishers = append(publishers, mqttPublisher)
	}

	teleopService := teleop.NewTeleopService(cfg.Limits, logger)
	telemetryService := telemetry.NewTelemetryService(cfg.RobotID, cfg.Telemetry.OdometryTopic, pool, logger)
	topics := processing.NewTopicRegistry()
	pool.SetResultHandler(processing.NewPublishingResultHandler(logger, publishers...).
		WithTopicRegistry(topics).CreateHandlerFunc())
	pool.Start()

	// --- Link ---
	manager := link.NewManager(radio, teleopService.Latest, managerOptions(cfg), logger)
	linkService := link.NewLinkService(ctx, manager, telemetryService, cfg.Telemetry.EventTopic, logger)
	if zmqService != nil {
		linkService.AddPublisher(zmqService)
	}
	if mqttPublisher != nil {
		linkService.AddPublisher(mqttPublisher)
	}

	if zmqService != nil {
		zeromq.RegisterLinkHandlers(zmqService, func() interface{} { return linkService.Status() }, teleopService, configService, logger)
		configService.SetPublisher(zeromq.NewConfigPublisher(zmqService, logger))
		if err := zmqService.Start(); err != nil {
			logger.Fatalf("Failed to start ZeroMQ service: %v", err)
		}
	}

	configService.OnUpdate(func(newCfg *config.Config) {
		teleopService.SetLimits(newCfg.Limits)
		telemetryService.SetRobotID(newCfg.RobotID)
		manager.SetOptions(managerOptions(newCfg))
		if mqttPublisher != nil {
			mqttPublisher.SetRobotID(newCfg.RobotID)
		}
		if newCfg.Telemetry != cfg.Telemetry {
			logger.Warnf("Telemetry topic changes take effect after restart")
		}
		if newCfg.UseWriteWithoutResponse() != cfg.UseWriteWithoutResponse() && bootstrapCfg.Radio.Backend == config.RadioBluetooth {
			logger.Warnf("Write mode changes take effect after restart")
		}
	})

	// --- HTTP ---
	app := fiber.New(fiber.Config{
		AppName:               "robotlink controller",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	api.RegisterRoutes(app, api.Services{
		Link:      linkService,
		Teleop:    teleopService,
		Telemetry: telemetryService,
		Config:    configService,
		Topics:    topics,
	}, logger)

	go func() {
		addr := fmt.Sprintf(":%d", bootstrapCfg.Server.HTTPPort)
		logger.Infof("Server starting on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Errorf("HTTP server stopped: %v", err)
			stop()
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warnf("sd_notify failed: %v", err)
	} else if ok {
		logger.Debugf("Notified systemd of readiness")
	}

	<-ctx.Done()
	logger.Infof("Shutting down...")
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Warnf("Server forced to shutdown: %v", err)
	}
	if err := linkService.Disconnect(); err != nil {
		logger.Warnf("Error disconnecting link: %v", err)
	}
	pool.Stop()
	if zmqService != nil {
		zmqService.Stop()
	}
	if mqttPublisher != nil {
		mqttPublisher.Close()
	}

	logger.Infof("Shutdown complete")
}

func newRadio(backend string, cfg *config.Config, logger customlog.Logger) ble.Radio {
	if backend == config.RadioFake {
		logger.Warnf("Using the simulated robot radio backend")
		radio, _ := fake.NewSimulatedRadio()
		return radio
	}
	return ble.NewAdapter(bluetooth.DefaultAdapter, logger, ble.AdapterOptions{
		WriteWithoutResponse: cfg.UseWriteWithoutResponse(),
	})
}

func managerOptions(cfg *config.Config) link.Options {
	return link.Options{
		Params: transport.Params{
			ServiceUUID:        cfg.Link.ServiceUUID,
			CharacteristicUUID: cfg.Link.CharacteristicUUID,
			Filter: ble.Filter{
				Address:    cfg.Link.Device.Address,
				Name:       cfg.Link.Device.Name,
				NamePrefix: cfg.Link.Device.NamePrefix,
			},
			ScanTimeout: cfg.ScanTimeout(),
		},
		Interval: cfg.CommandInterval(),
	}
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
