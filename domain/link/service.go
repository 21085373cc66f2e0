package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/transport"
	"github.com/open-teleop/robotlink/pkg/wire"
)

// TelemetrySink receives decoded odometry
type TelemetrySink interface {
	HandleOdometry(sessionID string, odom wire.Odometry)
	Reset()
}

// LinkService connects the manager to telemetry, event publishers and the
// operator API.
type LinkService struct {
	manager   *Manager
	telemetry TelemetrySink
	logger    customlog.Logger
	baseCtx   context.Context

	eventTopic string

	mu         sync.RWMutex
	publishers []EventPublisher
}

// NewLinkService creates a LinkService. baseCtx bounds every connect
// attempt; cancelling it aborts one in progress.
func NewLinkService(baseCtx context.Context, manager *Manager, telemetry TelemetrySink, eventTopic string, logger customlog.Logger) *LinkService {
	return &LinkService{
		manager:    manager,
		telemetry:  telemetry,
		logger:     logger,
		baseCtx:    baseCtx,
		eventTopic: eventTopic,
	}
}

// AddPublisher adds a destination for link events. Nil is ignored.
func (s *LinkService) AddPublisher(p EventPublisher) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

// Manager returns the underlying link manager
func (s *LinkService) Manager() *Manager {
	return s.manager
}

// Connect opens the link and wires its callbacks
func (s *LinkService) Connect(ctx context.Context) error {
	err := s.manager.Connect(ctx, Handlers{
		OnConnecting: func() {
			s.publish(Event{Type: EventConnecting})
		},
		OnNotify: func(odom wire.Odometry) {
			s.telemetry.HandleOdometry(s.manager.SessionID(), odom)
		},
		OnDisconnect: func() {
			s.telemetry.Reset()
			s.publish(Event{Type: EventLinkLost, Message: "link lost"})
		},
		OnError: func(message string) {
			s.logger.Warnf("Link error: %s", message)
			s.publish(Event{Type: EventError, SessionID: s.manager.SessionID(), Message: message})
		},
	})

	switch {
	case err == nil:
		st := s.manager.Status()
		s.publish(Event{Type: EventConnected, SessionID: st.SessionID, Device: st.Device})
	case errors.Is(err, transport.ErrUserCancelled):
		s.publish(Event{Type: EventConnectCancelled})
	case errors.Is(err, ErrConnectInProgress), errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrDisconnectInProgress):
		// the link did not change state
	default:
		s.publish(Event{Type: EventConnectFailed, Message: err.Error()})
	}
	return err
}

// Disconnect closes the link
func (s *LinkService) Disconnect() error {
	sessionID := s.manager.SessionID()
	wasActive := s.manager.State() == StateActive
	if err := s.manager.Disconnect(); err != nil {
		return err
	}
	s.telemetry.Reset()
	if wasActive {
		s.publish(Event{Type: EventDisconnected, SessionID: sessionID})
	}
	return nil
}

// Status returns the link status
func (s *LinkService) Status() Status {
	return s.manager.Status()
}

func (s *LinkService) publish(ev Event) {
	ev.Timestamp = time.Now()

	s.mu.RLock()
	publishers := s.publishers
	s.mu.RUnlock()

	for _, p := range publishers {
		if err := p.PublishJSON(s.eventTopic, MsgTypeLinkEvent, ev); err != nil {
			s.logger.Debugf("Failed to publish %s event: %v", ev.Type, err)
		}
	}
}

// ConnectHandler handles POST /api/v1/link/connect. It blocks until the
// link is up or the attempt ends.
func (s *LinkService) ConnectHandler(c *fiber.Ctx) error {
	err := s.Connect(s.baseCtx)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"status": "connected", "link": s.Status()})
	case errors.Is(err, transport.ErrUserCancelled):
		return c.JSON(fiber.Map{"status": "cancelled", "link": s.Status()})
	case errors.Is(err, ErrConnectInProgress), errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrDisconnectInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "link": s.Status()})
	default:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "link": s.Status()})
	}
}

// DisconnectHandler handles POST /api/v1/link/disconnect
func (s *LinkService) DisconnectHandler(c *fiber.Ctx) error {
	if err := s.Disconnect(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "disconnected", "link": s.Status()})
}

// StatusHandler handles GET /api/v1/link/status
func (s *LinkService) StatusHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "success", "link": s.Status()})
}

// RestartLoopHandler handles POST /api/v1/link/loop/restart
func (s *LinkService) RestartLoopHandler(c *fiber.Ctx) error {
	if err := s.manager.RestartCommandLoop(); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "restarted", "link": s.Status()})
}
