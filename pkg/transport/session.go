// Package transport owns a single radio connection to the robot: the command
// characteristic, its notification subscription and the link-loss observer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-teleop/robotlink/pkg/ble"
	customlog "github.com/open-teleop/robotlink/pkg/log"
)

// Common errors
var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrUserCancelled    = errors.New("device selection cancelled by user")
	ErrWriteFailed      = errors.New("write failed")
	ErrSessionClosed    = errors.New("session closed")
)

// Params addresses the robot. The UUIDs are fixed by configuration.
type Params struct {
	ServiceUUID        string
	CharacteristicUUID string
	Filter             ble.Filter
	// ScanTimeout bounds device selection; zero means wait for ctx.
	ScanTimeout time.Duration
}

// Handlers receive asynchronous session events. Either may be nil.
type Handlers struct {
	// OnNotification runs once per inbound value with the raw payload.
	OnNotification func(payload []byte)
	// OnUnexpectedDisconnect runs at most once, and never after Close.
	OnUnexpectedDisconnect func()
}

// Session is one open connection attempt and its resources.
type Session struct {
	id       string
	logger   customlog.Logger
	handlers Handlers
	device   ble.DeviceInfo

	mu         sync.Mutex
	conn       ble.Connection
	char       ble.Characteristic
	subscribed bool
	closed     bool
	dropOnce   sync.Once
}

// Open selects the device, connects, resolves the characteristic, subscribes
// to notifications and arms the disconnect observer. Errors wrap either
// ErrUserCancelled or ErrConnectionFailed.
func Open(ctx context.Context, radio ble.Radio, params Params, handlers Handlers, logger customlog.Logger) (*Session, error) {
	s := &Session{
		id:       uuid.NewString(),
		logger:   logger,
		handlers: handlers,
	}
	log := s.log()

	selectCtx := ctx
	if params.ScanTimeout > 0 {
		var cancel context.CancelFunc
		selectCtx, cancel = context.WithTimeout(ctx, params.ScanTimeout)
		defer cancel()
	}

	log.Infof("Selecting device (filter=%+v)", params.Filter)
	dev, err := radio.Select(selectCtx, params.Filter)
	if err != nil {
		return nil, classifyOpenError("select device", err)
	}
	s.device = dev.Info()

	conn, err := dev.Connect(ctx)
	if err != nil {
		return nil, classifyOpenError(fmt.Sprintf("connect to %s", s.device.Address), err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	char, err := conn.Characteristic(params.ServiceUUID, params.CharacteristicUUID)
	if err != nil {
		s.Close()
		return nil, classifyOpenError("resolve characteristic", err)
	}
	s.mu.Lock()
	s.char = char
	s.mu.Unlock()

	if err := char.Subscribe(s.handleNotification); err != nil {
		s.Close()
		return nil, classifyOpenError("subscribe to notifications", err)
	}
	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()

	conn.OnDisconnect(s.handleDisconnect)

	// the link may have dropped while we were arming the observer
	if !conn.Connected() {
		s.Close()
		return nil, fmt.Errorf("%w: link lost during setup", ErrConnectionFailed)
	}

	log.Infof("Session %s open to %s (%s), write-without-response=%v",
		s.id, s.device.Address, s.device.Name, char.SupportsWriteWithoutResponse())
	return s, nil
}

// classifyOpenError separates a deliberate cancel from a real failure using
// typed errors only.
func classifyOpenError(step string, err error) error {
	if errors.Is(err, ble.ErrSelectionCancelled) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrUserCancelled, step, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, step, err)
}

// ID returns the session identifier used in logs and status.
func (s *Session) ID() string { return s.id }

// Device returns the peripheral this session is connected to.
func (s *Session) Device() ble.DeviceInfo { return s.device }

// Send transmits p on the command characteristic. It uses an unacknowledged
// write when the characteristic supports it. Failures wrap ErrWriteFailed and
// are not retried.
func (s *Session) Send(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	s.mu.Lock()
	closed := s.closed
	char := s.char
	s.mu.Unlock()

	if closed || char == nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, ErrSessionClosed)
	}

	var err error
	if char.SupportsWriteWithoutResponse() {
		err = char.WriteWithoutResponse(p)
	} else {
		err = char.Write(p)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

func (s *Session) handleNotification(payload []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.handlers.OnNotification == nil {
		return
	}
	s.handlers.OnNotification(payload)
}

func (s *Session) handleDisconnect() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.dropOnce.Do(func() {
		s.log().Warnf("Session %s: link to %s lost", s.id, s.device.Address)
		if s.handlers.OnUnexpectedDisconnect != nil {
			s.handlers.OnUnexpectedDisconnect()
		}
	})
}

// Close unsubscribes, disconnects and detaches the observer. It never fails:
// teardown errors are logged. Safe to call repeatedly and on a session that
// never finished opening.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	char := s.char
	subscribed := s.subscribed
	s.subscribed = false
	s.mu.Unlock()

	log := s.log()

	if char != nil && subscribed {
		if err := char.Unsubscribe(); err != nil {
			log.Warnf("Session %s: failed to unsubscribe notifications: %v", s.id, err)
		}
	}
	if conn != nil {
		if conn.Connected() {
			if err := conn.Disconnect(); err != nil {
				log.Warnf("Session %s: failed to disconnect: %v", s.id, err)
			}
		}
		conn.OnDisconnect(nil)
	}
	if conn != nil {
		log.Infof("Session %s closed", s.id)
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) log() customlog.Logger {
	if s.logger == nil {
		return customlog.NewNopLogger()
	}
	return s.logger
}
