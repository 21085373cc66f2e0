// Package link composes the transport session and the command loop into the
// connection lifecycle the operator interface drives.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-teleop/robotlink/pkg/ble"
	"github.com/open-teleop/robotlink/pkg/commandloop"
	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/transport"
	"github.com/open-teleop/robotlink/pkg/wire"
)

// State is the manager's lifecycle state.
type State string

const (
	StateIdle          State = "IDLE"
	StateConnecting    State = "CONNECTING"
	StateActive        State = "ACTIVE"
	StateDisconnecting State = "DISCONNECTING"
)

// Common errors
var (
	ErrConnectInProgress    = errors.New("connect already in progress")
	ErrAlreadyConnected     = errors.New("link already connected")
	ErrDisconnectInProgress = errors.New("disconnect in progress")
	ErrNotConnected         = errors.New("link not connected")
)

const defaultDrainTimeout = 250 * time.Millisecond

// Handlers are the caller's callbacks. Any may be nil. They run on radio or
// loop goroutines and must not block for long.
type Handlers struct {
	// OnConnecting runs once an attempt has been accepted, before device
	// selection. Rejected attempts never call it.
	OnConnecting func()
	// OnNotify receives every successfully decoded telemetry frame.
	OnNotify func(odom wire.Odometry)
	// OnDisconnect runs once per unexpected link loss; never for Disconnect.
	OnDisconnect func()
	// OnError receives human-readable messages for non-teardown failures:
	// malformed telemetry frames and command loop termination.
	OnError func(message string)
}

// Options configures a Manager.
type Options struct {
	Params       transport.Params
	Interval     time.Duration
	DrainTimeout time.Duration
}

// Status is a point-in-time view of the link.
type Status struct {
	State          State             `json:"state"`
	SessionID      string            `json:"session_id,omitempty"`
	Device         *ble.DeviceInfo   `json:"device,omitempty"`
	Since          time.Time         `json:"since"`
	LoopRunning    bool              `json:"loop_running"`
	Loop           commandloop.Stats `json:"loop"`
	FramesReceived int64             `json:"frames_received"`
	DecodeErrors   int64             `json:"decode_errors"`
	LastError      string            `json:"last_error,omitempty"`
}

// Manager owns at most one transport session and its command loop.
type Manager struct {
	radio  ble.Radio
	source commandloop.CommandSource
	opts   Options
	logger customlog.Logger

	mu            sync.Mutex
	state         State
	gen           uint64
	session       *transport.Session
	loop          *commandloop.Scheduler
	handlers      Handlers
	intentional   bool
	lostInSetup   bool
	connectCancel context.CancelFunc
	since         time.Time
	lastError     string

	framesReceived atomic.Int64
	decodeErrors   atomic.Int64
}

// NewManager creates an idle manager that pulls commands from source.
func NewManager(radio ble.Radio, source commandloop.CommandSource, opts Options, logger customlog.Logger) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = commandloop.DefaultInterval
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Manager{
		radio:  radio,
		source: source,
		opts:   opts,
		logger: logger,
		state:  StateIdle,
		since:  time.Now(),
	}
}

// Connect opens a session and starts the command loop. A second Connect
// while one is connecting is rejected with ErrConnectInProgress; while
// active, with ErrAlreadyConnected. A user cancel returns an error wrapping
// transport.ErrUserCancelled and leaves no error recorded in Status.
func (m *Manager) Connect(ctx context.Context, h Handlers) error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting:
		m.mu.Unlock()
		return ErrConnectInProgress
	case StateActive:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateDisconnecting:
		m.mu.Unlock()
		return ErrDisconnectInProgress
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.since = time.Now()
	m.connectCancel = cancel
	m.handlers = h
	m.intentional = false
	m.lostInSetup = false
	m.lastError = ""
	opts := m.opts
	m.mu.Unlock()
	defer cancel()

	if h.OnConnecting != nil {
		h.OnConnecting()
	}

	m.logger.Infof("Connecting to robot (service=%s characteristic=%s)", opts.Params.ServiceUUID, opts.Params.CharacteristicUUID)

	sess, err := transport.Open(attemptCtx, m.radio, opts.Params, transport.Handlers{
		OnNotification:         func(p []byte) { m.handleNotification(gen, p) },
		OnUnexpectedDisconnect: func() { m.handleUnexpectedDisconnect(gen) },
	}, m.logger)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCancel = nil

	if err == nil && attemptCtx.Err() != nil {
		// cancelled by Disconnect after the session opened
		sess.Close()
		err = fmt.Errorf("%w: %v", transport.ErrUserCancelled, attemptCtx.Err())
	} else if err == nil && m.lostInSetup {
		sess.Close()
		err = fmt.Errorf("%w: link lost during setup", transport.ErrConnectionFailed)
	}
	m.lostInSetup = false
	if err != nil {
		m.gen++
		m.state = StateIdle
		m.since = time.Now()
		if errors.Is(err, transport.ErrUserCancelled) {
			m.logger.Infof("Connect cancelled: %v", err)
		} else {
			m.lastError = err.Error()
			m.logger.Errorf("Connect failed: %v", err)
		}
		return err
	}

	m.session = sess
	m.loop = commandloop.New(sess, m.source, func(err error) { m.handleLoopError(gen, err) }, opts.Interval, m.logger)
	m.state = StateActive
	m.since = time.Now()
	m.loop.Start()
	m.logger.Infof("Link active (session=%s device=%s)", sess.ID(), sess.Device().Address)
	return nil
}

// Disconnect stops the command loop, then closes the session. It does not
// trigger OnDisconnect. While connecting it cancels the attempt. Idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateDisconnecting:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		cancel := m.connectCancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}
	m.intentional = true
	m.state = StateDisconnecting
	loop := m.loop
	sess := m.session
	drain := m.opts.DrainTimeout
	m.mu.Unlock()

	m.logger.Infof("Disconnecting session %s", sess.ID())

	ctx, cancel := context.WithTimeout(context.Background(), drain)
	if err := loop.StopAndWait(ctx); err != nil {
		m.logger.Warnf("Closing session with %v", err)
	}
	cancel()
	sess.Close()

	m.mu.Lock()
	m.gen++
	m.session = nil
	m.loop = nil
	m.state = StateIdle
	m.since = time.Now()
	m.intentional = false
	m.mu.Unlock()

	m.logger.Infof("Link disconnected")
	return nil
}

// RestartCommandLoop starts a fresh command loop on the open link, e.g.
// after the previous one terminated on an error.
func (m *Manager) RestartCommandLoop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive || m.loop == nil {
		return ErrNotConnected
	}
	m.lastError = ""
	m.loop.Start()
	return nil
}

// SetOptions replaces the options used by the next Connect. An open link
// keeps running with the options it was opened with.
func (m *Manager) SetOptions(opts Options) {
	if opts.Interval <= 0 {
		opts.Interval = commandloop.DefaultInterval
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
}

// SessionID returns the id of the open session, or "" when not active.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of the link.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:          m.state,
		Since:          m.since,
		FramesReceived: m.framesReceived.Load(),
		DecodeErrors:   m.decodeErrors.Load(),
		LastError:      m.lastError,
	}
	if m.session != nil {
		st.SessionID = m.session.ID()
		dev := m.session.Device()
		st.Device = &dev
	}
	if m.loop != nil {
		st.LoopRunning = m.loop.Running()
		st.Loop = m.loop.Stats()
	}
	return st
}

func (m *Manager) handleNotification(gen uint64, payload []byte) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	h := m.handlers
	m.mu.Unlock()

	odom, err := wire.DecodeOdometry(payload)
	if err != nil {
		m.decodeErrors.Add(1)
		m.logger.Warnf("Dropping telemetry frame: %v", err)
		if h.OnError != nil {
			h.OnError(err.Error())
		}
		return
	}
	m.framesReceived.Add(1)
	if h.OnNotify != nil {
		h.OnNotify(odom)
	}
}

func (m *Manager) handleUnexpectedDisconnect(gen uint64) {
	m.mu.Lock()
	if gen == m.gen && m.state == StateConnecting {
		// Connect has not installed the session yet; it fails the attempt
		m.lostInSetup = true
		m.mu.Unlock()
		return
	}
	if gen != m.gen || m.intentional || m.state != StateActive {
		m.mu.Unlock()
		return
	}
	m.gen++
	loop := m.loop
	sess := m.session
	onDisconnect := m.handlers.OnDisconnect
	m.session = nil
	m.loop = nil
	m.state = StateIdle
	m.since = time.Now()
	m.lastError = "link lost"
	m.mu.Unlock()

	m.logger.Warnf("Link lost unexpectedly (session=%s)", sess.ID())
	loop.Stop()
	sess.Close()

	if onDisconnect != nil {
		onDisconnect()
	}
}

func (m *Manager) handleLoopError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastError = err.Error()
	onError := m.handlers.OnError
	m.mu.Unlock()

	if onError != nil {
		onError(err.Error())
	}
}
