package telemetry

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/processing"
	"github.com/open-teleop/robotlink/pkg/wire"
)

// Snapshot is the most recent odometry reading
type Snapshot struct {
	Valid     bool          `json:"valid"`
	SessionID string        `json:"session_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Odometry  wire.Odometry `json:"odometry"`
}

// TelemetryService keeps the latest odometry and fans every sample out to
// the processing pool and to live subscribers.
type TelemetryService struct {
	mu          sync.RWMutex
	latest      Snapshot
	robotID     string
	topic       string
	pool        *processing.ProcessingPool
	subscribers map[int]chan Snapshot
	nextSubID   int
	received    int64
	logger      customlog.Logger
	now         func() time.Time
}

// NewTelemetryService creates a telemetry service. The pool may be nil when
// no publishers are configured; otherwise its processor is set to the
// flatbuffer envelope encoder.
func NewTelemetryService(robotID, topic string, pool *processing.ProcessingPool, logger customlog.Logger) *TelemetryService {
	s := &TelemetryService{
		robotID:     robotID,
		topic:       topic,
		pool:        pool,
		subscribers: make(map[int]chan Snapshot),
		logger:      logger,
		now:         time.Now,
	}
	if pool != nil {
		pool.SetProcessor(s.encodeFrame)
	}
	return s
}

// SetRobotID changes the robot id stamped on published envelopes
func (s *TelemetryService) SetRobotID(robotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.robotID = robotID
}

// HandleOdometry records a decoded sample. It is called from the radio's
// notification goroutine and never blocks.
func (s *TelemetryService) HandleOdometry(sessionID string, odom wire.Odometry) {
	now := s.now()
	snap := Snapshot{
		Valid:     true,
		SessionID: sessionID,
		Timestamp: now,
		Odometry:  odom,
	}

	s.mu.Lock()
	s.latest = snap
	s.received++
	for id, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			s.logger.Debugf("Telemetry subscriber %d is behind, dropping sample", id)
		}
	}
	s.mu.Unlock()

	if s.pool != nil {
		s.pool.Submit(&processing.Frame{
			Topic:       s.topic,
			SessionID:   sessionID,
			TimestampNs: now.UnixNano(),
			Odometry:    odom,
		})
	}
}

// Reset marks the stored sample stale, used when the link goes down
func (s *TelemetryService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest.Valid = false
}

// Latest returns the most recent snapshot
func (s *TelemetryService) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Received returns the number of samples handled so far
func (s *TelemetryService) Received() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received
}

// Subscribe returns a channel receiving every new sample and a function
// that cancels the subscription. Slow subscribers miss samples.
func (s *TelemetryService) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// GetOdometryHandler handles API requests for the latest odometry
func (s *TelemetryService) GetOdometryHandler(c *fiber.Ctx) error {
	snap := s.Latest()
	if !snap.Valid {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":  "error",
			"message": "no odometry received on the current link",
		})
	}
	return c.JSON(fiber.Map{
		"status":   "success",
		"odometry": snap,
	})
}

func (s *TelemetryService) encodeFrame(frame *processing.Frame) ([]byte, error) {
	s.mu.RLock()
	robotID := s.robotID
	s.mu.RUnlock()

	return EncodeEnvelope(Envelope{
		RobotID:     robotID,
		SessionID:   frame.SessionID,
		TimestampNs: frame.TimestampNs,
		Odometry:    frame.Odometry,
	}), nil
}
