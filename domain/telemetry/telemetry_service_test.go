package telemetry

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/processing"
	"github.com/open-teleop/robotlink/pkg/wire"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	payload [][]byte
}

func (c *capturePublisher) PublishMessage(topic string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payload = append(c.payload, data)
	return nil
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		RobotID:     "rover-1",
		SessionID:   "abc",
		TimestampNs: 1700000000000000000,
		Odometry:    wire.Odometry{X: 1.5, Y: -2.25, Yaw: 0.5},
	}
	got, err := DecodeEnvelope(EncodeEnvelope(env))
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = DecodeEnvelope([]byte{0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestHandleOdometryPublishesEnvelope(t *testing.T) {
	logger := customlog.NewNopLogger()
	pub := &capturePublisher{}
	pool := processing.NewProcessingPool("telemetry", 1, 4, logger)
	pool.SetResultHandler(processing.NewPublishingResultHandler(logger, pub).CreateHandlerFunc())

	svc := NewTelemetryService("rover-1", "robotlink.telemetry.odometry", pool, logger)
	fixed := time.Unix(10, 0)
	svc.now = func() time.Time { return fixed }
	pool.Start()

	svc.HandleOdometry("sess-1", wire.Odometry{X: 1, Y: 2, Yaw: 3})
	pool.Stop()

	require.Len(t, pub.payload, 1)
	assert.Equal(t, "robotlink.telemetry.odometry", pub.topics[0])
	env, err := DecodeEnvelope(pub.payload[0])
	require.NoError(t, err)
	assert.Equal(t, "rover-1", env.RobotID)
	assert.Equal(t, "sess-1", env.SessionID)
	assert.Equal(t, fixed.UnixNano(), env.TimestampNs)
	assert.Equal(t, wire.Odometry{X: 1, Y: 2, Yaw: 3}, env.Odometry)

	snap := svc.Latest()
	assert.True(t, snap.Valid)
	assert.EqualValues(t, 1, svc.Received())
}

func TestSubscribeReceivesSamples(t *testing.T) {
	svc := NewTelemetryService("r", "t", nil, customlog.NewNopLogger())
	ch, cancel := svc.Subscribe(2)

	svc.HandleOdometry("s", wire.Odometry{X: 1})
	svc.HandleOdometry("s", wire.Odometry{X: 2})
	svc.HandleOdometry("s", wire.Odometry{X: 3}) // dropped, buffer full

	assert.Equal(t, float32(1), (<-ch).Odometry.X)
	assert.Equal(t, float32(2), (<-ch).Odometry.X)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	svc.HandleOdometry("s", wire.Odometry{X: 4})
	assert.Equal(t, float32(4), svc.Latest().Odometry.X)
}

func TestGetOdometryHandler(t *testing.T) {
	svc := NewTelemetryService("r", "t", nil, customlog.NewNopLogger())
	app := fiber.New()
	app.Get("/odom", svc.GetOdometryHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/odom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	svc.HandleOdometry("s", wire.Odometry{X: 0.5, Y: 0.25, Yaw: 1})
	resp, err = app.Test(httptest.NewRequest("GET", "/odom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Status   string   `json:"status"`
		Odometry Snapshot `json:"odometry"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, float32(0.5), out.Odometry.Odometry.X)

	svc.Reset()
	resp, err = app.Test(httptest.NewRequest("GET", "/odom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
