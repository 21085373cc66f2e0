package telemetry

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	fbtelemetry "github.com/open-teleop/robotlink/pkg/flatbuffers/robotlink/telemetry"
	"github.com/open-teleop/robotlink/pkg/wire"
)

// ErrInvalidEnvelope is returned when a buffer is not an odometry envelope
var ErrInvalidEnvelope = errors.New("invalid odometry envelope")

// Envelope is the published form of one odometry sample
type Envelope struct {
	RobotID     string        `json:"robot_id"`
	SessionID   string        `json:"session_id"`
	TimestampNs int64         `json:"timestamp_ns"`
	Odometry    wire.Odometry `json:"odometry"`
}

// EncodeEnvelope serializes an envelope as a robotlink.telemetry.Odometry flatbuffer
func EncodeEnvelope(env Envelope) []byte {
	builder := flatbuffers.NewBuilder(64)
	robotID := builder.CreateString(env.RobotID)
	sessionID := builder.CreateString(env.SessionID)

	fbtelemetry.OdometryStart(builder)
	fbtelemetry.OdometryAddTimestampNs(builder, env.TimestampNs)
	fbtelemetry.OdometryAddRobotId(builder, robotID)
	fbtelemetry.OdometryAddSessionId(builder, sessionID)
	fbtelemetry.OdometryAddX(builder, env.Odometry.X)
	fbtelemetry.OdometryAddY(builder, env.Odometry.Y)
	fbtelemetry.OdometryAddYaw(builder, env.Odometry.Yaw)
	root := fbtelemetry.OdometryEnd(builder)
	fbtelemetry.FinishOdometryBuffer(builder, root)

	return builder.FinishedBytes()
}

// DecodeEnvelope parses a buffer produced by EncodeEnvelope
func DecodeEnvelope(buf []byte) (env Envelope, err error) {
	// root offset plus a vtable offset
	if len(buf) < 8 {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrInvalidEnvelope, len(buf))
	}
	defer func() {
		if r := recover(); r != nil {
			env = Envelope{}
			err = fmt.Errorf("%w: %v", ErrInvalidEnvelope, r)
		}
	}()

	odom := fbtelemetry.GetRootAsOdometry(buf, 0)
	return Envelope{
		RobotID:     string(odom.RobotId()),
		SessionID:   string(odom.SessionId()),
		TimestampNs: odom.TimestampNs(),
		Odometry: wire.Odometry{
			X:   odom.X(),
			Y:   odom.Y(),
			Yaw: odom.Yaw(),
		},
	}, nil
}
