package api

import (
	"github.com/open-teleop/robotlink/pkg/wire"
)

// --- Data Structures for WebSocket Messages ---

// Vector3 defines a standard 3D vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TwistMsg represents a command velocity message, matching geometry_msgs/Twist.
type TwistMsg struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// Command maps a planar twist onto the robot command: linear x and y, and
// rotation about z. The remaining components are ignored.
func (t TwistMsg) Command() wire.Command {
	return wire.Command{
		Vx: float32(t.Linear.X),
		Vy: float32(t.Linear.Y),
		W:  float32(t.Angular.Z),
	}
}

// OutboundMsg is what the control websocket pushes to the operator
type OutboundMsg struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Outbound message types
const (
	OutboundOdometry   = "odometry"
	OutboundCommandAck = "command_ack"
	OutboundError      = "error"
)
