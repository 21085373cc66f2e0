// Package wire implements the fixed-width binary frames exchanged with the
// robot: a 12-byte command frame going out and an odometry frame coming in.
//
// Both frames are three IEEE-754 single-precision floats, little-endian, with
// no framing. The radio notification mechanism delivers discrete payloads.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FrameSize is the size of a command frame and the minimum size of an
// odometry frame.
const FrameSize = 12

// ErrMalformedPayload is returned when an inbound frame is too short to decode.
var ErrMalformedPayload = errors.New("malformed payload")

// Command is a velocity setpoint: Vx and Vy in m/s, W in rad/s.
type Command struct {
	Vx float32 `json:"vx"`
	Vy float32 `json:"vy"`
	W  float32 `json:"w"`
}

// HasNaN reports whether any component is NaN.
func (c Command) HasNaN() bool {
	return isNaN32(c.Vx) || isNaN32(c.Vy) || isNaN32(c.W)
}

// Odometry is the robot pose estimate: X and Y in meters, Yaw in radians.
type Odometry struct {
	X   float32 `json:"x"`
	Y   float32 `json:"y"`
	Yaw float32 `json:"yaw"`
}

// EncodeCommand returns the 12-byte frame for c. Values are written
// bit-for-bit, NaN and Inf included.
func EncodeCommand(c Command) []byte {
	return AppendCommand(make([]byte, 0, FrameSize), c)
}

// AppendCommand appends the frame for c to dst.
func AppendCommand(dst []byte, c Command) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(c.Vx))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(c.Vy))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(c.W))
	return dst
}

// DecodeOdometry reads x, y, yaw from the first 12 bytes of buf.
// Trailing bytes are ignored.
func DecodeOdometry(buf []byte) (Odometry, error) {
	if len(buf) < FrameSize {
		return Odometry{}, fmt.Errorf("%w: got %d bytes, need at least %d", ErrMalformedPayload, len(buf), FrameSize)
	}
	return Odometry{
		X:   math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])),
		Y:   math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
		Yaw: math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])),
	}, nil
}

// EncodeOdometry produces the frame the robot sends. Used by simulators and tests.
func EncodeOdometry(o Odometry) []byte {
	buf := make([]byte, 0, FrameSize)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(o.X))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(o.Y))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(o.Yaw))
	return buf
}

// DecodeCommand is the robot-side inverse of EncodeCommand.
func DecodeCommand(buf []byte) (Command, error) {
	if len(buf) < FrameSize {
		return Command{}, fmt.Errorf("%w: got %d bytes, need at least %d", ErrMalformedPayload, len(buf), FrameSize)
	}
	return Command{
		Vx: math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])),
		Vy: math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
		W:  math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])),
	}, nil
}

func isNaN32(f float32) bool {
	return f != f
}
