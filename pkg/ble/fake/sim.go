package fake

import (
	"math"
	"sync"
	"time"

	"github.com/open-teleop/robotlink/pkg/wire"
)

// Robot integrates received commands into a planar pose and answers every
// command with an odometry notification. Each command is held until the
// next one arrives.
type Robot struct {
	radio *Radio
	now   func() time.Time

	mu   sync.Mutex
	pose wire.Odometry
	cmd  wire.Command
	last time.Time
}

// NewSimulatedRadio returns a Radio backed by a simulated robot
func NewSimulatedRadio() (*Radio, *Robot) {
	r := &Radio{DiscardWrites: true}
	robot := &Robot{radio: r, now: time.Now}
	r.WriteFunc = robot.handleWrite
	return r, robot
}

// Pose returns the simulated robot's current pose
func (s *Robot) Pose() wire.Odometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}

func (s *Robot) handleWrite(p []byte) error {
	cmd, err := wire.DecodeCommand(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	now := s.now()
	if !s.last.IsZero() {
		s.step(s.cmd, now.Sub(s.last).Seconds())
	}
	s.cmd = cmd
	s.last = now
	pose := s.pose
	s.mu.Unlock()

	if conn := s.radio.Conn(); conn != nil {
		if char := conn.Char(); char != nil {
			char.Notify(wire.EncodeOdometry(pose))
		}
	}
	return nil
}

// step advances the pose by dt seconds with body-frame velocities
func (s *Robot) step(cmd wire.Command, dt float64) {
	yaw := float64(s.pose.Yaw)
	vx, vy, w := float64(cmd.Vx), float64(cmd.Vy), float64(cmd.W)

	s.pose.X += float32((vx*math.Cos(yaw) - vy*math.Sin(yaw)) * dt)
	s.pose.Y += float32((vx*math.Sin(yaw) + vy*math.Cos(yaw)) * dt)
	s.pose.Yaw = float32(math.Remainder(yaw+w*dt, 2*math.Pi))
}
