package fake

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/robotlink/pkg/ble"
	"github.com/open-teleop/robotlink/pkg/wire"
)

func TestSimulatedRobotAnswersCommands(t *testing.T) {
	radio, robot := NewSimulatedRadio()
	clock := time.Unix(0, 0)
	robot.now = func() time.Time { return clock }

	dev, err := radio.Select(context.Background(), ble.Filter{})
	require.NoError(t, err)
	conn, err := dev.Connect(context.Background())
	require.NoError(t, err)
	char, err := conn.Characteristic("svc", "chr")
	require.NoError(t, err)

	var got []wire.Odometry
	require.NoError(t, char.Subscribe(func(p []byte) {
		o, err := wire.DecodeOdometry(p)
		require.NoError(t, err)
		got = append(got, o)
	}))

	cmd := wire.EncodeCommand(wire.Command{Vx: 1})
	require.NoError(t, char.WriteWithoutResponse(cmd))
	clock = clock.Add(2 * time.Second)
	require.NoError(t, char.WriteWithoutResponse(cmd))

	require.Len(t, got, 2)
	assert.Equal(t, wire.Odometry{}, got[0])
	assert.InDelta(t, 2.0, got[1].X, 1e-6)
	assert.Empty(t, radio.Conn().Char().Writes())

	// quarter turn, then drive forward along +y
	require.NoError(t, char.WriteWithoutResponse(wire.EncodeCommand(wire.Command{W: math.Pi / 2})))
	clock = clock.Add(time.Second)
	require.NoError(t, char.WriteWithoutResponse(wire.EncodeCommand(wire.Command{Vx: 1})))
	clock = clock.Add(time.Second)
	require.NoError(t, char.WriteWithoutResponse(wire.EncodeCommand(wire.Command{})))

	pose := robot.Pose()
	assert.InDelta(t, 2.0, pose.X, 1e-5)
	assert.InDelta(t, 1.0, pose.Y, 1e-5)
	assert.InDelta(t, math.Pi/2, pose.Yaw, 1e-5)

	assert.Error(t, char.Write([]byte{1, 2}))
}
