package api

import (
	"encoding/json"
	"errors"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/open-teleop/robotlink/domain/telemetry"
	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/wire"
)

const wsWriteTimeout = 2 * time.Second

// CommandSink accepts operator commands
type CommandSink interface {
	SetCommand(cmd wire.Command) (wire.Command, error)
}

// OdometryFeed streams odometry snapshots
type OdometryFeed interface {
	Subscribe(buffer int) (<-chan telemetry.Snapshot, func())
}

// ControlWebSocketHandler reads Twist commands from the operator and pushes
// odometry back on the same connection. Only the writer goroutine writes
// to conn.
func ControlWebSocketHandler(conn *websocket.Conn, logger customlog.Logger, commands CommandSink, feed OdometryFeed) {
	logger.Infof("Control WebSocket connected: %s", conn.RemoteAddr())

	samples, unsubscribe := feed.Subscribe(8)
	replies := make(chan OutboundMsg, 8)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			var out OutboundMsg
			select {
			case <-done:
				return
			case snap, ok := <-samples:
				if !ok {
					return
				}
				out = OutboundMsg{Type: OutboundOdometry, Data: snap}
			case out = <-replies:
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(out); err != nil {
				logger.Debugf("Control WS write failed: %v", err)
				return
			}
		}
	}()

	reply := func(msg OutboundMsg) {
		select {
		case replies <- msg:
		default:
			logger.Debugf("Control WS reply queue full, dropping %s", msg.Type)
		}
	}

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("Control WS read error: %v", err)
			} else if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				logger.Infof("Control WS connection closed: %v", err)
			}
			break
		}

		if mt != websocket.TextMessage {
			logger.Debugf("Ignoring non-text Control WS message type: %d", mt)
			continue
		}

		var twist TwistMsg
		if err := json.Unmarshal(msg, &twist); err != nil {
			logger.Warnf("Failed to unmarshal Twist command from WS: %v", err)
			reply(OutboundMsg{Type: OutboundError, Data: err.Error()})
			continue
		}

		applied, err := commands.SetCommand(twist.Command())
		if err != nil {
			logger.Warnf("Rejected Twist command from WS: %v", err)
			reply(OutboundMsg{Type: OutboundError, Data: err.Error()})
			continue
		}
		logger.Debugf("Twist command via WS: vx=%.2f vy=%.2f w=%.2f", applied.Vx, applied.Vy, applied.W)
		reply(OutboundMsg{Type: OutboundCommandAck, Data: applied})
	}

	close(done)
	unsubscribe()
	<-writerDone
	logger.Infof("Control WebSocket disconnected: %s", conn.RemoteAddr())
}
