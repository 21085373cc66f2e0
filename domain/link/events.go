package link

import (
	"time"

	"github.com/open-teleop/robotlink/pkg/ble"
)

// EventType names a link lifecycle event
type EventType string

const (
	EventConnecting       EventType = "CONNECTING"
	EventConnected        EventType = "CONNECTED"
	EventConnectFailed    EventType = "CONNECT_FAILED"
	EventConnectCancelled EventType = "CONNECT_CANCELLED"
	EventDisconnected     EventType = "DISCONNECTED"
	EventLinkLost         EventType = "LINK_LOST"
	EventError            EventType = "ERROR"
)

// MsgTypeLinkEvent is the envelope type events are published under
const MsgTypeLinkEvent = "LINK_EVENT"

// Event is published on every link lifecycle change
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Device    *ble.DeviceInfo `json:"device,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventPublisher is implemented by the ZeroMQ service and the MQTT publisher
type EventPublisher interface {
	PublishJSON(topic string, messageType string, data interface{}) error
}
