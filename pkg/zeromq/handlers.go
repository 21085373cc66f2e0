package zeromq

import (
	"encoding/json"
	"fmt"

	"github.com/open-teleop/robotlink/pkg/config"
	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/wire"
)

// StatusProvider returns a JSON-serializable link status snapshot
type StatusProvider func() interface{}

// CommandSink accepts operator commands
type CommandSink interface {
	SetCommand(cmd wire.Command) (wire.Command, error)
}

// ConfigProvider exposes the current operational configuration
type ConfigProvider interface {
	GetCurrentConfig() *config.Config
}

// StatusHandler handles STATUS_REQUEST messages
type StatusHandler struct {
	status StatusProvider
	logger customlog.Logger
}

// NewStatusHandler creates a new handler for status requests
func NewStatusHandler(status StatusProvider, logger customlog.Logger) *StatusHandler {
	return &StatusHandler{status: status, logger: logger}
}

// HandleMessage answers with a STATUS_RESPONSE
func (h *StatusHandler) HandleMessage(msg *ZeroMQMessage) ([]byte, error) {
	h.logger.Debugf("Processing status request")
	return NewResponse(MsgTypeStatusResponse, h.status())
}

// CommandHandler handles COMMAND messages carrying {"vx","vy","w"}
type CommandHandler struct {
	sink   CommandSink
	logger customlog.Logger
}

// NewCommandHandler creates a new handler for operator commands
func NewCommandHandler(sink CommandSink, logger customlog.Logger) *CommandHandler {
	return &CommandHandler{sink: sink, logger: logger}
}

// HandleMessage applies the command and answers with a COMMAND_ACK holding
// the command actually stored after clamping.
func (h *CommandHandler) HandleMessage(msg *ZeroMQMessage) ([]byte, error) {
	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("%w: command without data", ErrInvalidMessage)
	}

	var cmd wire.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	applied, err := h.sink.SetCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	return NewResponse(MsgTypeCommandAck, commandAck(applied))
}

func commandAck(c wire.Command) map[string]interface{} {
	return map[string]interface{}{
		"status":  "OK",
		"command": c,
	}
}

// ConfigHandler handles CONFIG_REQUEST messages
type ConfigHandler struct {
	provider ConfigProvider
	logger   customlog.Logger
}

// NewConfigHandler creates a new handler for configuration requests
func NewConfigHandler(provider ConfigProvider, logger customlog.Logger) *ConfigHandler {
	return &ConfigHandler{provider: provider, logger: logger}
}

// HandleMessage answers with a CONFIG_RESPONSE
func (h *ConfigHandler) HandleMessage(msg *ZeroMQMessage) ([]byte, error) {
	h.logger.Debugf("Processing configuration request")
	return NewResponse(MsgTypeConfigResponse, h.provider.GetCurrentConfig())
}

// Registrar is the part of ZeroMQService that handler registration needs
type Registrar interface {
	RegisterHandler(messageType string, handler MessageHandler)
}

// RegisterLinkHandlers registers the status, command and config handlers
func RegisterLinkHandlers(r Registrar, status StatusProvider, sink CommandSink, cfg ConfigProvider, logger customlog.Logger) {
	r.RegisterHandler(MsgTypeStatusRequest, NewStatusHandler(status, logger))
	r.RegisterHandler(MsgTypeCommand, NewCommandHandler(sink, logger))
	if cfg != nil {
		r.RegisterHandler(MsgTypeConfigRequest, NewConfigHandler(cfg, logger))
	}
	logger.Infof("Registered ZeroMQ link handlers")
}
