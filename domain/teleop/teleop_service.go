package teleop

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/robotlink/pkg/config"
	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/wire"
)

// ErrInvalidValue is returned for commands with NaN or infinite components.
var ErrInvalidValue = errors.New("command value must be a finite number")

// TeleopService holds the operator's most recent command. The command loop
// pulls from it; it never queues.
type TeleopService struct {
	logger customlog.Logger

	mu      sync.RWMutex
	current wire.Command
	updated time.Time
	limits  config.CommandLimits
	now     func() time.Time
}

// NewTeleopService creates a new teleop service instance
func NewTeleopService(limits config.CommandLimits, logger customlog.Logger) *TeleopService {
	return &TeleopService{
		logger: logger,
		limits: limits,
		now:    time.Now,
	}
}

// SetLimits replaces the command limits, e.g. after a config update.
func (s *TeleopService) SetLimits(limits config.CommandLimits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = limits
}

// Latest returns the command to transmit now. If a command timeout is
// configured and the operator has been silent longer than it, Latest
// returns the zero command.
func (s *TeleopService) Latest() wire.Command {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if timeout := s.limits.CommandTimeout(); timeout > 0 && !s.updated.IsZero() && s.now().Sub(s.updated) > timeout {
		return wire.Command{}
	}
	return s.current
}

// SetCommand validates cmd, clamps it to the limits and makes it current.
// It returns the command actually stored.
func (s *TeleopService) SetCommand(cmd wire.Command) (wire.Command, error) {
	if err := s.ValidateCommand(cmd); err != nil {
		return wire.Command{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := wire.Command{
		Vx: clamp(cmd.Vx, s.limits.MaxLinear),
		Vy: clamp(cmd.Vy, s.limits.MaxLinear),
		W:  clamp(cmd.W, s.limits.MaxAngular),
	}
	if out != cmd {
		s.logger.Debugf("Command clamped from %+v to %+v", cmd, out)
	}
	s.current = out
	s.updated = s.now()
	return out, nil
}

// Halt makes the zero command current.
func (s *TeleopService) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = wire.Command{}
	s.updated = s.now()
}

// ValidateCommand checks that every component is finite. The first bad
// component, in vx, vy, w order, is named in the error.
func (s *TeleopService) ValidateCommand(cmd wire.Command) error {
	components := []struct {
		name  string
		value float32
	}{
		{"vx", cmd.Vx},
		{"vy", cmd.Vy},
		{"w", cmd.W},
	}
	for _, c := range components {
		f := float64(c.value)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s", ErrInvalidValue, c.name)
		}
	}
	return nil
}

// CommandHandler processes incoming teleop commands
func (s *TeleopService) CommandHandler(c *fiber.Ctx) error {
	var cmd wire.Command
	if err := c.BodyParser(&cmd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	applied, err := s.SetCommand(cmd)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":  "command accepted",
		"command": applied,
	})
}

// HaltHandler zeroes the current command
func (s *TeleopService) HaltHandler(c *fiber.Ctx) error {
	s.Halt()
	return c.JSON(fiber.Map{
		"status":  "halted",
		"command": wire.Command{},
	})
}

// GetCommandHandler returns the command the loop would send now
func (s *TeleopService) GetCommandHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"command": s.Latest(),
	})
}

func clamp(v, limit float32) float32 {
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
