package teleop

import (
	"encoding/json"
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/robotlink/pkg/config"
	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetCommandClampsToLimits(t *testing.T) {
	s := NewTeleopService(config.CommandLimits{MaxLinear: 1, MaxAngular: 2}, customlog.NewNopLogger())

	got, err := s.SetCommand(wire.Command{Vx: 3, Vy: -5, W: 1.5})
	require.NoError(t, err)
	assert.Equal(t, wire.Command{Vx: 1, Vy: -1, W: 1.5}, got)
	assert.Equal(t, got, s.Latest())

	got, err = s.SetCommand(wire.Command{W: -9})
	require.NoError(t, err)
	assert.Equal(t, wire.Command{W: -2}, got)
}

func TestSetCommandUnlimited(t *testing.T) {
	s := NewTeleopService(config.CommandLimits{}, customlog.NewNopLogger())

	got, err := s.SetCommand(wire.Command{Vx: 100, Vy: -100, W: 50})
	require.NoError(t, err)
	assert.Equal(t, wire.Command{Vx: 100, Vy: -100, W: 50}, got)
}

func TestSetCommandRejectsNonFinite(t *testing.T) {
	s := NewTeleopService(config.CommandLimits{}, customlog.NewNopLogger())
	_, _ = s.SetCommand(wire.Command{Vx: 0.5})

	for _, cmd := range []wire.Command{
		{Vx: float32(math.NaN())},
		{Vy: float32(math.Inf(1))},
		{W: float32(math.Inf(-1))},
	} {
		_, err := s.SetCommand(cmd)
		assert.ErrorIs(t, err, ErrInvalidValue)
	}
	assert.Equal(t, wire.Command{Vx: 0.5}, s.Latest(), "rejected commands leave the current one in place")
}

func TestValidateCommandNamesFirstBadComponent(t *testing.T) {
	s := NewTeleopService(config.CommandLimits{}, customlog.NewNopLogger())
	nan := float32(math.NaN())

	for i := 0; i < 20; i++ {
		err := s.ValidateCommand(wire.Command{Vx: nan, Vy: nan, W: nan})
		require.ErrorIs(t, err, ErrInvalidValue)
		assert.True(t, strings.HasSuffix(err.Error(), ": vx"), err.Error())
	}
	err := s.ValidateCommand(wire.Command{Vy: nan, W: nan})
	assert.True(t, strings.HasSuffix(err.Error(), ": vy"), err.Error())
	assert.NoError(t, s.ValidateCommand(wire.Command{Vx: 1, Vy: -1, W: 0.5}))
}

func TestLatestHonoursCommandTimeout(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewTeleopService(config.CommandLimits{CommandTimeoutMs: 200}, customlog.NewNopLogger())
	s.now = func() time.Time { return now }

	assert.Equal(t, wire.Command{}, s.Latest())

	_, err := s.SetCommand(wire.Command{Vx: 1})
	require.NoError(t, err)

	now = now.Add(150 * time.Millisecond)
	assert.Equal(t, wire.Command{Vx: 1}, s.Latest())

	now = now.Add(100 * time.Millisecond)
	assert.Equal(t, wire.Command{}, s.Latest())
}

func TestHalt(t *testing.T) {
	s := NewTeleopService(config.CommandLimits{}, customlog.NewNopLogger())
	_, _ = s.SetCommand(wire.Command{Vx: 1, W: 1})

	s.Halt()
	assert.Equal(t, wire.Command{}, s.Latest())
}

func newTestApp(s *TeleopService) *fiber.App {
	app := fiber.New()
	app.Put("/command", s.CommandHandler)
	app.Get("/command", s.GetCommandHandler)
	app.Post("/halt", s.HaltHandler)
	return app
}

func TestCommandHandler(t *testing.T) {
	s := NewTeleopService(config.CommandLimits{MaxLinear: 1}, customlog.NewNopLogger())
	app := newTestApp(s)

	req := httptest.NewRequest(fiber.MethodPut, "/command", strings.NewReader(`{"vx":2,"vy":0.5,"w":-1}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Status  string       `json:"status"`
		Command wire.Command `json:"command"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, wire.Command{Vx: 1, Vy: 0.5, W: -1}, body.Command)
	assert.Equal(t, body.Command, s.Latest())
}

func TestCommandHandlerBadBody(t *testing.T) {
	app := newTestApp(NewTeleopService(config.CommandLimits{}, customlog.NewNopLogger()))

	req := httptest.NewRequest(fiber.MethodPut, "/command", strings.NewReader(`{"vx":`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHaltHandler(t *testing.T) {
	s := NewTeleopService(config.CommandLimits{}, customlog.NewNopLogger())
	_, _ = s.SetCommand(wire.Command{Vx: 1})
	app := newTestApp(s)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/halt", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, wire.Command{}, s.Latest())

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/command", nil))
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"command":{"vx":0,"vy":0,"w":0}}`, string(data))
}
