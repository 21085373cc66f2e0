// Package fake provides an in-memory ble.Radio for tests and for running the
// controller without Bluetooth hardware.
package fake

import (
	"context"
	"sync"

	"github.com/open-teleop/robotlink/pkg/ble"
)

// Radio is a scriptable ble.Radio. The zero value selects a single device
// named "fake-robot" whose characteristic accepts every write.
type Radio struct {
	mu sync.Mutex

	// Device returned by Select.
	DeviceInfo ble.DeviceInfo
	// SelectErr, when set, is returned by Select instead of a device.
	SelectErr error
	// BlockSelect makes Select wait for ctx cancellation, like an operator
	// leaving a picker open.
	BlockSelect bool
	// ConnectErr and CharErr fail the respective step.
	ConnectErr error
	CharErr    error
	// NoWriteWithoutResponse forces acknowledged writes.
	NoWriteWithoutResponse bool
	// WriteFunc, if set, is called for every write; a blocking WriteFunc
	// simulates a slow link.
	WriteFunc func(p []byte) error
	// UnsubscribeErr is returned by Unsubscribe.
	UnsubscribeErr error
	// DropAfterSetup drops the link right after the first Connected check
	// made with an observer armed, i.e. just after setup verified it.
	DropAfterSetup bool
	// DiscardWrites stops the characteristic from recording writes, for
	// long-running use.
	DiscardWrites bool

	selects int
	conn    *Connection
}

var _ ble.Radio = (*Radio)(nil)

// Select implements ble.Radio.
func (r *Radio) Select(ctx context.Context, filter ble.Filter) (ble.Device, error) {
	r.mu.Lock()
	r.selects++
	block := r.BlockSelect
	selectErr := r.SelectErr
	info := r.DeviceInfo
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		if ctx.Err() == context.Canceled {
			return nil, ble.ErrSelectionCancelled
		}
		return nil, ble.ErrNoDevice
	}
	if selectErr != nil {
		return nil, selectErr
	}
	if info.Address == "" {
		info.Address = "00:11:22:33:44:55"
	}
	if info.Name == "" {
		info.Name = "fake-robot"
	}
	if !filter.Matches(info.Address, info.Name) {
		return nil, ble.ErrNoDevice
	}
	return &device{radio: r, info: info}, nil
}

// Selects returns how many times Select was called.
func (r *Radio) Selects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selects
}

// Conn returns the most recent connection, or nil.
func (r *Radio) Conn() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

type device struct {
	radio *Radio
	info  ble.DeviceInfo
}

func (d *device) Info() ble.DeviceInfo { return d.info }

func (d *device) Connect(ctx context.Context) (ble.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.radio.mu.Lock()
	defer d.radio.mu.Unlock()
	if d.radio.ConnectErr != nil {
		return nil, d.radio.ConnectErr
	}
	conn := &Connection{radio: d.radio, connected: true, dropAfterSetup: d.radio.DropAfterSetup}
	d.radio.conn = conn
	return conn, nil
}

// Connection is the fake GATT link.
type Connection struct {
	radio *Radio

	mu             sync.Mutex
	connected      bool
	observer       func()
	char           *Characteristic
	disconnects    int
	dropAfterSetup bool
}

var _ ble.Connection = (*Connection)(nil)

func (c *Connection) Characteristic(serviceUUID, characteristicUUID string) (ble.Characteristic, error) {
	c.radio.mu.Lock()
	charErr := c.radio.CharErr
	noWwr := c.radio.NoWriteWithoutResponse
	writeFn := c.radio.WriteFunc
	unsubErr := c.radio.UnsubscribeErr
	discard := c.radio.DiscardWrites
	c.radio.mu.Unlock()

	if charErr != nil {
		return nil, charErr
	}
	char := &Characteristic{
		ServiceUUID:        serviceUUID,
		CharacteristicUUID: characteristicUUID,
		withoutResponse:    !noWwr,
		writeFn:            writeFn,
		unsubscribeErr:     unsubErr,
		discardWrites:      discard,
	}
	c.mu.Lock()
	c.char = char
	c.mu.Unlock()
	return char, nil
}

func (c *Connection) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

func (c *Connection) Connected() bool {
	c.mu.Lock()
	connected := c.connected
	drop := connected && c.observer != nil && c.dropAfterSetup
	if drop {
		c.dropAfterSetup = false
	}
	c.mu.Unlock()

	if drop {
		c.Drop()
	}
	return connected
}

// Disconnect is a caller-initiated disconnect. Like some platforms, the fake
// still reports it to the observer if one is attached.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	observer := c.observer
	c.mu.Unlock()
	if observer != nil {
		observer()
	}
	return nil
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Drop simulates the robot or the radio dropping the link.
func (c *Connection) Drop() {
	c.mu.Lock()
	c.connected = false
	observer := c.observer
	c.mu.Unlock()
	if observer != nil {
		observer()
	}
}

// HasObserver reports whether a disconnect observer is attached.
func (c *Connection) HasObserver() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer != nil
}

// Char returns the last resolved characteristic.
func (c *Connection) Char() *Characteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.char
}

// Characteristic records writes and delivers notifications on demand.
type Characteristic struct {
	ServiceUUID        string
	CharacteristicUUID string

	withoutResponse bool
	writeFn         func(p []byte) error
	unsubscribeErr  error
	discardWrites   bool

	mu         sync.Mutex
	writes     [][]byte
	acked      int
	unacked    int
	notify     func([]byte)
	subscribes int
}

var _ ble.Characteristic = (*Characteristic)(nil)

func (c *Characteristic) SupportsWriteWithoutResponse() bool { return c.withoutResponse }

func (c *Characteristic) WriteWithoutResponse(p []byte) error {
	c.mu.Lock()
	c.unacked++
	c.mu.Unlock()
	return c.write(p)
}

func (c *Characteristic) Write(p []byte) error {
	c.mu.Lock()
	c.acked++
	c.mu.Unlock()
	return c.write(p)
}

func (c *Characteristic) write(p []byte) error {
	buf := append([]byte(nil), p...)
	if !c.discardWrites {
		c.mu.Lock()
		c.writes = append(c.writes, buf)
		c.mu.Unlock()
	}
	if c.writeFn != nil {
		return c.writeFn(buf)
	}
	return nil
}

func (c *Characteristic) Subscribe(fn func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
	c.subscribes++
	return nil
}

func (c *Characteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = nil
	return c.unsubscribeErr
}

// Notify delivers payload to the subscriber, if any. It reports whether a
// subscriber was present.
func (c *Characteristic) Notify(payload []byte) bool {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(payload)
	return true
}

// Writes returns a copy of every written buffer.
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// WriteCounts returns (acknowledged, unacknowledged) write counts.
func (c *Characteristic) WriteCounts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked, c.unacked
}

// Subscribed reports whether a notification handler is active.
func (c *Characteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify != nil
}

// Subscribes returns how many times Subscribe was called.
func (c *Characteristic) Subscribes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes
}
