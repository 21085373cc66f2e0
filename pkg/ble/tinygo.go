package ble

import (
	"context"
	"fmt"
	"sync"

	customlog "github.com/open-teleop/robotlink/pkg/log"
	"tinygo.org/x/bluetooth"
)

// Ensure Adapter implements the Radio interface
var _ Radio = (*Adapter)(nil)

// AdapterOptions tunes the tinygo bluetooth backed radio.
type AdapterOptions struct {
	// WriteWithoutResponse advertises unacknowledged writes on resolved
	// characteristics. The bluetooth package does not expose characteristic
	// properties on every platform, so this is configured.
	WriteWithoutResponse bool
}

// Adapter implements Radio on top of tinygo.org/x/bluetooth.
type Adapter struct {
	adapter *bluetooth.Adapter
	logger  customlog.Logger
	opts    AdapterOptions

	enableOnce sync.Once
	enableErr  error

	mu       sync.Mutex
	scanning bool
	// open links keyed by peripheral address
	links map[string]*tinygoConnection
}

// NewAdapter wraps a bluetooth adapter, usually bluetooth.DefaultAdapter.
func NewAdapter(adapter *bluetooth.Adapter, logger customlog.Logger, opts AdapterOptions) *Adapter {
	return &Adapter{
		adapter: adapter,
		logger:  logger,
		opts:    opts,
		links:   make(map[string]*tinygoConnection),
	}
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("failed to enable bluetooth adapter: %w", err)
			return
		}
		a.adapter.SetConnectHandler(a.handleConnectEvent)
		a.logger.Infof("Bluetooth adapter enabled")
	})
	return a.enableErr
}

func (a *Adapter) handleConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	address := device.Address.String()
	a.mu.Lock()
	link := a.links[address]
	a.mu.Unlock()

	if link == nil {
		a.logger.Debugf("Bluetooth device %s disconnected (untracked)", address)
		return
	}
	// the loss is recorded even when no observer is armed yet
	fn := link.markLost()
	a.logger.Debugf("Bluetooth device %s disconnected (observer=%v)", address, fn != nil)
	if fn != nil {
		fn()
	}
}

func (a *Adapter) track(c *tinygoConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.links[c.address] = c
}

func (a *Adapter) untrack(c *tinygoConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.links[c.address] == c {
		delete(a.links, c.address)
	}
}

// Select scans until an advertisement matches filter or ctx ends.
func (a *Adapter) Select(ctx context.Context, filter Filter) (Device, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return nil, fmt.Errorf("scan already in progress")
	}
	a.scanning = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
	}()

	found := make(chan bluetooth.ScanResult, 1)
	scanDone := make(chan error, 1)

	go func() {
		scanDone <- a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !filter.Matches(result.Address.String(), result.LocalName()) {
				return
			}
			select {
			case found <- result:
				if err := adapter.StopScan(); err != nil {
					a.logger.Warnf("Failed to stop scan after match: %v", err)
				}
			default:
			}
		})
	}()

	select {
	case result := <-found:
		<-scanDone
		a.logger.Infof("Selected device %s (%s, rssi=%d)", result.Address.String(), result.LocalName(), result.RSSI)
		return &tinygoDevice{adapter: a, result: result}, nil

	case err := <-scanDone:
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		return nil, ErrNoDevice

	case <-ctx.Done():
		if err := a.adapter.StopScan(); err != nil {
			a.logger.Warnf("Failed to stop scan on cancel: %v", err)
		}
		<-scanDone
		if ctx.Err() == context.Canceled {
			return nil, ErrSelectionCancelled
		}
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, ctx.Err())
	}
}

type tinygoDevice struct {
	adapter *Adapter
	result  bluetooth.ScanResult
}

func (d *tinygoDevice) Info() DeviceInfo {
	return DeviceInfo{
		Address: d.result.Address.String(),
		Name:    d.result.LocalName(),
		RSSI:    d.result.RSSI,
	}
}

// Connect dials the peripheral. The bluetooth package has no cancellable
// connect, so a cancelled ctx abandons the attempt and disconnects the late
// result in the background.
func (d *tinygoDevice) Connect(ctx context.Context) (Connection, error) {
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan connectResult, 1)
	go func() {
		device, err := d.adapter.adapter.Connect(d.result.Address, bluetooth.ConnectionParams{})
		done <- connectResult{device: device, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		conn := &tinygoConnection{adapter: d.adapter, device: r.device, address: d.result.Address.String(), connected: true}
		d.adapter.track(conn)
		return conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type tinygoConnection struct {
	adapter *Adapter
	device  bluetooth.Device
	address string

	mu        sync.Mutex
	connected bool
	observer  func()
}

func (c *tinygoConnection) Characteristic(serviceUUID, characteristicUUID string) (Characteristic, error) {
	svcID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service uuid %q: %w", serviceUUID, err)
	}
	charID, err := bluetooth.ParseUUID(characteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic uuid %q: %w", characteristicUUID, err)
	}

	services, err := c.device.DiscoverServices([]bluetooth.UUID{svcID})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServiceNotFound, serviceUUID, err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceUUID)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charID})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCharNotFound, characteristicUUID, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCharNotFound, characteristicUUID)
	}

	return &tinygoCharacteristic{char: chars[0], withoutResponse: c.adapter.opts.WriteWithoutResponse}, nil
}

func (c *tinygoConnection) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
	if fn == nil {
		c.adapter.untrack(c)
	}
}

// markLost flags the link down and returns the observer to notify, if any.
func (c *tinygoConnection) markLost() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.observer
}

func (c *tinygoConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *tinygoConnection) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return c.device.Disconnect()
}

type tinygoCharacteristic struct {
	char            bluetooth.DeviceCharacteristic
	withoutResponse bool
}

func (c *tinygoCharacteristic) SupportsWriteWithoutResponse() bool {
	return c.withoutResponse
}

func (c *tinygoCharacteristic) WriteWithoutResponse(p []byte) error {
	_, err := c.char.WriteWithoutResponse(p)
	return err
}

func (c *tinygoCharacteristic) Write(p []byte) error {
	_, err := c.char.Write(p)
	return err
}

func (c *tinygoCharacteristic) Subscribe(fn func(payload []byte)) error {
	return c.char.EnableNotifications(fn)
}

func (c *tinygoCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
