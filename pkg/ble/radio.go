// Package ble is the boundary between the link and the platform Bluetooth LE
// stack: device selection, GATT connection, characteristic resolution,
// notifications and disconnect observation.
package ble

import (
	"context"
	"errors"
	"strings"
)

// Errors reported by Radio implementations.
var (
	// ErrSelectionCancelled means the operator abandoned device selection.
	// It is a typed outcome, not a failure.
	ErrSelectionCancelled = errors.New("device selection cancelled")
	ErrNoDevice           = errors.New("no matching device found")
	ErrServiceNotFound    = errors.New("service not found")
	ErrCharNotFound       = errors.New("characteristic not found")
	ErrNotConnected       = errors.New("not connected")
)

// Filter selects the robot among advertising peripherals. Empty fields match anything.
type Filter struct {
	Address    string `yaml:"address" json:"address"`
	Name       string `yaml:"name" json:"name"`
	NamePrefix string `yaml:"name_prefix" json:"name_prefix"`
}

// Matches reports whether an advertisement with the given address and name passes the filter.
func (f Filter) Matches(address, name string) bool {
	if f.Address != "" && !strings.EqualFold(f.Address, address) {
		return false
	}
	if f.Name != "" && f.Name != name {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(name, f.NamePrefix) {
		return false
	}
	return true
}

// DeviceInfo describes a selected peripheral.
type DeviceInfo struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	RSSI    int16  `json:"rssi,omitempty"`
}

// Radio is the platform Bluetooth capability.
type Radio interface {
	// Select blocks until a peripheral matching filter is chosen.
	// It returns ErrSelectionCancelled when ctx is cancelled.
	Select(ctx context.Context, filter Filter) (Device, error)
}

// Device is a selected, not yet connected peripheral.
type Device interface {
	Info() DeviceInfo
	Connect(ctx context.Context) (Connection, error)
}

// Connection is an open GATT link.
type Connection interface {
	Characteristic(serviceUUID, characteristicUUID string) (Characteristic, error)
	// OnDisconnect installs fn as the link-loss observer. nil detaches it.
	OnDisconnect(fn func())
	Connected() bool
	Disconnect() error
}

// Characteristic is a resolved GATT characteristic.
type Characteristic interface {
	SupportsWriteWithoutResponse() bool
	WriteWithoutResponse(p []byte) error
	Write(p []byte) error
	// Subscribe enables notifications; fn runs once per value-changed event.
	Subscribe(fn func(payload []byte)) error
	Unsubscribe() error
}
