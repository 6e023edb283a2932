// Package ble connects the central state machine to a Bluetooth adapter.
// Adapter abstracts the hardware so the Stack, which turns adapter calls and
// callbacks into central events, can be tested without a radio.
package ble

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/basestation/internal/central"
)

// Advertisement is one received advertising report.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int8
	// Payload holds the raw AD structures.
	Payload []byte
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	UUID() uuid.UUID
	// Read reads the characteristic value into p.
	Read(p []byte) (int, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Service is a discovered primary service.
type Service interface {
	UUID() uuid.UUID
	// Characteristics discovers all characteristics of the service.
	Characteristics() ([]Characteristic, error)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// Services discovers all primary services.
	Services() ([]Service, error)
	// UpdateParams applies link parameters requested by the peer.
	UpdateParams(p central.ConnParams) error
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// ScanOptions are the radio settings of one scan session. Backends apply
// what their host stack exposes and leave the rest to it.
type ScanOptions struct {
	Active   bool
	Interval time.Duration
	Window   time.Duration
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertisements to cb until ctx is cancelled.
	Scan(ctx context.Context, opts ScanOptions, cb func(Advertisement)) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, addr string, p central.ConnParams) (Connection, error)
}
