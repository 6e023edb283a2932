package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/basestation/internal/adv"
	"github.com/chaz8081/basestation/internal/central"
)

// TinyGoAdapter wraps tinygo-org/bluetooth. On hosts where the stack does
// not expose raw advertising data, the payload handed to the central is
// rebuilt from the local name and the watched 16-bit service UUIDs.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// ServiceUUIDs lists the 16-bit service UUIDs checked when rebuilding a payload.
	ServiceUUIDs []uint16

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by device address
}

// NewTinyGoAdapter creates an adapter on the default host controller.
func NewTinyGoAdapter(services ...uint16) *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:      bluetooth.DefaultAdapter,
		ServiceUUIDs: services,
		connections:  make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// The adapter-level handler is the only place link loss is reported.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		delete(a.connections, addr)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})
	return nil
}

// Scan runs one discovery session. The host stack picks the scan type,
// interval and window itself; opts are only logged.
func (a *TinyGoAdapter) Scan(ctx context.Context, opts ScanOptions, cb func(Advertisement)) error {
	slog.Debug("[BLE] scanning with host stack timing",
		"active", opts.Active, "interval", opts.Interval, "window", opts.Window)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		cb(Advertisement{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    int8(result.RSSI),
			Payload: a.payload(result),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) payload(result bluetooth.ScanResult) []byte {
	if raw := result.Bytes(); raw != nil {
		return append([]byte(nil), raw...)
	}
	var b []byte
	var uuids []uint16
	for _, u := range a.ServiceUUIDs {
		if result.HasServiceUUID(bluetooth.New16BitUUID(u)) {
			uuids = append(uuids, u)
		}
	}
	if len(uuids) > 0 {
		b = adv.AppendUUIDs16(b, uuids...)
	}
	if name := result.LocalName(); name != "" {
		b = adv.AppendField(b, adv.TypeCompleteName, []byte(name))
	}
	return b
}

func (a *TinyGoAdapter) Connect(ctx context.Context, addr string, p central.ConnParams) (Connection, error) {
	var address bluetooth.Address
	address.Set(addr)

	if p.SlaveLatency != 0 {
		slog.Debug("[BLE] slave latency left to the host stack", "latency", p.SlaveLatency)
	}
	params := bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(p.ConnectTimeout),
		MinInterval:       bluetooth.NewDuration(p.MinInterval),
		MaxInterval:       bluetooth.NewDuration(p.MaxInterval),
		Timeout:           bluetooth.NewDuration(p.SupervisionTimeout),
	}

	// tinygo/bluetooth's Connect blocks with its own timeout; ctx only
	// bounds how long we wait for it.
	results := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(address, params)
		if err != nil {
			results <- connectResult{err: err}
			return
		}
		conn := &tinyGoConnection{device: &device}
		a.mu.Lock()
		a.connections[device.Address.String()] = conn
		a.mu.Unlock()
		results <- connectResult{conn: conn}
	}()

	select {
	case <-ctx.Done():
		go discardLateConnect(addr, results)
		return nil, fmt.Errorf("ble: connect to %s: %w", addr, ctx.Err())
	case result := <-results:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", addr, result.err)
		}
		return result.conn, nil
	}
}

type connectResult struct {
	conn Connection
	err  error
}

// discardLateConnect waits for an abandoned connection attempt and
// disconnects the link if it completes after all.
func discardLateConnect(addr string, results <-chan connectResult) {
	result := <-results
	if result.err != nil {
		return
	}
	slog.Warn("[BLE] connection completed after timeout, disconnecting", "addr", addr)
	if err := result.conn.Disconnect(); err != nil {
		slog.Warn("[BLE] disconnect of late connection failed", "addr", addr, "error", err)
	}
}

var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
	dropped      bool
}

func (c *tinyGoConnection) Services() ([]Service, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	out := make([]Service, 0, len(svcs))
	for i := range svcs {
		out = append(out, &tinyGoService{svc: &svcs[i]})
	}
	return out, nil
}

// UpdateParams accepts the peer's request; the host stack negotiates the
// parameters itself.
func (c *tinyGoConnection) UpdateParams(p central.ConnParams) error {
	slog.Debug("[BLE] connection parameters accepted", "min", p.MinInterval, "max", p.MaxInterval)
	return nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

// OnDisconnect sets the link-loss callback. A loss reported before the
// callback was set is delivered to it immediately.
func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	dropped := c.dropped
	c.mu.Unlock()
	if dropped && cb != nil {
		cb()
	}
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	c.dropped = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoService struct {
	svc *bluetooth.DeviceService
}

func (s *tinyGoService) UUID() uuid.UUID {
	return toUUID(s.svc.UUID())
}

func (s *tinyGoService) Characteristics() ([]Characteristic, error) {
	chars, err := s.svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &tinyGoCharacteristic{char: &chars[i]})
	}
	return out, nil
}

type tinyGoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) UUID() uuid.UUID {
	return toUUID(c.char.UUID())
}

func (c *tinyGoCharacteristic) Read(p []byte) (int, error) {
	return c.char.Read(p)
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}

func toUUID(u bluetooth.UUID) uuid.UUID {
	parsed, err := uuid.Parse(u.String())
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
