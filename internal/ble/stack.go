package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/basestation/internal/bond"
	"github.com/chaz8081/basestation/internal/central"
)

// ErrBusy is returned by Read while a read on the same link is in flight.
var ErrBusy = errors.New("ble: read already in progress")

// Disconnect reasons reported in central.Disconnected, as HCI error codes.
const (
	ReasonRemoteUser     uint8 = 0x13
	ReasonLocalHost      uint8 = 0x16
	ReasonDiscoveryAbort uint8 = 0x3B
)

const defaultConnectTimeout = 4 * time.Second

// Bonds is the part of the bond store the stack uses to recognize and
// record bonded peers.
type Bonds interface {
	Lookup(addr string) (bond.Record, bool)
	Save(r bond.Record)
}

// Stack adapts an Adapter to the central's Radio, Security and Discoverer
// interfaces. Requests return immediately; results are posted to the event
// channel from background goroutines, never from the calling goroutine.
type Stack struct {
	adapter  Adapter
	events   chan<- central.Event
	done     <-chan struct{}
	bonds    Bonds
	security SecurityParams

	mu         sync.Mutex
	scanCancel context.CancelFunc
	scanTimer  *time.Timer
	scanID     uint64
	connecting bool
	lastConn   central.ConnHandle
	links      map[central.ConnHandle]*link
	bases      []uuid.UUID
}

// link is one live connection and its discovered attribute table.
type link struct {
	conn    Connection
	addr    string
	values  map[central.AttHandle]Characteristic
	cccds   map[central.AttHandle]central.AttHandle // cccd -> value handle
	reading bool

	// announced is closed once Connected has been posted for this link.
	announced chan struct{}
}

// NewStack creates a Stack posting to events until done is closed.
func NewStack(adapter Adapter, events chan<- central.Event, done <-chan struct{}, bonds Bonds, sec SecurityParams) *Stack {
	return &Stack{
		adapter:  adapter,
		events:   events,
		done:     done,
		bonds:    bonds,
		security: sec,
		links:    make(map[central.ConnHandle]*link),
	}
}

var (
	_ central.Radio      = (*Stack)(nil)
	_ central.Security   = (*Stack)(nil)
	_ central.Discoverer = (*Stack)(nil)
)

func (s *Stack) post(ev central.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// StartScan starts a scan session. A selective session only reports
// advertisers on the whitelist; a non-zero Timeout ends the session with
// a central.Timeout event.
func (s *Stack) StartScan(p central.ScanParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanCancel != nil {
		return central.ErrInvalidState
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	s.scanID++
	id := s.scanID

	var allowed map[string]bool
	if p.Selective {
		allowed = make(map[string]bool, len(p.Whitelist))
		for _, a := range p.Whitelist {
			allowed[normalize(string(a))] = true
		}
	}
	if p.Timeout > 0 {
		s.scanTimer = time.AfterFunc(p.Timeout, func() {
			if s.endScan(id) {
				s.post(central.Timeout{Source: central.TimeoutScan})
			}
		})
	}

	go func() {
		opts := ScanOptions{Active: p.Active, Interval: p.Interval, Window: p.Window}
		err := s.adapter.Scan(ctx, opts, func(a Advertisement) {
			if ctx.Err() != nil {
				return
			}
			if allowed != nil && !allowed[normalize(a.Address)] {
				return
			}
			s.post(central.AdvertisementReport{
				Peer: central.Address(a.Address),
				RSSI: a.RSSI,
				Data: a.Payload,
			})
		})
		if ctx.Err() != nil {
			return
		}
		// The adapter ended the session on its own; report it like a
		// timeout so the central starts a new one.
		if err != nil {
			slog.Warn("[BLE] scan ended with error", "error", err)
		} else {
			slog.Info("[BLE] scan ended by the host stack")
		}
		if s.endScan(id) {
			s.post(central.Timeout{Source: central.TimeoutScan})
		}
	}()
	return nil
}

// StopScan ends the running scan session.
func (s *Stack) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanCancel == nil {
		return central.ErrInvalidState
	}
	s.stopScanLocked()
	return nil
}

// endScan stops session id if it is still the running one.
func (s *Stack) endScan(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanCancel == nil || s.scanID != id {
		return false
	}
	s.stopScanLocked()
	return true
}

func (s *Stack) stopScanLocked() {
	s.scanCancel()
	s.scanCancel = nil
	if s.scanTimer != nil {
		s.scanTimer.Stop()
		s.scanTimer = nil
	}
}

// Connect starts a connection attempt. Success posts central.Connected;
// failure or timeout posts central.Timeout with TimeoutConn.
func (s *Stack) Connect(peer central.Address, p central.ConnParams) error {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		return central.ErrInvalidState
	}
	s.connecting = true
	s.mu.Unlock()

	timeout := p.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		conn, err := s.adapter.Connect(ctx, string(peer), p)

		s.mu.Lock()
		s.connecting = false
		if err != nil {
			s.mu.Unlock()
			slog.Warn("[BLE] connection attempt failed", "peer", peer, "error", err)
			s.post(central.Timeout{Source: central.TimeoutConn})
			return
		}
		s.lastConn++
		h := s.lastConn
		l := &link{conn: conn, addr: string(peer), announced: make(chan struct{})}
		s.links[h] = l
		s.mu.Unlock()

		conn.OnDisconnect(func() { go s.dropLink(h, ReasonRemoteUser) })
		s.post(central.Connected{Conn: h, Peer: peer})
		close(l.announced)

		if s.bonds != nil {
			if _, ok := s.bonds.Lookup(string(peer)); ok {
				s.post(central.DeviceContext{Conn: h, Op: central.ContextLoaded})
			}
		}
	}()
	return nil
}

// Disconnect terminates a link. The central.Disconnected event is posted
// once, whether or not the adapter also reports the loss.
func (s *Stack) Disconnect(conn central.ConnHandle) error {
	l, err := s.link(conn)
	if err != nil {
		return err
	}
	if err := l.conn.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect %d: %w", conn, err)
	}
	go s.dropLink(conn, ReasonLocalHost)
	return nil
}

// dropLink forgets a link and posts its Disconnected, never ahead of the
// link's Connected.
func (s *Stack) dropLink(conn central.ConnHandle, reason uint8) {
	s.mu.Lock()
	l, ok := s.links[conn]
	delete(s.links, conn)
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-l.announced:
	case <-s.done:
		return
	}
	s.post(central.Disconnected{Conn: conn, Reason: reason})
}

// Read reads the attribute at handle and posts a central.ReadResponse.
// Only one read per link may be in flight.
func (s *Stack) Read(conn central.ConnHandle, handle central.AttHandle, offset uint16) error {
	s.mu.Lock()
	l, ok := s.links[conn]
	if !ok {
		s.mu.Unlock()
		return central.ErrInvalidState
	}
	ch, ok := l.values[handle]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("ble: no attribute at handle 0x%04x", handle)
	}
	if l.reading {
		s.mu.Unlock()
		return ErrBusy
	}
	l.reading = true
	s.mu.Unlock()

	go func() {
		buf := make([]byte, 512)
		n, err := ch.Read(buf)

		s.mu.Lock()
		l.reading = false
		s.mu.Unlock()

		ev := central.ReadResponse{Conn: conn, Handle: handle, Offset: offset, Err: err}
		if err == nil {
			data := buf[:n]
			if int(offset) > len(data) {
				data = nil
			} else {
				data = data[offset:]
			}
			ev.Data = data
		}
		s.post(ev)
	}()
	return nil
}

// EnableNotifications subscribes to the characteristic owning cccd. Each
// notification is posted as a central.Notification on its value handle.
func (s *Stack) EnableNotifications(conn central.ConnHandle, cccd central.AttHandle) error {
	s.mu.Lock()
	l, ok := s.links[conn]
	if !ok {
		s.mu.Unlock()
		return central.ErrInvalidState
	}
	value, ok := l.cccds[cccd]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("ble: no descriptor at handle 0x%04x", cccd)
	}
	ch := l.values[value]
	s.mu.Unlock()

	return ch.Subscribe(func(data []byte) {
		s.post(central.Notification{
			Conn:   conn,
			Handle: value,
			Data:   append([]byte(nil), data...),
		})
	})
}

// UpdateConnParams accepts a peer's parameter update request.
func (s *Stack) UpdateConnParams(conn central.ConnHandle, p central.ConnParams) error {
	l, err := s.link(conn)
	if err != nil {
		return err
	}
	if err := l.conn.UpdateParams(p); err != nil {
		return fmt.Errorf("ble: update params on %d: %w", conn, err)
	}
	return nil
}

func (s *Stack) link(conn central.ConnHandle) (*link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[conn]
	if !ok {
		return nil, central.ErrInvalidState
	}
	return l, nil
}
