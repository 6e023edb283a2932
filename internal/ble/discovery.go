package ble

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/chaz8081/basestation/internal/central"
)

// RegisterVendorBase adds a 128-bit base UUID that discovered UUIDs are
// classified against. Each base gets its own UUIDType.
func (s *Stack) RegisterVendorBase(base uuid.UUID) (central.UUIDType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.bases {
		if b == base {
			return central.UUIDTypeVendorBegin + central.UUIDType(i), nil
		}
	}
	s.bases = append(s.bases, base)
	return central.UUIDTypeVendorBegin + central.UUIDType(len(s.bases)-1), nil
}

// StartDiscovery discovers every service on conn and posts one
// central.DiscoveryComplete per service. Attribute handles are assigned in
// discovery order: each service takes a declaration handle, each
// characteristic a declaration, a value and a CCCD handle.
func (s *Stack) StartDiscovery(conn central.ConnHandle) error {
	l, err := s.link(conn)
	if err != nil {
		return err
	}
	go s.discover(conn, l)
	return nil
}

func (s *Stack) discover(conn central.ConnHandle, l *link) {
	svcs, err := l.conn.Services()
	if err != nil {
		s.abortDiscovery(conn, l, err)
		return
	}

	values := make(map[central.AttHandle]Characteristic)
	cccds := make(map[central.AttHandle]central.AttHandle)
	results := make([]central.DiscoveryComplete, 0, len(svcs))

	next := central.AttHandle(1)
	for _, svc := range svcs {
		next++ // service declaration
		short, typ := s.classify(svc.UUID())
		res := central.DiscoveryComplete{Conn: conn, Service: short, UUIDType: typ}

		chars, err := svc.Characteristics()
		if err != nil {
			s.abortDiscovery(conn, l, err)
			return
		}
		for _, ch := range chars {
			decl := next
			value, cccd := decl+1, decl+2
			next = decl + 3

			values[value] = ch
			cccds[cccd] = value
			cshort, ctyp := s.classify(ch.UUID())
			res.Characteristics = append(res.Characteristics, central.DiscoveredChar{
				UUID:     cshort,
				UUIDType: ctyp,
				Value:    value,
				CCCD:     cccd,
				HasCCCD:  true,
			})
		}
		results = append(results, res)
		slog.Debug("[DISC] service", "conn", conn, "uuid", svc.UUID(), "chars", len(chars))
	}

	s.mu.Lock()
	l.values = values
	l.cccds = cccds
	s.mu.Unlock()

	for _, res := range results {
		s.post(res)
	}
}

func (s *Stack) abortDiscovery(conn central.ConnHandle, l *link, err error) {
	slog.Warn("[DISC] discovery failed, dropping link", "conn", conn, "error", err)
	if err := l.conn.Disconnect(); err != nil {
		slog.Warn("[DISC] disconnect failed", "conn", conn, "error", err)
	}
	s.dropLink(conn, ReasonDiscoveryAbort)
}

// classify returns the 16-bit alias of u and the base it lies under.
// UUIDs outside every known base are UUIDTypeUnknown.
func (s *Stack) classify(u uuid.UUID) (uint16, central.UUIDType) {
	s.mu.Lock()
	bases := s.bases
	s.mu.Unlock()

	for i, base := range bases {
		if short, ok := central.Alias(base, u); ok {
			return short, central.UUIDTypeVendorBegin + central.UUIDType(i)
		}
	}
	if short, ok := central.Alias(central.BluetoothBase, u); ok {
		return short, central.UUIDTypeBLE
	}
	return 0, central.UUIDTypeUnknown
}
