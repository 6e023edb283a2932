package ble

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chaz8081/basestation/internal/bond"
	"github.com/chaz8081/basestation/internal/bond/crypto"
	"github.com/chaz8081/basestation/internal/central"
)

// IO capabilities accepted in SecurityParams.IOCaps.
const (
	IOCapsNone         = "none"
	IOCapsDisplayOnly  = "display"
	IOCapsKeyboardOnly = "keyboard"
)

// SecurityParams are the pairing parameters of the base station.
type SecurityParams struct {
	Bond       bool
	MITM       bool
	IOCaps     string
	MinKeySize int
	MaxKeySize int
}

// DefaultSecurityParams bonds with MITM requested and no IO capabilities,
// which the peer resolves to an unauthenticated pairing.
func DefaultSecurityParams() SecurityParams {
	return SecurityParams{
		Bond:       true,
		MITM:       true,
		IOCaps:     IOCapsNone,
		MinKeySize: 7,
		MaxKeySize: 16,
	}
}

// Authenticated reports whether pairing with these parameters can give
// MITM protection.
func (p SecurityParams) Authenticated() bool {
	return p.MITM && p.IOCaps != IOCapsNone
}

// RequestSecurity secures a link. The host stack encrypts the link itself;
// the Stack records the bond and reports the outcome as events: a
// DeviceContext for a newly stored bond, then LinkSecured.
func (s *Stack) RequestSecurity(conn central.ConnHandle) error {
	l, err := s.link(conn)
	if err != nil {
		return err
	}
	go func() {
		if s.security.Bond && s.bonds != nil {
			if _, ok := s.bonds.Lookup(l.addr); !ok {
				rec, err := s.newBond(l.addr)
				if err != nil {
					s.post(central.DeviceContext{Conn: conn, Op: central.ContextStored, Err: err})
					return
				}
				s.bonds.Save(rec)
				slog.Info("[BOND] bonded", "peer", l.addr, "key_size", rec.KeySize, "mitm", rec.MITM)
				s.post(central.DeviceContext{Conn: conn, Op: central.ContextStored})
			}
		}
		s.post(central.LinkSecured{Conn: conn})
	}()
	return nil
}

func (s *Stack) newBond(addr string) (bond.Record, error) {
	ltk, err := crypto.NewLTK(s.security.MaxKeySize)
	if err != nil {
		return bond.Record{}, fmt.Errorf("ble: bond %s: %w", addr, err)
	}
	return bond.Record{
		Address: normalize(addr),
		KeySize: s.security.MaxKeySize,
		MITM:    s.security.Authenticated(),
		LTK:     ltk,
		Created: time.Now(),
	}, nil
}

func normalize(addr string) string {
	return strings.ToUpper(addr)
}
