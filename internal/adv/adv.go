// Package adv decodes BLE advertisement reports. A report is a sequence of
// AD structures, each encoded as [length][type][payload...] where length
// counts the type byte plus the payload.
package adv

import (
	"encoding/binary"
	"errors"
	"strings"
)

// AD structure types used by the central.
const (
	TypeFlags            byte = 0x01
	TypeSomeUUID16       byte = 0x02 // incomplete list, more available
	TypeAllUUID16        byte = 0x03 // complete list
	TypeShortName        byte = 0x08
	TypeCompleteName     byte = 0x09
	TypeManufacturerData byte = 0xFF
)

// UUID16Size is the encoded width of one 16-bit service UUID.
const UUID16Size = 2

// ErrNotFound is returned when a report carries no field of the requested
// type, or the report is malformed before such a field is reached.
var ErrNotFound = errors.New("adv: field not found")

// Report is a read-only view of one advertisement payload. It does not own
// its bytes; callers must not retain it past the event that delivered it.
type Report []byte

// Field returns the payload of the first AD structure of the given type.
// A structure whose declared length runs past the end of the report, or
// a zero-length structure, terminates the walk with ErrNotFound.
func (r Report) Field(typ byte) ([]byte, error) {
	b := []byte(r)
	for len(b) > 0 {
		l := int(b[0])
		if l == 0 || len(b) < 1+l {
			return nil, ErrNotFound
		}
		if b[1] == typ {
			return b[2 : 1+l], nil
		}
		b = b[1+l:]
	}
	return nil, ErrNotFound
}

// ServiceUUIDs16 returns the 16-bit service UUIDs listed in the report.
// The "more available" list is preferred; the complete list is the fallback,
// since a peripheral declares its UUIDs through only one of the two.
func (r Report) ServiceUUIDs16() ([]uint16, error) {
	b, err := r.Field(TypeSomeUUID16)
	if err != nil {
		b, err = r.Field(TypeAllUUID16)
	}
	if err != nil {
		return nil, err
	}
	uuids := make([]uint16, 0, len(b)/UUID16Size)
	for len(b) >= UUID16Size {
		uuids = append(uuids, binary.LittleEndian.Uint16(b))
		b = b[UUID16Size:]
	}
	return uuids, nil
}

// HasServiceUUID16 reports whether u is among the report's service UUIDs.
func (r Report) HasServiceUUID16(u uint16) bool {
	uuids, err := r.ServiceUUIDs16()
	if err != nil {
		return false
	}
	for _, v := range uuids {
		if v == u {
			return true
		}
	}
	return false
}

// LocalName returns the shortened or complete local name, if any.
func (r Report) LocalName() string {
	if b, err := r.Field(TypeShortName); err == nil {
		return string(b)
	}
	if b, err := r.Field(TypeCompleteName); err == nil {
		return string(b)
	}
	return ""
}

// Printable renders the raw report for logs, replacing bytes outside the
// printable ASCII range with '_'.
func (r Report) Printable() string {
	var sb strings.Builder
	sb.Grow(len(r))
	for _, c := range r {
		if c < ' ' || c > '~' {
			sb.WriteByte('_')
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// AppendField appends one AD structure to b.
func AppendField(b []byte, typ byte, payload []byte) []byte {
	b = append(b, byte(len(payload)+1), typ)
	return append(b, payload...)
}

// AppendUUIDs16 appends a complete 16-bit service UUID list to b.
func AppendUUIDs16(b []byte, uuids ...uint16) []byte {
	payload := make([]byte, 0, len(uuids)*UUID16Size)
	for _, u := range uuids {
		payload = binary.LittleEndian.AppendUint16(payload, u)
	}
	return AppendField(b, TypeAllUUID16, payload)
}
