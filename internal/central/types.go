package central

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Address identifies a peripheral. On Linux it is a MAC address, on macOS
// a CoreBluetooth peripheral UUID.
type Address string

// ConnHandle identifies one link as assigned by the radio stack.
type ConnHandle uint16

// AttHandle is a GATT attribute handle. Zero is never a valid handle.
type AttHandle uint16

// ScanMode selects whether scanning may be restricted to bonded peers.
type ScanMode int

const (
	NoScan ScanMode = iota
	WhitelistScan
	FastScan
)

func (m ScanMode) String() string {
	switch m {
	case NoScan:
		return "none"
	case WhitelistScan:
		return "whitelist"
	case FastScan:
		return "fast"
	default:
		return fmt.Sprintf("ScanMode(%d)", int(m))
	}
}

// ParseScanMode converts a config string into a ScanMode.
func ParseScanMode(s string) (ScanMode, error) {
	switch s {
	case "none":
		return NoScan, nil
	case "whitelist":
		return WhitelistScan, nil
	case "fast":
		return FastScan, nil
	default:
		return 0, fmt.Errorf("central: unknown scan mode %q", s)
	}
}

// ScanParams describes one scan session. It is rebuilt on every scan start.
type ScanParams struct {
	Active    bool
	Selective bool // only report advertisers on Whitelist
	Interval  time.Duration
	Window    time.Duration
	Timeout   time.Duration // zero scans until stopped
	Whitelist []Address
}

// ConnParams are the link parameters requested when connecting.
type ConnParams struct {
	MinInterval        time.Duration
	MaxInterval        time.Duration
	SlaveLatency       uint16
	SupervisionTimeout time.Duration
	ConnectTimeout     time.Duration
}

// UUIDType classifies a 16-bit UUID alias by the 128-bit base it expands to.
// Values at or above UUIDTypeVendorBegin are handed out by
// Discoverer.RegisterVendorBase.
type UUIDType uint8

const (
	UUIDTypeUnknown UUIDType = iota
	UUIDTypeBLE
	UUIDTypeVendorBegin
)

// CharID names a characteristic the central tracks on the target service.
type CharID int

const (
	CharRead CharID = iota
	CharWrite
)

func (id CharID) String() string {
	switch id {
	case CharRead:
		return "read"
	case CharWrite:
		return "write"
	default:
		return fmt.Sprintf("CharID(%d)", int(id))
	}
}

// CharHandles are the cached handles of one discovered characteristic.
type CharHandles struct {
	Value   AttHandle
	CCCD    AttHandle
	HasCCCD bool
}

// LinkState is the security state of the tracked connection.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnected
	LinkSecuritySetup
	LinkStateSecured
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnected:
		return "connected"
	case LinkSecuritySetup:
		return "security-setup"
	case LinkStateSecured:
		return "secured"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// ValueSize is the size of the polled characteristic value.
const ValueSize = 4

// Value is the last value read from the polled characteristic.
type Value [ValueSize]byte

// Uint32 decodes the value as a little-endian integer.
func (v Value) Uint32() uint32 {
	return binary.LittleEndian.Uint32(v[:])
}

// Signal is a status indication for an external indicator (LEDs, logs).
type Signal int

const (
	SignalScanning Signal = iota
	SignalAdvertisement
	SignalSession
	SignalPoll
	SignalFault
)

func (s Signal) String() string {
	switch s {
	case SignalScanning:
		return "scanning"
	case SignalAdvertisement:
		return "advertisement"
	case SignalSession:
		return "session"
	case SignalPoll:
		return "poll"
	case SignalFault:
		return "fault"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}
