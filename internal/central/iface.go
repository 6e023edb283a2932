package central

import (
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidState is returned by collaborators when a request finds them
// already in the requested state (scan stop while idle, scan start while
// scanning, a second connection attempt). The central tolerates it.
var ErrInvalidState = errors.New("central: invalid state")

// ErrFatal wraps every error that ends Central.Run.
var ErrFatal = errors.New("central: fatal")

// Radio is the link-layer stack. Every call returns once the request is
// submitted; results arrive later as events.
type Radio interface {
	StartScan(p ScanParams) error
	StopScan() error
	Connect(peer Address, p ConnParams) error
	Disconnect(conn ConnHandle) error
	Read(conn ConnHandle, handle AttHandle, offset uint16) error
	EnableNotifications(conn ConnHandle, cccd AttHandle) error
	UpdateConnParams(conn ConnHandle, p ConnParams) error
}

// Security starts the bonding/encryption procedure on a link. Completion
// is reported with LinkSecured.
type Security interface {
	RequestSecurity(conn ConnHandle) error
}

// Discoverer runs GATT service discovery and reports DiscoveryComplete.
type Discoverer interface {
	RegisterVendorBase(base uuid.UUID) (UUIDType, error)
	StartDiscovery(conn ConnHandle) error
}

// BondStore is the persistent bond storage. Pending reports how many
// writes are still in flight; each completes with a StorageEvent.
type BondStore interface {
	Whitelist() ([]Address, error)
	Pending() (int, error)
}

// Indicator receives fire-and-forget status signals.
type Indicator interface {
	Signal(s Signal)
}

// RadioEventHandler may be implemented by a Discoverer that needs to see
// radio events before the central handles them.
type RadioEventHandler interface {
	HandleRadioEvent(ev RadioEvent)
}

// StorageEventHandler may be implemented by a BondStore that needs to see
// storage completions before the central handles them.
type StorageEventHandler interface {
	HandleStorageEvent(ev StorageEvent)
}

type nopIndicator struct{}

func (nopIndicator) Signal(Signal) {}
