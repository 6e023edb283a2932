// Package central implements the BLE central state machine of the base
// station: it scans for a peripheral advertising the target service,
// connects, secures the link, discovers the target characteristics and
// polls one of them on every timer tick.
//
// All state lives in a Central and is touched only from the goroutine that
// calls Dispatch (normally Run). Collaborators never call back into the
// central directly; they post events to the channel Run consumes, so every
// event is handled to completion before the next one is looked at.
//
// Within one radio event the handlers run in a fixed order: the connection
// manager first, then the discovery collaborator, then advertisement,
// timeout, parameter update and read handling.
package central

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"
)

// advertiserCacheSize bounds the set of advertisers remembered for logging.
const advertiserCacheSize = 64

// Options configures a Central.
type Options struct {
	Mode             ScanMode
	Active           bool
	Interval         time.Duration
	Window           time.Duration
	WhitelistTimeout time.Duration
	Conn             ConnParams

	BaseUUID  uuid.UUID
	Service   uint16
	ReadChar  uint16
	WriteChar uint16
	MaxPeers  int

	// Subscribe enables notifications on the read characteristic in
	// addition to polling it.
	Subscribe bool

	// OnValue, if set, is called from the dispatch goroutine after every
	// update of the cached value.
	OnValue func(Value)
}

// DefaultOptions returns the options of the clock base station.
func DefaultOptions() Options {
	return Options{
		Mode:             FastScan,
		Interval:         100 * time.Millisecond,
		Window:           50 * time.Millisecond,
		WhitelistTimeout: 30 * time.Second,
		Conn: ConnParams{
			MinInterval:        7500 * time.Microsecond,
			MaxInterval:        30 * time.Millisecond,
			SupervisionTimeout: 4 * time.Second,
			ConnectTimeout:     4 * time.Second,
		},
		BaseUUID:  uuid.MustParse("00000000-1212-efde-1523-785fef13d123"),
		Service:   0x152C,
		ReadChar:  0x3907,
		WriteChar: 0x3909,
		MaxPeers:  1,
	}
}

// Deps are the collaborators of a Central. Indicator may be nil.
type Deps struct {
	Radio      Radio
	Security   Security
	Discoverer Discoverer
	Bonds      BondStore
	Indicator  Indicator
}

// Central owns the scan, connection, discovery and polling state.
type Central struct {
	opts Options

	radio      Radio
	security   Security
	discoverer Discoverer
	bonds      BondStore
	ind        Indicator

	vendorType UUIDType
	chars      map[uint16]CharID

	scan    scanState
	peers   peerState
	service *discoveredService

	value    Value
	hasValue bool

	seen *lru.Cache
}

// New creates a Central and registers the vendor base UUID with the
// discovery collaborator.
func New(opts Options, deps Deps) (*Central, error) {
	if deps.Radio == nil || deps.Security == nil || deps.Discoverer == nil || deps.Bonds == nil {
		return nil, errors.New("central: radio, security, discoverer and bond store are required")
	}
	if opts.MaxPeers < 1 {
		return nil, fmt.Errorf("central: max peers must be >= 1, got %d", opts.MaxPeers)
	}
	if opts.ReadChar == opts.WriteChar {
		return nil, fmt.Errorf("central: read and write characteristic share UUID 0x%04x", opts.ReadChar)
	}
	if deps.Indicator == nil {
		deps.Indicator = nopIndicator{}
	}

	vt, err := deps.Discoverer.RegisterVendorBase(opts.BaseUUID)
	if err != nil {
		return nil, fmt.Errorf("central: register vendor base: %w", err)
	}

	return &Central{
		opts:       opts,
		radio:      deps.Radio,
		security:   deps.Security,
		discoverer: deps.Discoverer,
		bonds:      deps.Bonds,
		ind:        deps.Indicator,
		vendorType: vt,
		chars: map[uint16]CharID{
			opts.ReadChar:  CharRead,
			opts.WriteChar: CharWrite,
		},
		scan:  scanState{mode: opts.Mode},
		peers: peerState{refused: make(map[ConnHandle]struct{})},
		seen:  lru.New(advertiserCacheSize),
	}, nil
}

// Start begins the first scan session.
func (c *Central) Start() error {
	return c.startScan()
}

// Run starts scanning and then dispatches events until ctx is cancelled,
// the channel is closed, or a handler reports a fatal error, which is
// returned.
func (c *Central) Run(ctx context.Context, events <-chan Event) error {
	if err := c.Start(); err != nil {
		c.ind.Signal(SignalFault)
		return err
	}
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case ev, ok := <-events:
			if !ok {
				c.shutdown()
				return nil
			}
			if err := c.Dispatch(ev); err != nil {
				c.ind.Signal(SignalFault)
				return err
			}
		}
	}
}

func (c *Central) shutdown() {
	if err := c.radio.StopScan(); err != nil && !errors.Is(err, ErrInvalidState) {
		slog.Warn("[SCAN] stop on shutdown failed", "error", err)
	}
	if conn, ok := c.Connection(); ok {
		if err := c.radio.Disconnect(conn); err != nil && !errors.Is(err, ErrInvalidState) {
			slog.Warn("[CONN] disconnect on shutdown failed", "conn", conn, "error", err)
		}
	}
}

// Dispatch handles one event. A non-nil error wraps ErrFatal and means the
// central cannot continue.
func (c *Central) Dispatch(ev Event) error {
	switch ev := ev.(type) {
	case RadioEvent:
		if err := c.onSessionEvent(ev); err != nil {
			return err
		}
		if h, ok := c.discoverer.(RadioEventHandler); ok {
			h.HandleRadioEvent(ev)
		}
		return c.onRadioEvent(ev)
	case StorageEvent:
		if h, ok := c.bonds.(StorageEventHandler); ok {
			h.HandleStorageEvent(ev)
		}
		return c.onStorageEvent(ev)
	case DiscoveryComplete:
		return c.onDiscoveryComplete(ev)
	case Tick:
		c.onTick()
		return nil
	case WhitelistBypass:
		return c.disableWhitelist()
	default:
		slog.Debug("[CENTRAL] ignoring event", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}

// onRadioEvent handles the radio events that are not part of the
// connection/security session.
func (c *Central) onRadioEvent(ev RadioEvent) error {
	switch ev := ev.(type) {
	case AdvertisementReport:
		return c.onAdvertisement(ev)
	case Timeout:
		if ev.Source == TimeoutConn {
			slog.Warn("[CONN] connection attempt timed out, rescanning")
		} else {
			slog.Info("[SCAN] scan timed out, restarting")
		}
		return c.startScan()
	case ConnParamUpdateRequest:
		err := c.radio.UpdateConnParams(ev.Conn, ev.Params)
		if err != nil && !errors.Is(err, ErrInvalidState) {
			return fatal("accept connection parameters", err)
		}
		return nil
	case ReadResponse:
		c.onReadResponse(ev)
	case Notification:
		c.onNotification(ev)
	}
	return nil
}

func (c *Central) onStorageEvent(ev StorageEvent) error {
	if ev.Err != nil {
		slog.Warn("[BOND] storage operation failed", "error", ev.Err)
	}
	if !c.scan.storageBusy {
		return nil
	}
	c.scan.storageBusy = false
	return c.startScan()
}

// Connection returns the tracked connection handle, if connected.
func (c *Central) Connection() (ConnHandle, bool) {
	return c.peers.handle, c.peers.connected
}

// PeerCount returns the number of links currently counted.
func (c *Central) PeerCount() int {
	return c.peers.count
}

// LinkState returns the security state of the tracked connection.
func (c *Central) LinkState() LinkState {
	return c.peers.link
}

// Handles returns the cached handles of a tracked characteristic. They are
// only reported while connected and after the target service matched.
func (c *Central) Handles(id CharID) (CharHandles, bool) {
	if !c.peers.connected || c.service == nil || !c.service.matched {
		return CharHandles{}, false
	}
	h, ok := c.service.chars[id]
	return h, ok
}

// Value returns the last polled value.
func (c *Central) Value() (Value, bool) {
	return c.value, c.hasValue
}

// Session returns the parameters of the last scan request.
func (c *Central) Session() ScanParams {
	return c.scan.session
}

// WhitelistDisabled reports whether the next scan bypasses the whitelist.
func (c *Central) WhitelistDisabled() bool {
	return c.scan.whitelistDisabled
}

// StorageBusy reports whether a scan start is waiting for storage.
func (c *Central) StorageBusy() bool {
	return c.scan.storageBusy
}

func fatal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFatal, op, err)
}
