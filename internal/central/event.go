package central

import "time"

// Event is anything delivered to Central.Dispatch. The concrete types form
// a closed set: radio events, StorageEvent, DiscoveryComplete, Tick and
// WhitelistBypass.
type Event interface {
	event()
}

// RadioEvent is an event raised by the radio/link stack.
type RadioEvent interface {
	Event
	radioEvent()
}

type radio struct{}

func (radio) event()      {}
func (radio) radioEvent() {}

// TimeoutSource tells which procedure a Timeout event ended.
type TimeoutSource int

const (
	TimeoutScan TimeoutSource = iota
	TimeoutConn
)

func (s TimeoutSource) String() string {
	if s == TimeoutConn {
		return "conn"
	}
	return "scan"
}

// ContextOp is the device-context operation reported by DeviceContext.
type ContextOp int

const (
	ContextLoaded ContextOp = iota
	ContextStored
	ContextDeleted
)

func (op ContextOp) String() string {
	switch op {
	case ContextStored:
		return "stored"
	case ContextDeleted:
		return "deleted"
	default:
		return "loaded"
	}
}

type (
	// Connected reports a new link. The stack stops scanning implicitly.
	Connected struct {
		radio
		Conn ConnHandle
		Peer Address
	}

	// Disconnected reports a link loss.
	Disconnected struct {
		radio
		Conn   ConnHandle
		Reason uint8
	}

	// AdvertisementReport carries one advertisement. Data is only valid
	// during dispatch.
	AdvertisementReport struct {
		radio
		Peer Address
		RSSI int8
		Data []byte
	}

	// Timeout reports the end of a scan or connection attempt.
	Timeout struct {
		radio
		Source TimeoutSource
	}

	// ConnParamUpdateRequest is a peer asking for new link parameters.
	ConnParamUpdateRequest struct {
		radio
		Conn   ConnHandle
		Params ConnParams
	}

	// ReadResponse completes a Radio.Read. Err is set when the read failed.
	ReadResponse struct {
		radio
		Conn   ConnHandle
		Handle AttHandle
		Offset uint16
		Data   []byte
		Err    error
	}

	// Notification is a handle value notification from the peer.
	Notification struct {
		radio
		Conn   ConnHandle
		Handle AttHandle
		Data   []byte
	}

	// SecurityRequested is the peer demanding a (new) security procedure.
	SecurityRequested struct {
		radio
		Conn ConnHandle
	}

	// LinkSecured reports that the link is encrypted.
	LinkSecured struct {
		radio
		Conn ConnHandle
	}

	// DeviceContext reports completion of a bond context operation.
	DeviceContext struct {
		radio
		Conn ConnHandle
		Op   ContextOp
		Err  error
	}
)

// StorageEvent reports completion of a bond storage operation.
type StorageEvent struct {
	Err error
}

func (StorageEvent) event() {}

// DiscoveredChar is one characteristic found during service discovery.
type DiscoveredChar struct {
	UUID     uint16
	UUIDType UUIDType
	Value    AttHandle
	CCCD     AttHandle
	HasCCCD  bool
}

// DiscoveryComplete reports the characteristics of one discovered service.
type DiscoveryComplete struct {
	Conn            ConnHandle
	Service         uint16
	UUIDType        UUIDType
	Characteristics []DiscoveredChar
}

func (DiscoveryComplete) event() {}

// Tick is the periodic timer event that drives polling.
type Tick struct {
	At time.Time
}

func (Tick) event() {}

// WhitelistBypass asks the central to restart scanning without the whitelist.
type WhitelistBypass struct{}

func (WhitelistBypass) event() {}
