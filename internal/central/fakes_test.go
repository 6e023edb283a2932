package central

import (
	"testing"

	"github.com/google/uuid"
)

const testPeer Address = "AA:BB:CC:DD:EE:FF"

type readReq struct {
	conn   ConnHandle
	handle AttHandle
	offset uint16
}

// fakeRadio records every request and returns the configured errors.
type fakeRadio struct {
	scans        []ScanParams
	stops        int
	connects     []Address
	disconnects  []ConnHandle
	reads        []readReq
	notifies     []AttHandle
	paramUpdates []ConnHandle

	startErr      error
	stopErr       error
	connectErr    error
	disconnectErr error
	readErr       error
	updateErr     error
}

func (r *fakeRadio) StartScan(p ScanParams) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.scans = append(r.scans, p)
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.stops++
	return r.stopErr
}

func (r *fakeRadio) Connect(peer Address, _ ConnParams) error {
	if r.connectErr != nil {
		return r.connectErr
	}
	r.connects = append(r.connects, peer)
	return nil
}

func (r *fakeRadio) Disconnect(conn ConnHandle) error {
	r.disconnects = append(r.disconnects, conn)
	return r.disconnectErr
}

func (r *fakeRadio) Read(conn ConnHandle, handle AttHandle, offset uint16) error {
	if r.readErr != nil {
		return r.readErr
	}
	r.reads = append(r.reads, readReq{conn, handle, offset})
	return nil
}

func (r *fakeRadio) EnableNotifications(_ ConnHandle, cccd AttHandle) error {
	r.notifies = append(r.notifies, cccd)
	return nil
}

func (r *fakeRadio) UpdateConnParams(conn ConnHandle, _ ConnParams) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.paramUpdates = append(r.paramUpdates, conn)
	return nil
}

type fakeSecurity struct {
	requests []ConnHandle
	err      error
}

func (s *fakeSecurity) RequestSecurity(conn ConnHandle) error {
	s.requests = append(s.requests, conn)
	return s.err
}

// fakeDiscoverer records discovery starts and, through its radio hook,
// what the central's connection state was when each radio event reached it.
type fakeDiscoverer struct {
	base    uuid.UUID
	started []ConnHandle

	central  *Central
	hookSeen []bool // Connection() ok at hook time
}

func (d *fakeDiscoverer) RegisterVendorBase(base uuid.UUID) (UUIDType, error) {
	d.base = base
	return UUIDTypeVendorBegin, nil
}

func (d *fakeDiscoverer) StartDiscovery(conn ConnHandle) error {
	d.started = append(d.started, conn)
	return nil
}

func (d *fakeDiscoverer) HandleRadioEvent(RadioEvent) {
	if d.central == nil {
		return
	}
	_, ok := d.central.Connection()
	d.hookSeen = append(d.hookSeen, ok)
}

type fakeBonds struct {
	whitelist  []Address
	pending    int
	pendingErr error
	events     int
}

func (b *fakeBonds) Whitelist() ([]Address, error) { return b.whitelist, nil }

func (b *fakeBonds) Pending() (int, error) { return b.pending, b.pendingErr }

func (b *fakeBonds) HandleStorageEvent(StorageEvent) { b.events++ }

type fakeIndicator struct {
	signals map[Signal]int
}

func (i *fakeIndicator) Signal(s Signal) {
	if i.signals == nil {
		i.signals = make(map[Signal]int)
	}
	i.signals[s]++
}

type harness struct {
	c     *Central
	radio *fakeRadio
	sec   *fakeSecurity
	disc  *fakeDiscoverer
	bonds *fakeBonds
	ind   *fakeIndicator
}

func newHarness(t *testing.T, modify func(*Options)) *harness {
	t.Helper()
	opts := DefaultOptions()
	if modify != nil {
		modify(&opts)
	}
	h := &harness{
		radio: &fakeRadio{},
		sec:   &fakeSecurity{},
		disc:  &fakeDiscoverer{},
		bonds: &fakeBonds{},
		ind:   &fakeIndicator{},
	}
	c, err := New(opts, Deps{
		Radio:      h.radio,
		Security:   h.sec,
		Discoverer: h.disc,
		Bonds:      h.bonds,
		Indicator:  h.ind,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.c = c
	return h
}

func (h *harness) dispatch(t *testing.T, ev Event) {
	t.Helper()
	if err := h.c.Dispatch(ev); err != nil {
		t.Fatalf("Dispatch(%T) error = %v", ev, err)
	}
}

// establish drives a connection up to discovered target characteristics.
func (h *harness) establish(t *testing.T, conn ConnHandle) {
	t.Helper()
	h.dispatch(t, Connected{Conn: conn, Peer: testPeer})
	h.dispatch(t, LinkSecured{Conn: conn})
	h.dispatch(t, matchingDiscovery(conn))
}

const (
	readValueHandle  AttHandle = 0x000E
	readCCCDHandle   AttHandle = 0x000F
	writeValueHandle AttHandle = 0x0011
	writeCCCDHandle  AttHandle = 0x0012
)

func matchingDiscovery(conn ConnHandle) DiscoveryComplete {
	return DiscoveryComplete{
		Conn:     conn,
		Service:  0x152C,
		UUIDType: UUIDTypeVendorBegin,
		Characteristics: []DiscoveredChar{
			{UUID: 0x3907, UUIDType: UUIDTypeVendorBegin, Value: readValueHandle, CCCD: readCCCDHandle, HasCCCD: true},
			{UUID: 0x3909, UUIDType: UUIDTypeVendorBegin, Value: writeValueHandle, CCCD: writeCCCDHandle, HasCCCD: true},
			{UUID: 0x2A00, UUIDType: UUIDTypeBLE, Value: 0x0003},
		},
	}
}
