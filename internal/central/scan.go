package central

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/basestation/internal/adv"
)

type scanState struct {
	mode ScanMode

	// whitelistDisabled forces the next scan onto the open path. It is
	// cleared once such a scan has started.
	whitelistDisabled bool

	// storageBusy records a scan start deferred until storage completes.
	storageBusy bool

	session ScanParams
}

// startScan starts a scan session. While bond storage has writes in
// flight the start is deferred until the next StorageEvent.
func (c *Central) startScan() error {
	pending, err := c.bonds.Pending()
	if err != nil {
		return fatal("storage status", err)
	}
	if pending != 0 {
		slog.Info("[SCAN] storage busy, deferring scan", "pending", pending)
		c.scan.storageBusy = true
		return nil
	}

	whitelist, err := c.bonds.Whitelist()
	if err != nil {
		return fatal("build whitelist", err)
	}

	p := ScanParams{
		Active:   c.opts.Active,
		Interval: c.opts.Interval,
		Window:   c.opts.Window,
	}
	selective := len(whitelist) > 0 && c.scan.mode == WhitelistScan && !c.scan.whitelistDisabled
	if selective {
		p.Selective = true
		p.Whitelist = whitelist
		p.Timeout = c.opts.WhitelistTimeout
	}
	c.scan.session = p

	if err := c.radio.StartScan(p); err != nil {
		if errors.Is(err, ErrInvalidState) {
			slog.Debug("[SCAN] scan already running")
			return nil
		}
		return fatal("start scan", err)
	}
	if !selective {
		c.scan.whitelistDisabled = false
	}
	c.ind.Signal(SignalScanning)
	slog.Info("[SCAN] scanning", "selective", selective, "whitelist", len(whitelist), "timeout", p.Timeout)
	return nil
}

func (c *Central) stopScan() error {
	if err := c.radio.StopScan(); err != nil && !errors.Is(err, ErrInvalidState) {
		return fatal("stop scan", err)
	}
	return nil
}

// disableWhitelist restarts a whitelist scan on the open path. Outside
// whitelist mode it only sets the flag.
func (c *Central) disableWhitelist() error {
	if c.scan.mode == WhitelistScan && !c.scan.whitelistDisabled {
		c.scan.whitelistDisabled = true
		err := c.radio.StopScan()
		switch {
		case err == nil:
			slog.Info("[SCAN] whitelist bypassed, restarting scan")
			return c.startScan()
		case errors.Is(err, ErrInvalidState):
			// Not scanning; the next start takes the open path.
		default:
			return fatal("stop scan", err)
		}
	}
	c.scan.whitelistDisabled = true
	return nil
}

// onAdvertisement connects to the first advertiser that lists the target
// service among its 16-bit service UUIDs.
func (c *Central) onAdvertisement(ev AdvertisementReport) error {
	c.ind.Signal(SignalAdvertisement)

	report := adv.Report(ev.Data)
	uuids, err := report.ServiceUUIDs16()
	if err != nil {
		return nil
	}
	c.logAdvertiser(ev, report, uuids)

	for _, u := range uuids {
		if u == c.opts.Service {
			return c.connect(ev.Peer)
		}
	}
	return nil
}

func (c *Central) connect(peer Address) error {
	if err := c.stopScan(); err != nil {
		return err
	}
	c.scan.session.Selective = false
	c.scan.session.Whitelist = nil

	err := c.radio.Connect(peer, c.opts.Conn)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidState):
		slog.Debug("[CONN] connection attempt already in progress", "peer", peer)
		return nil
	default:
		slog.Warn("[CONN] connect request failed, rescanning", "peer", peer, "error", err)
		return c.startScan()
	}
	c.scan.whitelistDisabled = false
	slog.Info("[CONN] connecting", "peer", peer)
	return nil
}

// logAdvertiser logs an advertiser at info level the first time it is
// seen and at debug level afterwards.
func (c *Central) logAdvertiser(ev AdvertisementReport, report adv.Report, uuids []uint16) {
	_, seen := c.seen.Get(ev.Peer)
	c.seen.Add(ev.Peer, ev.RSSI)

	level := slog.LevelDebug
	if !seen {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, "[SCAN] advertisement",
		"uuids", fmt.Sprintf("%04x", uuids),
		"rssi", ev.RSSI,
		"addr", ev.Peer,
		"name", report.LocalName(),
		"data", report.Printable(),
	)
}
