package central

import "log/slog"

type discoveredService struct {
	conn    ConnHandle
	matched bool
	chars   map[CharID]CharHandles
}

func newDiscoveredService(conn ConnHandle) *discoveredService {
	return &discoveredService{
		conn:  conn,
		chars: make(map[CharID]CharHandles),
	}
}

// onDiscoveryComplete caches the handles of the tracked characteristics
// when the result describes the target service on the tracked connection.
// Anything else is ignored.
func (c *Central) onDiscoveryComplete(ev DiscoveryComplete) error {
	if ev.Service != c.opts.Service || ev.UUIDType != c.vendorType {
		slog.Debug("[DISC] ignoring service", "conn", ev.Conn, "uuid", ev.Service, "type", ev.UUIDType)
		return nil
	}
	if c.service == nil || !c.tracks(ev.Conn) || c.service.conn != ev.Conn {
		slog.Debug("[DISC] ignoring result for stale connection", "conn", ev.Conn)
		return nil
	}

	c.service.matched = true
	for _, ch := range ev.Characteristics {
		if ch.UUIDType != c.vendorType {
			continue
		}
		id, ok := c.chars[ch.UUID]
		if !ok {
			continue
		}
		c.service.chars[id] = CharHandles{
			Value:   ch.Value,
			CCCD:    ch.CCCD,
			HasCCCD: ch.HasCCCD,
		}
		slog.Info("[DISC] characteristic found", "char", id, "handle", ch.Value, "cccd", ch.CCCD)
	}

	if c.opts.Subscribe {
		c.subscribe(ev.Conn)
	}
	return nil
}

// subscribe enables notifications on the read characteristic. Failure is
// not fatal: polling still delivers the value.
func (c *Central) subscribe(conn ConnHandle) {
	h, ok := c.Handles(CharRead)
	if !ok || !h.HasCCCD {
		return
	}
	if err := c.radio.EnableNotifications(conn, h.CCCD); err != nil {
		slog.Warn("[DISC] enable notifications failed", "conn", conn, "cccd", h.CCCD, "error", err)
	}
}
