package central

import (
	"errors"
	"log/slog"
)

type peerState struct {
	handle    ConnHandle
	connected bool
	peer      Address
	link      LinkState

	// count includes the one extra link allowed past MaxPeers before it
	// is dropped.
	count int

	// refused holds links dropped without being counted because the
	// extra slot was already taken.
	refused map[ConnHandle]struct{}
}

// onSessionEvent is the connection and security manager. It sees every
// radio event before any other handler.
func (c *Central) onSessionEvent(ev RadioEvent) error {
	switch ev := ev.(type) {
	case Connected:
		return c.onConnected(ev)
	case Disconnected:
		return c.onDisconnected(ev)
	case SecurityRequested:
		c.ind.Signal(SignalSession)
		if err := c.security.RequestSecurity(ev.Conn); err != nil {
			return fatal("security setup", err)
		}
		if c.tracks(ev.Conn) {
			c.peers.link = LinkSecuritySetup
		}
	case LinkSecured:
		return c.onLinkSecured(ev)
	case DeviceContext:
		c.ind.Signal(SignalSession)
		if ev.Err != nil {
			return fatal("device context "+ev.Op.String(), ev.Err)
		}
		slog.Debug("[CONN] device context", "conn", ev.Conn, "op", ev.Op)
	}
	return nil
}

func (c *Central) onConnected(ev Connected) error {
	c.ind.Signal(SignalSession)

	if c.peers.count > c.opts.MaxPeers {
		slog.Warn("[CONN] peer limit reached, refusing connection", "conn", ev.Conn, "peer", ev.Peer)
		c.peers.refused[ev.Conn] = struct{}{}
		return c.drop(ev.Conn)
	}

	c.peers.count++
	if c.peers.count > c.opts.MaxPeers {
		slog.Warn("[CONN] peer limit exceeded, dropping connection", "conn", ev.Conn, "peers", c.peers.count)
		if err := c.drop(ev.Conn); err != nil {
			return err
		}
		return c.startScan()
	}

	if !c.peers.connected {
		c.peers.handle = ev.Conn
		c.peers.connected = true
		c.peers.peer = ev.Peer
		c.peers.link = LinkConnected
	}
	slog.Info("[CONN] connection made", "conn", ev.Conn, "peer", ev.Peer, "peers", c.peers.count)

	if err := c.security.RequestSecurity(ev.Conn); err != nil {
		return fatal("security setup", err)
	}
	if c.tracks(ev.Conn) {
		c.peers.link = LinkSecuritySetup
	}
	return nil
}

func (c *Central) onDisconnected(ev Disconnected) error {
	c.ind.Signal(SignalSession)

	if _, ok := c.peers.refused[ev.Conn]; ok {
		delete(c.peers.refused, ev.Conn)
		return nil
	}

	if c.tracks(ev.Conn) {
		c.peers.connected = false
		c.peers.link = LinkDisconnected
		c.peers.peer = ""
		c.service = nil
	}
	if c.peers.count > 0 {
		c.peers.count--
	}
	slog.Info("[CONN] disconnected", "conn", ev.Conn, "reason", ev.Reason, "peers", c.peers.count)

	if c.peers.count <= c.opts.MaxPeers {
		return c.startScan()
	}
	return nil
}

// onLinkSecured starts discovery on the tracked connection. Discovery runs
// once per connection.
func (c *Central) onLinkSecured(ev LinkSecured) error {
	c.ind.Signal(SignalSession)

	if !c.tracks(ev.Conn) {
		slog.Debug("[CONN] link secured on untracked connection", "conn", ev.Conn)
		return nil
	}
	c.peers.link = LinkStateSecured
	if c.service != nil && c.service.conn == ev.Conn {
		return nil
	}

	slog.Info("[CONN] link secured, discovering services", "conn", ev.Conn)
	c.service = newDiscoveredService(ev.Conn)
	if err := c.discoverer.StartDiscovery(ev.Conn); err != nil {
		return fatal("start discovery", err)
	}
	return nil
}

func (c *Central) tracks(conn ConnHandle) bool {
	return c.peers.connected && c.peers.handle == conn
}

func (c *Central) drop(conn ConnHandle) error {
	if err := c.radio.Disconnect(conn); err != nil && !errors.Is(err, ErrInvalidState) {
		return fatal("disconnect", err)
	}
	return nil
}
