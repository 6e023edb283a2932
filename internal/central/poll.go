package central

import (
	"context"
	"log/slog"
	"time"
)

// onTick requests a read of the read characteristic when connected and
// discovered. A failed request is retried by the next tick.
func (c *Central) onTick() {
	conn, ok := c.Connection()
	if !ok {
		return
	}
	h, ok := c.Handles(CharRead)
	if !ok {
		return
	}
	if err := c.radio.Read(conn, h.Value, 0); err != nil {
		slog.Warn("[POLL] read request failed", "conn", conn, "handle", h.Value, "error", err)
		return
	}
	c.ind.Signal(SignalPoll)
}

func (c *Central) onReadResponse(ev ReadResponse) {
	if !c.isReadChar(ev.Conn, ev.Handle) {
		return
	}
	if ev.Err != nil {
		slog.Warn("[POLL] read failed", "conn", ev.Conn, "handle", ev.Handle, "error", ev.Err)
		return
	}
	c.update(ev.Data)
}

func (c *Central) onNotification(ev Notification) {
	if !c.isReadChar(ev.Conn, ev.Handle) {
		return
	}
	c.update(ev.Data)
}

func (c *Central) isReadChar(conn ConnHandle, handle AttHandle) bool {
	h, ok := c.Handles(CharRead)
	return ok && h.Value == handle && c.service.conn == conn
}

func (c *Central) update(data []byte) {
	if len(data) < ValueSize {
		slog.Warn("[POLL] short value", "len", len(data), "want", ValueSize)
		return
	}
	copy(c.value[:], data)
	c.hasValue = true
	slog.Info("[POLL] value", "value", c.value.Uint32())
	if c.opts.OnValue != nil {
		c.opts.OnValue(c.value)
	}
}

// RunTicker posts a Tick every period until ctx is done. A tick that finds
// the channel full is dropped; polling resumes on the next one.
func RunTicker(ctx context.Context, period time.Duration, events chan<- Event) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			select {
			case events <- Tick{At: now}:
			default:
			}
		}
	}
}
