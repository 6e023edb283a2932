// Package indicator renders central status signals as LED toggles written
// to a structured log, for hosts without indicator hardware.
package indicator

import (
	"log/slog"
	"sync"

	"github.com/chaz8081/basestation/internal/central"
)

// LED is one status light.
type LED struct {
	Name string
	Pin  int
}

// DefaultLEDs maps each signal to the light of the five-LED board the
// station was first built on.
var DefaultLEDs = map[central.Signal]LED{
	central.SignalScanning:      {Name: "scan", Pin: 18},
	central.SignalFault:         {Name: "fault", Pin: 19},
	central.SignalSession:       {Name: "session", Pin: 20},
	central.SignalAdvertisement: {Name: "adv", Pin: 21},
	central.SignalPoll:          {Name: "poll", Pin: 22},
}

// Log toggles a virtual LED per signal and logs the new state at debug
// level. Scanning and fault latch on instead of toggling.
type Log struct {
	logger *slog.Logger
	leds   map[central.Signal]LED

	mu    sync.Mutex
	state map[central.Signal]bool
}

// NewLog creates a Log indicator. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger, leds map[central.Signal]LED) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	if leds == nil {
		leds = DefaultLEDs
	}
	return &Log{
		logger: logger,
		leds:   leds,
		state:  make(map[central.Signal]bool),
	}
}

var _ central.Indicator = (*Log)(nil)

func (l *Log) Signal(s central.Signal) {
	led, ok := l.leds[s]
	if !ok {
		return
	}

	l.mu.Lock()
	on := true
	if s != central.SignalScanning && s != central.SignalFault {
		on = !l.state[s]
	}
	l.state[s] = on
	l.mu.Unlock()

	l.logger.Debug("[LED] "+led.Name, "signal", s, "pin", led.Pin, "on", on)
}

// On reports whether the LED for s is lit.
func (l *Log) On(s central.Signal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state[s]
}
