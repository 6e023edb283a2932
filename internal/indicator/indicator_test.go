package indicator

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/chaz8081/basestation/internal/central"
)

func newTestLog(buf *bytes.Buffer) *Log {
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewLog(logger, nil)
}

func TestSignalToggles(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLog(&buf)

	want := []bool{true, false, true}
	for i, w := range want {
		l.Signal(central.SignalPoll)
		if got := l.On(central.SignalPoll); got != w {
			t.Errorf("after %d signals On(poll) = %v, want %v", i+1, got, w)
		}
	}
	if !strings.Contains(buf.String(), "[LED] poll") || !strings.Contains(buf.String(), "pin=22") {
		t.Errorf("log output missing LED line:\n%s", buf.String())
	}
}

func TestScanningAndFaultLatch(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLog(&buf)

	for _, s := range []central.Signal{central.SignalScanning, central.SignalFault} {
		l.Signal(s)
		l.Signal(s)
		if !l.On(s) {
			t.Errorf("On(%v) = false after repeated signals, want latched on", s)
		}
	}
}

func TestUnknownSignalIgnored(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
		map[central.Signal]LED{central.SignalPoll: {Name: "poll", Pin: 1}})

	l.Signal(central.SignalAdvertisement)
	if l.On(central.SignalAdvertisement) {
		t.Error("unmapped signal lit an LED")
	}
	if buf.Len() != 0 {
		t.Errorf("unmapped signal logged: %s", buf.String())
	}
}
