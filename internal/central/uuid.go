package central

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// BluetoothBase is the Bluetooth SIG base UUID that 16-bit assigned
// numbers expand into.
var BluetoothBase = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Expand places a 16-bit alias into bytes 2-3 of base, the position used
// both by the SIG base and by vendor bases registered with a stack.
func Expand(base uuid.UUID, short uint16) uuid.UUID {
	u := base
	binary.BigEndian.PutUint16(u[2:4], short)
	return u
}

// Alias returns the 16-bit alias of u if u lies under base.
func Alias(base, u uuid.UUID) (uint16, bool) {
	short := binary.BigEndian.Uint16(u[2:4])
	if Expand(base, short) != u {
		return 0, false
	}
	return short, true
}
