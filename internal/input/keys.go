// Package input reads raw keyboard devices and turns Alt+Tab key sequences
// into gestures for the switcher.
package input

// Linux input event types and key codes (linux/input-event-codes.h).
const (
	evKey = 0x01

	KeyEsc        uint16 = 1
	KeyTab        uint16 = 15
	KeyLeftShift  uint16 = 42
	KeyRightShift uint16 = 54
	KeyLeftAlt    uint16 = 56
	KeyRightAlt   uint16 = 100
)

// Key event values
const (
	KeyReleased int32 = 0
	KeyPressed  int32 = 1
	KeyRepeated int32 = 2
)

// KeyEvent is one EV_KEY event from a device.
type KeyEvent struct {
	Device string
	Code   uint16
	Value  int32
}

func isAlt(code uint16) bool {
	return code == KeyLeftAlt || code == KeyRightAlt
}

func isShift(code uint16) bool {
	return code == KeyLeftShift || code == KeyRightShift
}
