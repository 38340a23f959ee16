package input

import "fmt"

// Gesture is an abstract switcher trigger produced from key events.
type Gesture int

const (
	GestureCycleForward Gesture = iota + 1
	GestureCycleBackward
	GestureCommit
	GestureCancel
	GestureShow
)

func (g Gesture) String() string {
	switch g {
	case GestureCycleForward:
		return "cycle-forward"
	case GestureCycleBackward:
		return "cycle-backward"
	case GestureCommit:
		return "commit"
	case GestureCancel:
		return "cancel"
	case GestureShow:
		return "show"
	default:
		return fmt.Sprintf("gesture(%d)", int(g))
	}
}

// BareAltPolicy decides what releasing Alt without any Tab press does.
type BareAltPolicy string

const (
	BareAltIgnore BareAltPolicy = "ignore"
	BareAltCancel BareAltPolicy = "cancel"
	BareAltShow   BareAltPolicy = "show"
)

// ParseBareAltPolicy validates a policy name; empty means ignore.
func ParseBareAltPolicy(s string) (BareAltPolicy, error) {
	switch BareAltPolicy(s) {
	case "", BareAltIgnore:
		return BareAltIgnore, nil
	case BareAltCancel, BareAltShow:
		return BareAltPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid bare alt policy %q (use ignore, cancel or show)", s)
	}
}

type heldKey struct {
	device string
	code   uint16
}

// Tracker derives gestures from key events of all devices. The modifier
// state is process-wide because Alt and Tab may live on different devices.
type Tracker struct {
	policy BareAltPolicy
	held   map[heldKey]struct{}
	armed  bool
	steps  int
}

// NewTracker creates a tracker with the given bare Alt policy
func NewTracker(policy BareAltPolicy) *Tracker {
	return &Tracker{
		policy: policy,
		held:   make(map[heldKey]struct{}),
	}
}

// AltHeld reports whether any Alt key is down on any device.
func (t *Tracker) AltHeld() bool {
	return t.anyHeld(isAlt)
}

// ShiftHeld reports whether any Shift key is down on any device.
func (t *Tracker) ShiftHeld() bool {
	return t.anyHeld(isShift)
}

// Feed processes one key event and returns the gesture it completes, if any.
func (t *Tracker) Feed(ev KeyEvent) (Gesture, bool) {
	key := heldKey{device: ev.Device, code: ev.Code}

	if isAlt(ev.Code) || isShift(ev.Code) {
		wasAlt := t.AltHeld()
		if ev.Value == KeyReleased {
			delete(t.held, key)
			if wasAlt && !t.AltHeld() {
				return t.release()
			}
			return 0, false
		}
		t.held[key] = struct{}{}
		if isAlt(ev.Code) && !wasAlt {
			t.armed = true
			t.steps = 0
		}
		return 0, false
	}

	if ev.Value == KeyReleased || !t.armed || !t.AltHeld() {
		return 0, false
	}

	switch ev.Code {
	case KeyTab:
		t.steps++
		if t.ShiftHeld() {
			return GestureCycleBackward, true
		}
		return GestureCycleForward, true
	case KeyEsc:
		if ev.Value == KeyPressed && t.steps > 0 {
			t.armed = false
			return GestureCancel, true
		}
	}
	return 0, false
}

// Forget drops the held keys of a device that went away. If that released
// the last Alt key it completes the gesture like a key release would.
func (t *Tracker) Forget(device string) (Gesture, bool) {
	wasAlt := t.AltHeld()
	for key := range t.held {
		if key.device == device {
			delete(t.held, key)
		}
	}
	if wasAlt && !t.AltHeld() {
		return t.release()
	}
	return 0, false
}

// release handles the last Alt key going up.
func (t *Tracker) release() (Gesture, bool) {
	if !t.armed {
		return 0, false
	}
	t.armed = false
	if t.steps > 0 {
		return GestureCommit, true
	}
	switch t.policy {
	case BareAltCancel:
		return GestureCancel, true
	case BareAltShow:
		return GestureShow, true
	default:
		return 0, false
	}
}

func (t *Tracker) anyHeld(match func(uint16) bool) bool {
	for key := range t.held {
		if match(key.code) {
			return true
		}
	}
	return false
}
