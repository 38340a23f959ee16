package input

import "testing"

func press(dev string, code uint16) KeyEvent   { return KeyEvent{Device: dev, Code: code, Value: KeyPressed} }
func release(dev string, code uint16) KeyEvent { return KeyEvent{Device: dev, Code: code, Value: KeyReleased} }
func repeat(dev string, code uint16) KeyEvent  { return KeyEvent{Device: dev, Code: code, Value: KeyRepeated} }

func feedAll(t *Tracker, events ...KeyEvent) []Gesture {
	var out []Gesture
	for _, ev := range events {
		if g, ok := t.Feed(ev); ok {
			out = append(out, g)
		}
	}
	return out
}

func equalGestures(a, b []Gesture) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTrackerSequences(t *testing.T) {
	const kbd = "/dev/input/event0"
	const other = "/dev/input/event1"

	tests := []struct {
		name   string
		policy BareAltPolicy
		events []KeyEvent
		want   []Gesture
	}{
		{
			name:   "alt tab release",
			events: []KeyEvent{press(kbd, KeyLeftAlt), press(kbd, KeyTab), release(kbd, KeyTab), release(kbd, KeyLeftAlt)},
			want:   []Gesture{GestureCycleForward, GestureCommit},
		},
		{
			name: "repeated tab steps",
			events: []KeyEvent{
				press(kbd, KeyLeftAlt),
				press(kbd, KeyTab), release(kbd, KeyTab),
				press(kbd, KeyTab), repeat(kbd, KeyTab), release(kbd, KeyTab),
				release(kbd, KeyLeftAlt),
			},
			want: []Gesture{GestureCycleForward, GestureCycleForward, GestureCycleForward, GestureCommit},
		},
		{
			name: "shift reverses",
			events: []KeyEvent{
				press(kbd, KeyRightAlt), press(kbd, KeyLeftShift), press(kbd, KeyTab),
				release(kbd, KeyLeftShift), press(kbd, KeyTab), release(kbd, KeyRightAlt),
			},
			want: []Gesture{GestureCycleBackward, GestureCycleForward, GestureCommit},
		},
		{
			name:   "tab without alt",
			events: []KeyEvent{press(kbd, KeyTab), release(kbd, KeyTab)},
			want:   nil,
		},
		{
			name:   "alt and tab on different devices",
			events: []KeyEvent{press(kbd, KeyLeftAlt), press(other, KeyTab), release(kbd, KeyLeftAlt)},
			want:   []Gesture{GestureCycleForward, GestureCommit},
		},
		{
			name: "both alts held until last release",
			events: []KeyEvent{
				press(kbd, KeyLeftAlt), press(kbd, KeyRightAlt), press(kbd, KeyTab),
				release(kbd, KeyLeftAlt), press(kbd, KeyTab), release(kbd, KeyRightAlt),
			},
			want: []Gesture{GestureCycleForward, GestureCycleForward, GestureCommit},
		},
		{
			name:   "escape cancels",
			events: []KeyEvent{press(kbd, KeyLeftAlt), press(kbd, KeyTab), press(kbd, KeyEsc), release(kbd, KeyLeftAlt)},
			want:   []Gesture{GestureCycleForward, GestureCancel},
		},
		{
			name:   "escape before tab is ignored",
			events: []KeyEvent{press(kbd, KeyLeftAlt), press(kbd, KeyEsc), release(kbd, KeyLeftAlt)},
			want:   nil,
		},
		{
			name:   "bare alt ignored by default",
			events: []KeyEvent{press(kbd, KeyLeftAlt), release(kbd, KeyLeftAlt)},
			want:   nil,
		},
		{
			name:   "bare alt cancel policy",
			policy: BareAltCancel,
			events: []KeyEvent{press(kbd, KeyLeftAlt), release(kbd, KeyLeftAlt)},
			want:   []Gesture{GestureCancel},
		},
		{
			name:   "bare alt show policy",
			policy: BareAltShow,
			events: []KeyEvent{press(kbd, KeyLeftAlt), repeat(kbd, KeyLeftAlt), release(kbd, KeyLeftAlt)},
			want:   []Gesture{GestureShow},
		},
		{
			name:   "stray alt release",
			events: []KeyEvent{release(kbd, KeyLeftAlt)},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := tt.policy
			if policy == "" {
				policy = BareAltIgnore
			}
			got := feedAll(NewTracker(policy), tt.events...)
			if !equalGestures(got, tt.want) {
				t.Errorf("gestures = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrackerForgetReleasesAlt(t *testing.T) {
	tr := NewTracker(BareAltIgnore)
	feedAll(tr, press("a", KeyLeftAlt), press("a", KeyTab))

	g, ok := tr.Forget("b")
	if ok {
		t.Fatalf("forgetting an unrelated device produced %v", g)
	}
	if !tr.AltHeld() {
		t.Fatal("alt should still be held")
	}

	g, ok = tr.Forget("a")
	if !ok || g != GestureCommit {
		t.Fatalf("Forget() = %v, %v; want commit", g, ok)
	}
	if tr.AltHeld() {
		t.Error("alt still held after device removal")
	}
}

func TestParseBareAltPolicy(t *testing.T) {
	for _, in := range []string{"", "ignore", "cancel", "show"} {
		if _, err := ParseBareAltPolicy(in); err != nil {
			t.Errorf("ParseBareAltPolicy(%q) error: %v", in, err)
		}
	}
	if _, err := ParseBareAltPolicy("toggle"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
