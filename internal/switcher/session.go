// Package switcher implements the state machine for one Alt+Tab gesture.
package switcher

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/witcher/internal/window"
)

// State is the lifecycle state of the switcher.
type State string

const (
	Idle State = "idle"
	Open State = "open"
)

// Direction of a cycle step.
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

var (
	// ErrSessionOpen is returned by Start while a session is already open.
	ErrSessionOpen = errors.New("switch session already open")

	// ErrNoSession is returned by Step, Commit and Cancel while idle.
	ErrNoSession = errors.New("no switch session open")
)

// Session is one open gesture: a frozen candidate list and a selection.
type Session struct {
	ID         string
	Candidates []window.Window
	Index      int
	Steps      int
	Started    time.Time

	// anchored is true when the focused window sits at index 0
	anchored bool
}

// Selected returns the candidate at the current index.
func (s *Session) Selected() (window.Window, bool) {
	if len(s.Candidates) == 0 {
		return window.Window{}, false
	}
	return s.Candidates[s.Index], true
}

// step moves the index by one in the given direction, wrapping at both ends.
// The first step from an unanchored list lands on the first or last candidate.
func (s *Session) step(dir Direction) {
	n := len(s.Candidates)
	s.Steps++
	if n == 0 {
		return
	}
	if s.Steps == 1 && !s.anchored {
		if dir == Forward {
			s.Index = 0
		} else {
			s.Index = n - 1
		}
		return
	}
	s.Index = ((s.Index+int(dir))%n + n) % n
}

// Machine enforces the Idle -> Open -> Idle lifecycle. At most one session
// is open at a time.
type Machine struct {
	session *Session
	now     func() time.Time
}

// NewMachine creates an idle machine
func NewMachine() *Machine {
	return &Machine{now: time.Now}
}

// State returns Idle or Open
func (m *Machine) State() State {
	if m.session == nil {
		return Idle
	}
	return Open
}

// Session returns a copy of the open session, or nil when idle.
func (m *Machine) Session() *Session {
	if m.session == nil {
		return nil
	}
	s := *m.session
	s.Candidates = append([]window.Window(nil), m.session.Candidates...)
	return &s
}

// Start opens a session over candidates and takes the first step. anchored
// says whether candidates[0] is the focused window; if so a forward first
// step selects index 1, the previously used window.
func (m *Machine) Start(candidates []window.Window, anchored bool, dir Direction) (*Session, error) {
	if m.session != nil {
		return nil, ErrSessionOpen
	}
	m.session = &Session{
		ID:         uuid.NewString(),
		Candidates: append([]window.Window(nil), candidates...),
		Started:    m.now(),
		anchored:   anchored && len(candidates) > 0,
	}
	m.session.step(dir)
	return m.Session(), nil
}

// Step advances the selection without touching compositor focus.
func (m *Machine) Step(dir Direction) (*Session, error) {
	if m.session == nil {
		return nil, ErrNoSession
	}
	m.session.step(dir)
	return m.Session(), nil
}

// Commit closes the session and returns the window to focus. ok is false
// when the candidate list was empty and nothing should be focused.
func (m *Machine) Commit() (target window.Window, ok bool, err error) {
	if m.session == nil {
		return window.Window{}, false, ErrNoSession
	}
	target, ok = m.session.Selected()
	m.session = nil
	return target, ok, nil
}

// Cancel discards the session without selecting anything.
func (m *Machine) Cancel() error {
	if m.session == nil {
		return ErrNoSession
	}
	m.session = nil
	return nil
}
