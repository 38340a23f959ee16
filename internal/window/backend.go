package window

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// ID is a backend-scoped window identifier, stable for the window's lifetime.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Window describes one window as reported by a backend snapshot.
// Values are never mutated after a snapshot is taken, only replaced.
type Window struct {
	ID        ID     `json:"id" yaml:"id"`
	Title     string `json:"title" yaml:"title"`
	AppID     string `json:"app_id,omitempty" yaml:"app_id,omitempty"`
	Workspace string `json:"workspace" yaml:"workspace"`
	Focused   bool   `json:"focused" yaml:"focused"`
}

var (
	// ErrBackendUnavailable is returned when the compositor connection is down.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrUnknownWindow is returned when a window id no longer exists.
	ErrUnknownWindow = errors.New("unknown window")
)

// ProtocolError reports a malformed message received from a compositor.
type ProtocolError struct {
	Backend string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: protocol decode error: %s: %v", e.Backend, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: protocol decode error: %s", e.Backend, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConnState is the lifecycle of a backend connection.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Faulted
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Backend defines the capability set every compositor client provides.
type Backend interface {
	// ListWindows returns the compositor's windows in the order it reports them.
	ListWindows(ctx context.Context) ([]Window, error)

	// FocusWindow asks the compositor to focus the given window. The resulting
	// focus change arrives later through WatchFocus.
	FocusWindow(ctx context.Context, id ID) error

	// WatchFocus connects the event stream and calls the callback with the id
	// of every window that gains focus. It blocks until the stream ends or ctx
	// is cancelled and returns the reason the stream ended.
	WatchFocus(ctx context.Context, callback func(ID)) error

	// State returns the current connection state.
	State() ConnState

	// Close releases any open connections.
	Close() error

	// Name returns the backend name (e.g., "niri", "hyprland")
	Name() string
}

// Backend names accepted by New.
const (
	NameNiri     = "niri"
	NameHyprland = "hyprland"
)

// New creates the backend with the given name. An empty name selects the
// backend from the compositor environment variables.
func New(name string) (Backend, error) {
	if name == "" {
		name = Detect()
	}
	switch name {
	case NameNiri:
		return NewNiriBackend()
	case NameHyprland:
		return NewHyprlandBackend()
	case "":
		return nil, fmt.Errorf("no supported compositor detected (set --backend niri|hyprland)")
	default:
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
}

// Detect guesses the running compositor from its environment variables.
func Detect() string {
	if os.Getenv("NIRI_SOCKET") != "" {
		return NameNiri
	}
	if os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "" {
		return NameHyprland
	}
	return ""
}

// connState holds a ConnState that is written by the event stream goroutine
// and read by request callers.
type connState struct {
	v atomic.Int32
}

func (c *connState) get() ConnState {
	return ConnState(c.v.Load())
}

func (c *connState) set(s ConnState) {
	c.v.Store(int32(s))
}

// requireConnected returns ErrBackendUnavailable unless the stream is up.
func (c *connState) requireConnected(backend string) error {
	if s := c.get(); s != Connected {
		return fmt.Errorf("%s %s: %w", backend, s, ErrBackendUnavailable)
	}
	return nil
}

// windowSet tracks the ids the compositor has told us about, so that a focus
// request for a closed window can be rejected as ErrUnknownWindow.
type windowSet struct {
	mu    sync.RWMutex
	ids   map[ID]struct{}
	known bool
}

func (s *windowSet) reset(windows []Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[ID]struct{}, len(windows))
	for _, w := range windows {
		s.ids[w.ID] = struct{}{}
	}
	s.known = true
}

func (s *windowSet) add(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[ID]struct{})
	}
	s.ids[id] = struct{}{}
}

func (s *windowSet) remove(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// forget drops all knowledge, used when the stream disconnects.
func (s *windowSet) forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = nil
	s.known = false
}

// missing reports whether id is definitely not a live window.
func (s *windowSet) missing(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.known {
		return false
	}
	_, ok := s.ids[id]
	return !ok
}
