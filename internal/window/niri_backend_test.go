package window

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// shortSocketPath keeps unix socket paths under the 108 byte limit.
func shortSocketPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "wtw")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}

// fakeNiri serves niri's IPC protocol from canned replies.
type fakeNiri struct {
	t        *testing.T
	listener net.Listener
	windows  string
	focusErr string

	mu       sync.Mutex
	requests []string
	events   chan string
}

func newFakeNiri(t *testing.T) *fakeNiri {
	t.Helper()
	path := shortSocketPath(t, "niri.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeNiri{
		t:        t,
		listener: l,
		windows:  `[]`,
		events:   make(chan string, 16),
	}
	t.Cleanup(func() { l.Close() })
	go f.serve()
	return f
}

func (f *fakeNiri) path() string {
	return f.listener.Addr().String()
}

func (f *fakeNiri) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeNiri) handle(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	req := strings.TrimSpace(line)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	windows, focusErr := f.windows, f.focusErr
	f.mu.Unlock()

	switch {
	case req == `"EventStream"`:
		conn.Write([]byte(`{"Ok":"Handled"}` + "\n"))
		for ev := range f.events {
			if _, err := conn.Write([]byte(ev + "\n")); err != nil {
				return
			}
		}
	case req == `"Windows"`:
		// niri frames every reply as a single line
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(windows)); err != nil {
			f.t.Errorf("bad Windows fixture: %v", err)
			return
		}
		conn.Write([]byte(`{"Ok":{"Windows":` + compact.String() + `}}` + "\n"))
	case strings.Contains(req, "FocusWindow"):
		if focusErr != "" {
			conn.Write([]byte(`{"Err":"` + focusErr + `"}` + "\n"))
			return
		}
		conn.Write([]byte(`{"Ok":"Handled"}` + "\n"))
	default:
		conn.Write([]byte(`{"Err":"unknown request"}` + "\n"))
	}
}

func (f *fakeNiri) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeNiri) lastRequest() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1]
}

// watch runs WatchFocus in the background and returns the focus ids it reports.
func watch(t *testing.T, b Backend) (<-chan ID, <-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ids := make(chan ID, 16)
	done := make(chan error, 1)
	go func() {
		done <- b.WatchFocus(ctx, func(id ID) { ids <- id })
	}()
	t.Cleanup(cancel)

	deadline := time.Now().Add(2 * time.Second)
	for b.State() != Connected {
		if time.Now().After(deadline) {
			t.Fatalf("backend did not connect, state %s", b.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return ids, done, cancel
}

func expectID(t *testing.T, ids <-chan ID, want ID) {
	t.Helper()
	select {
	case id := <-ids:
		if id != want {
			t.Fatalf("focus id = %d, want %d", id, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for focus %d", want)
	}
}

func TestNiriRequiresConnection(t *testing.T) {
	f := newFakeNiri(t)
	b := NewNiriBackendAt(f.path())

	if _, err := b.ListWindows(context.Background()); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("ListWindows() before connect = %v, want ErrBackendUnavailable", err)
	}
	if err := b.FocusWindow(context.Background(), 1); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("FocusWindow() before connect = %v, want ErrBackendUnavailable", err)
	}
}

func TestNiriListWindows(t *testing.T) {
	f := newFakeNiri(t)
	f.set(func() {
		f.windows = `[
		{"id":3,"title":"Terminal","app_id":"foot","workspace_id":1,"is_focused":true},
		{"id":7,"title":null,"app_id":null,"workspace_id":null,"is_focused":false},
		{"id":3,"title":"dup","app_id":"foot","workspace_id":1,"is_focused":false}
	]`
	})
	b := NewNiriBackendAt(f.path())
	watch(t, b)

	windows, err := b.ListWindows(context.Background())
	if err != nil {
		t.Fatalf("ListWindows() error: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2 (duplicate dropped): %+v", len(windows), windows)
	}
	want := Window{ID: 3, Title: "Terminal", AppID: "foot", Workspace: "1", Focused: true}
	if windows[0] != want {
		t.Errorf("windows[0] = %+v, want %+v", windows[0], want)
	}
	if windows[1].ID != 7 || windows[1].Title != "" || windows[1].Workspace != "" {
		t.Errorf("windows[1] = %+v", windows[1])
	}
}

func TestNiriFocusEvents(t *testing.T) {
	f := newFakeNiri(t)
	b := NewNiriBackendAt(f.path())
	ids, _, _ := watch(t, b)

	f.events <- `{"WindowsChanged":{"windows":[{"id":1,"is_focused":false},{"id":2,"is_focused":true}]}}`
	expectID(t, ids, 2)

	f.events <- `{"WindowFocusChanged":{"id":null}}`
	f.events <- `{"WorkspaceActivated":{"id":4,"focused":true}}`
	f.events <- `{"WindowFocusChanged":{"id":1}}`
	expectID(t, ids, 1)
}

func TestNiriFocusWindow(t *testing.T) {
	f := newFakeNiri(t)
	b := NewNiriBackendAt(f.path())
	ids, _, _ := watch(t, b)

	f.events <- `{"WindowsChanged":{"windows":[{"id":5,"is_focused":true},{"id":9,"is_focused":false}]}}`
	expectID(t, ids, 5)

	if err := b.FocusWindow(context.Background(), 9); err != nil {
		t.Fatalf("FocusWindow() error: %v", err)
	}
	if got := f.lastRequest(); got != `{"Action":{"FocusWindow":{"id":9}}}` {
		t.Errorf("request = %s", got)
	}

	// Closed windows are rejected without a round trip.
	f.events <- `{"WindowClosed":{"id":9}}`
	f.events <- `{"WindowFocusChanged":{"id":5}}`
	expectID(t, ids, 5)
	if err := b.FocusWindow(context.Background(), 9); !errors.Is(err, ErrUnknownWindow) {
		t.Errorf("FocusWindow(closed) = %v, want ErrUnknownWindow", err)
	}

	// A window niri reports as missing is unknown too.
	f.events <- `{"WindowOpenedOrChanged":{"window":{"id":11,"is_focused":false}}}`
	f.events <- `{"WindowFocusChanged":{"id":5}}`
	expectID(t, ids, 5)
	f.set(func() { f.focusErr = "window not found" })
	if err := b.FocusWindow(context.Background(), 11); !errors.Is(err, ErrUnknownWindow) {
		t.Errorf("FocusWindow() with niri error = %v, want ErrUnknownWindow", err)
	}
}

func TestNiriMalformedEventFaults(t *testing.T) {
	f := newFakeNiri(t)
	b := NewNiriBackendAt(f.path())
	_, done, _ := watch(t, b)

	f.events <- `{"WindowFocusChanged":`
	select {
	case err := <-done:
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("WatchFocus() = %v, want ProtocolError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WatchFocus did not return")
	}
	if b.State() != Faulted {
		t.Errorf("state = %s, want faulted", b.State())
	}
}

func TestNiriStreamClosed(t *testing.T) {
	f := newFakeNiri(t)
	b := NewNiriBackendAt(f.path())
	_, done, _ := watch(t, b)

	close(f.events)
	select {
	case err := <-done:
		if !errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("WatchFocus() = %v, want ErrBackendUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WatchFocus did not return")
	}
	if b.State() != Disconnected {
		t.Errorf("state = %s, want disconnected", b.State())
	}
}

func TestNiriDialFailure(t *testing.T) {
	b := NewNiriBackendAt(shortSocketPath(t, "missing.sock"))
	err := b.WatchFocus(context.Background(), func(ID) {})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("WatchFocus() = %v, want ErrBackendUnavailable", err)
	}
	if b.State() != Faulted {
		t.Errorf("state = %s, want faulted", b.State())
	}
}
