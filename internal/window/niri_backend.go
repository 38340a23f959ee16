package window

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/witcher/internal/logger"
)

// NiriBackend talks to niri over the JSON socket named by $NIRI_SOCKET.
//
// Requests use a short-lived connection each. The event stream holds its own
// connection, since niri stops reading requests from a socket once it has
// been switched to streaming.
type NiriBackend struct {
	socketPath string
	dialer     net.Dialer
	state      connState
	windows    windowSet
}

// niriWindow is the subset of niri's Window we use.
type niriWindow struct {
	ID          uint64  `json:"id"`
	Title       *string `json:"title"`
	AppID       *string `json:"app_id"`
	WorkspaceID *uint64 `json:"workspace_id"`
	IsFocused   bool    `json:"is_focused"`
}

type niriReply struct {
	Ok  json.RawMessage `json:"Ok"`
	Err *string         `json:"Err"`
}

// NewNiriBackend creates a backend for the niri instance of this session.
func NewNiriBackend() (*NiriBackend, error) {
	path := os.Getenv("NIRI_SOCKET")
	if path == "" {
		return nil, fmt.Errorf("NIRI_SOCKET is not set, is niri running?")
	}
	return NewNiriBackendAt(path), nil
}

// NewNiriBackendAt creates a backend for the socket at path.
func NewNiriBackendAt(path string) *NiriBackend {
	return &NiriBackend{socketPath: path}
}

// Name returns the backend name
func (b *NiriBackend) Name() string {
	return NameNiri
}

// State returns the event stream connection state
func (b *NiriBackend) State() ConnState {
	return b.state.get()
}

// Close is a no-op; connections are closed by their owners.
func (b *NiriBackend) Close() error {
	return nil
}

// ListWindows returns niri's windows in the order niri reports them.
func (b *NiriBackend) ListWindows(ctx context.Context) ([]Window, error) {
	if err := b.state.requireConnected(NameNiri); err != nil {
		return nil, err
	}

	ok, err := b.request(ctx, "Windows")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Windows []niriWindow `json:"Windows"`
	}
	if err := json.Unmarshal(ok, &resp); err != nil {
		return nil, &ProtocolError{Backend: NameNiri, Message: "malformed Windows reply", Err: err}
	}
	if resp.Windows == nil {
		return nil, &ProtocolError{Backend: NameNiri, Message: "unexpected reply to Windows: " + string(ok)}
	}

	return convertNiriWindows(resp.Windows), nil
}

// FocusWindow asks niri to focus the window with the given id.
func (b *NiriBackend) FocusWindow(ctx context.Context, id ID) error {
	if err := b.state.requireConnected(NameNiri); err != nil {
		return err
	}
	if b.windows.missing(id) {
		return fmt.Errorf("niri: window %s: %w", id, ErrUnknownWindow)
	}

	req := map[string]any{
		"Action": map[string]any{
			"FocusWindow": map[string]any{"id": uint64(id)},
		},
	}
	if _, err := b.request(ctx, req); err != nil {
		if re, ok := err.(*replyError); ok && re.notFound() {
			return fmt.Errorf("niri: window %s: %w", id, ErrUnknownWindow)
		}
		return err
	}
	return nil
}

// WatchFocus opens niri's event stream and reports focus changes.
func (b *NiriBackend) WatchFocus(ctx context.Context, callback func(ID)) error {
	log := logger.WithComponent("niri-backend")

	b.state.set(Connecting)
	conn, err := b.dialer.DialContext(ctx, "unix", b.socketPath)
	if err != nil {
		b.state.set(Faulted)
		return fmt.Errorf("niri: dial %s: %v: %w", b.socketPath, err, ErrBackendUnavailable)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer b.windows.forget()

	if _, err := conn.Write([]byte("\"EventStream\"\n")); err != nil {
		b.state.set(Faulted)
		return fmt.Errorf("niri: request event stream: %v: %w", err, ErrBackendUnavailable)
	}

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		b.state.set(Faulted)
		return fmt.Errorf("niri: read event stream reply: %v: %w", err, ErrBackendUnavailable)
	}
	if _, err := decodeNiriReply(line); err != nil {
		b.state.set(Faulted)
		return err
	}

	b.state.set(Connected)
	log.Info().Str("socket", b.socketPath).Msg("Connected to niri event stream")

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			b.state.set(Disconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("niri: event stream closed: %v: %w", err, ErrBackendUnavailable)
		}
		if err := b.handleEvent(line, callback); err != nil {
			b.state.set(Faulted)
			return err
		}
	}
}

// handleEvent dispatches one event stream message by its type.
func (b *NiriBackend) handleEvent(line []byte, callback func(ID)) error {
	var event map[string]json.RawMessage
	if err := json.Unmarshal(line, &event); err != nil {
		return &ProtocolError{Backend: NameNiri, Message: "malformed event", Err: err}
	}

	for kind, body := range event {
		switch kind {
		case "WindowsChanged":
			var ev struct {
				Windows []niriWindow `json:"windows"`
			}
			if err := json.Unmarshal(body, &ev); err != nil {
				return &ProtocolError{Backend: NameNiri, Message: "malformed WindowsChanged", Err: err}
			}
			windows := convertNiriWindows(ev.Windows)
			b.windows.reset(windows)
			for _, w := range windows {
				if w.Focused {
					callback(w.ID)
				}
			}
		case "WindowOpenedOrChanged":
			var ev struct {
				Window niriWindow `json:"window"`
			}
			if err := json.Unmarshal(body, &ev); err != nil {
				return &ProtocolError{Backend: NameNiri, Message: "malformed WindowOpenedOrChanged", Err: err}
			}
			b.windows.add(ID(ev.Window.ID))
		case "WindowClosed":
			var ev struct {
				ID uint64 `json:"id"`
			}
			if err := json.Unmarshal(body, &ev); err != nil {
				return &ProtocolError{Backend: NameNiri, Message: "malformed WindowClosed", Err: err}
			}
			b.windows.remove(ID(ev.ID))
		case "WindowFocusChanged":
			// id is null when a layer-shell surface takes focus
			var ev struct {
				ID *uint64 `json:"id"`
			}
			if err := json.Unmarshal(body, &ev); err != nil {
				return &ProtocolError{Backend: NameNiri, Message: "malformed WindowFocusChanged", Err: err}
			}
			if ev.ID != nil {
				callback(ID(*ev.ID))
			}
		}
	}
	return nil
}

// request sends one JSON request on a fresh connection and returns the Ok payload.
func (b *NiriBackend) request(ctx context.Context, req any) (json.RawMessage, error) {
	conn, err := b.dialer.DialContext(ctx, "unix", b.socketPath)
	if err != nil {
		return nil, fmt.Errorf("niri: dial %s: %v: %w", b.socketPath, err, ErrBackendUnavailable)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("niri: encode request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("niri: write request: %v: %w", err, ErrBackendUnavailable)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("niri: read reply: %v: %w", err, ErrBackendUnavailable)
	}
	return decodeNiriReply(line)
}

func decodeNiriReply(line []byte) (json.RawMessage, error) {
	var reply niriReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, &ProtocolError{Backend: NameNiri, Message: "malformed reply", Err: err}
	}
	if reply.Err != nil {
		return nil, &replyError{backend: NameNiri, msg: *reply.Err}
	}
	if reply.Ok == nil {
		return nil, &ProtocolError{Backend: NameNiri, Message: "reply has neither Ok nor Err"}
	}
	return reply.Ok, nil
}

// convertNiriWindows maps niri windows to descriptors, dropping duplicate ids.
func convertNiriWindows(in []niriWindow) []Window {
	seen := make(map[uint64]struct{}, len(in))
	out := make([]Window, 0, len(in))
	for _, w := range in {
		if _, dup := seen[w.ID]; dup {
			continue
		}
		seen[w.ID] = struct{}{}

		win := Window{ID: ID(w.ID), Focused: w.IsFocused}
		if w.Title != nil {
			win.Title = *w.Title
		}
		if w.AppID != nil {
			win.AppID = *w.AppID
		}
		if w.WorkspaceID != nil {
			win.Workspace = strconv.FormatUint(*w.WorkspaceID, 10)
		}
		out = append(out, win)
	}
	return out
}

// replyError is an error message returned by the compositor for a request.
type replyError struct {
	backend string
	msg     string
}

func (e *replyError) Error() string {
	return fmt.Sprintf("%s: %s", e.backend, e.msg)
}

func (e *replyError) notFound() bool {
	msg := strings.ToLower(e.msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no such window")
}
