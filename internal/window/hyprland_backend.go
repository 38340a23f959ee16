package window

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/witcher/internal/logger"
)

// HyprlandBackend implements the Backend interface over Hyprland's two IPC
// sockets: .socket.sock for commands and .socket2.sock for events.
type HyprlandBackend struct {
	commandPath string
	eventPath   string
	dialer      net.Dialer
	state       connState
	windows     windowSet
}

// hyprClient is the subset of a `j/clients` entry we use
type hyprClient struct {
	Address      string `json:"address"`
	Mapped       *bool  `json:"mapped"`
	Hidden       *bool  `json:"hidden"`
	Title        string `json:"title"`
	Class        string `json:"class"`
	InitialClass string `json:"initialClass"`
	Workspace    struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"workspace"`
}

// NewHyprlandBackend locates the sockets of the running Hyprland instance.
func NewHyprlandBackend() (*HyprlandBackend, error) {
	sig := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")
	if sig == "" {
		return nil, fmt.Errorf("HYPRLAND_INSTANCE_SIGNATURE is not set, is Hyprland running?")
	}
	dir := hyprSocketDir(sig)
	return NewHyprlandBackendAt(
		filepath.Join(dir, ".socket.sock"),
		filepath.Join(dir, ".socket2.sock"),
	), nil
}

// NewHyprlandBackendAt creates a backend for explicit socket paths.
func NewHyprlandBackendAt(commandPath, eventPath string) *HyprlandBackend {
	return &HyprlandBackend{commandPath: commandPath, eventPath: eventPath}
}

// hyprSocketDir prefers $XDG_RUNTIME_DIR/hypr/<sig>, falling back to the
// /tmp location used by older Hyprland releases.
func hyprSocketDir(sig string) string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		dir := filepath.Join(runtimeDir, "hypr", sig)
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	return filepath.Join(os.TempDir(), "hypr", sig)
}

// Name returns the backend name
func (b *HyprlandBackend) Name() string {
	return NameHyprland
}

// State returns the event socket connection state
func (b *HyprlandBackend) State() ConnState {
	return b.state.get()
}

// Close is a no-op; connections are closed by their owners.
func (b *HyprlandBackend) Close() error {
	return nil
}

// ListWindows returns mapped, visible clients in Hyprland's order.
func (b *HyprlandBackend) ListWindows(ctx context.Context) ([]Window, error) {
	if err := b.state.requireConnected(NameHyprland); err != nil {
		return nil, err
	}

	out, err := b.command(ctx, "j/clients")
	if err != nil {
		return nil, err
	}
	var clients []hyprClient
	if err := json.Unmarshal(out, &clients); err != nil {
		return nil, &ProtocolError{Backend: NameHyprland, Message: "malformed clients reply", Err: err}
	}

	out, err = b.command(ctx, "j/activewindow")
	if err != nil {
		return nil, err
	}
	var active struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(out, &active); err != nil {
		return nil, &ProtocolError{Backend: NameHyprland, Message: "malformed activewindow reply", Err: err}
	}
	activeID, hasActive := parseHyprAddress(active.Address)

	seen := make(map[ID]struct{}, len(clients))
	windows := make([]Window, 0, len(clients))
	for _, c := range clients {
		if (c.Mapped != nil && !*c.Mapped) || (c.Hidden != nil && *c.Hidden) {
			continue
		}
		id, ok := parseHyprAddress(c.Address)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		appID := c.InitialClass
		if appID == "" {
			appID = c.Class
		}
		workspace := c.Workspace.Name
		if workspace == "" {
			workspace = strconv.Itoa(c.Workspace.ID)
		}
		windows = append(windows, Window{
			ID:        id,
			Title:     c.Title,
			AppID:     appID,
			Workspace: workspace,
			Focused:   hasActive && id == activeID,
		})
	}

	b.windows.reset(windows)
	return windows, nil
}

// FocusWindow dispatches focuswindow for the window's address.
func (b *HyprlandBackend) FocusWindow(ctx context.Context, id ID) error {
	if err := b.state.requireConnected(NameHyprland); err != nil {
		return err
	}
	if b.windows.missing(id) {
		return fmt.Errorf("hyprland: window 0x%x: %w", uint64(id), ErrUnknownWindow)
	}

	out, err := b.command(ctx, fmt.Sprintf("dispatch focuswindow address:0x%x", uint64(id)))
	if err != nil {
		return err
	}
	reply := strings.TrimSpace(string(out))
	if reply == "ok" {
		return nil
	}
	re := &replyError{backend: NameHyprland, msg: reply}
	if re.notFound() {
		return fmt.Errorf("hyprland: window 0x%x: %w", uint64(id), ErrUnknownWindow)
	}
	return re
}

// WatchFocus reads .socket2.sock and reports activewindowv2 events.
func (b *HyprlandBackend) WatchFocus(ctx context.Context, callback func(ID)) error {
	log := logger.WithComponent("hyprland-backend")

	b.state.set(Connecting)
	conn, err := b.dialer.DialContext(ctx, "unix", b.eventPath)
	if err != nil {
		b.state.set(Faulted)
		return fmt.Errorf("hyprland: dial %s: %v: %w", b.eventPath, err, ErrBackendUnavailable)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer b.windows.forget()

	b.state.set(Connected)
	log.Info().Str("socket", b.eventPath).Msg("Connected to Hyprland event socket")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		if err := b.handleEvent(scanner.Text(), callback); err != nil {
			b.state.set(Faulted)
			return err
		}
	}

	b.state.set(Disconnected)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err = scanner.Err()
	if err == nil {
		err = io.EOF
	}
	return fmt.Errorf("hyprland: event socket closed: %v: %w", err, ErrBackendUnavailable)
}

// handleEvent parses one "EVENT>>DATA" line.
func (b *HyprlandBackend) handleEvent(line string, callback func(ID)) error {
	if line == "" {
		return nil
	}
	name, data, ok := strings.Cut(line, ">>")
	if !ok {
		return &ProtocolError{Backend: NameHyprland, Message: fmt.Sprintf("malformed event %q", line)}
	}

	switch name {
	case "activewindowv2":
		data = strings.TrimSpace(data)
		if data == "" || data == "," {
			return nil
		}
		id, ok := parseHyprAddress(data)
		if !ok {
			return &ProtocolError{Backend: NameHyprland, Message: fmt.Sprintf("bad window address %q", data)}
		}
		callback(id)
	case "openwindow":
		addr, _, _ := strings.Cut(data, ",")
		if id, ok := parseHyprAddress(addr); ok {
			b.windows.add(id)
		}
	case "closewindow":
		if id, ok := parseHyprAddress(data); ok {
			b.windows.remove(id)
		}
	}
	return nil
}

// command sends one request on a fresh command socket connection and
// returns the full reply; Hyprland closes the connection after answering.
func (b *HyprlandBackend) command(ctx context.Context, cmd string) ([]byte, error) {
	conn, err := b.dialer.DialContext(ctx, "unix", b.commandPath)
	if err != nil {
		return nil, fmt.Errorf("hyprland: dial %s: %v: %w", b.commandPath, err, ErrBackendUnavailable)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return nil, fmt.Errorf("hyprland: write %q: %v: %w", cmd, err, ErrBackendUnavailable)
	}
	out, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("hyprland: read reply to %q: %v: %w", cmd, err, ErrBackendUnavailable)
	}
	return out, nil
}

// parseHyprAddress parses a hexadecimal window address with or without 0x.
func parseHyprAddress(value string) (ID, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, false
	}
	return ID(n), true
}
