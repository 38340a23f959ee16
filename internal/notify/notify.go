// Package notify sends desktop notifications over the session D-Bus.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = "/org/freedesktop/Notifications"
	notifyMethod         = notificationsService + ".Notify"

	appName = "witcher"
)

// Urgency levels understood by notification daemons
const (
	UrgencyLow      byte = 0
	UrgencyNormal   byte = 1
	UrgencyCritical byte = 2
)

// Notifier posts notifications through org.freedesktop.Notifications.
// Successive notifications replace the previous one instead of stacking.
type Notifier struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	obj     dbus.BusObject
	lastID  uint32
	timeout time.Duration
}

// New connects to the session bus
func New() (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Notifier{
		conn:    conn,
		obj:     conn.Object(notificationsService, dbus.ObjectPath(notificationsPath)),
		timeout: 2 * time.Second,
	}, nil
}

// Notify shows a notification with normal urgency.
func (n *Notifier) Notify(ctx context.Context, summary, body string) error {
	return n.send(ctx, summary, body, UrgencyNormal)
}

// Alert shows a notification that stays until dismissed.
func (n *Notifier) Alert(ctx context.Context, summary, body string) error {
	return n.send(ctx, summary, body, UrgencyCritical)
}

func (n *Notifier) send(ctx context.Context, summary, body string, urgency byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency),
	}
	expire := int32(-1)
	if urgency == UrgencyCritical {
		expire = 0
	}

	call := n.obj.CallWithContext(ctx, notifyMethod, 0,
		appName, n.lastID, "dialog-information", summary, body,
		[]string{}, hints, expire)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify reply: %w", err)
	}
	n.lastID = id
	return nil
}

// Close disconnects from the bus
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
