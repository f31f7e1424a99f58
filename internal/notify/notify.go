// Package notify posts desktop notifications over the freedesktop
// notification service on the session bus.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/godbus/dbus/v5"
)

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = "/org/freedesktop/Notifications"
	notifyMethod         = notificationsService + ".Notify"
)

// Urgency levels understood by notification daemons
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

// Message is a single notification
type Message struct {
	Summary string
	Body    string
	Icon    string
	Urgency Urgency

	// Expire is how long the daemon shows the message; zero leaves it to the daemon
	Expire time.Duration
}

// Notifier sends messages from one application name. Successive messages
// replace the previous one instead of stacking.
type Notifier struct {
	appName string

	mu     sync.Mutex
	conn   *dbus.Conn
	lastID uint32
}

// New connects to the session bus
func New(appName string) (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	logger.WithComponent("notify").Debug().Str("app", appName).Msg("Connected to session bus")
	return &Notifier{appName: appName, conn: conn}, nil
}

// Send posts msg and returns the id the daemon assigned
func (n *Notifier) Send(ctx context.Context, msg Message) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return 0, fmt.Errorf("notifier is closed")
	}

	obj := n.conn.Object(notificationsService, dbus.ObjectPath(notificationsPath))
	var id uint32
	if err := obj.CallWithContext(ctx, notifyMethod, 0, n.args(msg)...).Store(&id); err != nil {
		return 0, fmt.Errorf("failed to send notification: %w", err)
	}
	n.lastID = id
	return id, nil
}

// args lays out the Notify call: app_name, replaces_id, app_icon, summary,
// body, actions, hints, expire_timeout
func (n *Notifier) args(msg Message) []interface{} {
	return []interface{}{
		n.appName,
		n.lastID,
		msg.Icon,
		msg.Summary,
		msg.Body,
		[]string{},
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(msg.Urgency)),
		},
		expireTimeout(msg.Expire),
	}
}

// expireTimeout converts to milliseconds, -1 meaning the daemon default
func expireTimeout(d time.Duration) int32 {
	if d <= 0 {
		return -1
	}
	return int32(d / time.Millisecond)
}

// Close releases the bus connection
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}
