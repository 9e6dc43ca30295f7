// Package realtime is the WebSocket gateway. Each user has a room; any
// connection that authenticated as that user receives events published to it.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// Event is the wire envelope in both directions: {"event": name, "data": ...}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Server-to-client event names.
const (
	EventNotification         = "notification"
	EventUnreadNotifications  = "unread-notifications"
	EventUnreadCount          = "unread-count"
	EventNotificationRead     = "notification-read"
	EventAllNotificationsRead = "all-notifications-read"
	EventNotificationsHistory = "notifications-history"
	EventError                = "error"
)

// Client-to-server event names.
const (
	eventAuthenticate     = "authenticate"
	eventMarkAsRead       = "mark-as-read"
	eventMarkAllAsRead    = "mark-all-as-read"
	eventGetNotifications = "get-notifications"
)

const (
	defaultHistoryLimit        = 20
	unreadOnConnectLimit       = 50
	errMsgAuthenticationFailed = "Authentication failed"
)

// Publisher delivers an event to every connection in a user's room. Having
// no connection is not an error: the event is dropped.
type Publisher interface {
	Publish(ctx context.Context, userID string, ev Event) error
}

// Inbox is the read side of the notification store the gateway serves.
type Inbox interface {
	Unread(ctx context.Context, userID string, limit int) ([]*domain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
	History(ctx context.Context, filter domain.ListFilter) (domain.Page, error)
}

// Room returns the room name for a user.
func Room(userID string) string {
	return "user:" + userID
}

// Hub tracks connections and rooms. It implements Publisher and
// presence.Oracle.
type Hub struct {
	logger   *zap.Logger
	inbox    Inbox
	identify func(*http.Request) (string, bool)
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]*conn
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithIdentity makes the hub trust only the user id identify extracts from
// the upgrade request; authenticate events naming anyone else are rejected.
func WithIdentity(identify func(*http.Request) (string, bool)) HubOption {
	return func(h *Hub) { h.identify = identify }
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(check func(*http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = check }
}

func NewHub(inbox Inbox, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		logger: logger,
		inbox:  inbox,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[string]*conn),
		rooms: make(map[string]map[string]*conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := ""
	if h.identify != nil {
		id, ok := h.identify(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		identity = id
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		id:       uuid.NewString(),
		hub:      h,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		identity: identity,
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	h.logger.Debug("websocket connected", zap.String("conn_id", c.id))
	go c.writePump()
	c.readPump()
}

// JoinRoom moves a connection into userID's room, leaving any previous one.
func (h *Hub) JoinRoom(connID, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return fmt.Errorf("join room: unknown connection %s", connID)
	}
	if c.userID != "" {
		h.leaveLocked(c)
	}
	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[string]*conn)
		h.rooms[userID] = room
	}
	room[c.id] = c
	c.userID = userID
	return nil
}

func (h *Hub) leaveLocked(c *conn) {
	if room, ok := h.rooms[c.userID]; ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(h.rooms, c.userID)
		}
	}
	c.userID = ""
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	if c.userID != "" {
		h.leaveLocked(c)
	}
	close(c.send)
}

// Publish sends ev to every connection in the user's room. A connection whose
// buffer is full is dropped rather than blocking the publisher.
func (h *Hub) Publish(_ context.Context, userID string, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Name, err)
	}

	h.mu.RLock()
	var slow []*conn
	for _, c := range h.rooms[userID] {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client",
			zap.String("conn_id", c.id), zap.String("room", Room(userID)))
		h.unregister(c)
	}
	return nil
}

// IsPresent reports whether the user has at least one joined connection on
// this hub.
func (h *Hub) IsPresent(_ context.Context, userID string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID]) > 0, nil
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.unregister(c)
	}
}

var _ Publisher = (*Hub)(nil)
