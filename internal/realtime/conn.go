package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/domain"
)

// conn is one WebSocket client. userID is guarded by hub.mu.
type conn struct {
	id       string
	hub      *Hub
	ws       *websocket.Conn
	send     chan []byte
	identity string
	userID   string
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type historyRequest struct {
	UserID string `json:"userId"`
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
}

type errorBody struct {
	Message string `json:"message"`
}

// writePump is the only writer to ws.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) readPump() {
	defer c.hub.unregister(c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.emitError("malformed message")
			continue
		}
		c.handle(context.Background(), msg)
	}
}

func (c *conn) handle(ctx context.Context, msg inbound) {
	switch msg.Event {
	case eventAuthenticate:
		c.authenticate(ctx, msg.Data)
	case eventMarkAsRead:
		c.markAsRead(ctx, msg.Data)
	case eventMarkAllAsRead:
		c.markAllAsRead(ctx, msg.Data)
	case eventGetNotifications:
		c.history(ctx, msg.Data)
	default:
		c.emitError("unknown event " + msg.Event)
	}
}

func (c *conn) authenticate(ctx context.Context, data json.RawMessage) {
	var userID string
	if err := json.Unmarshal(data, &userID); err != nil || userID == "" {
		c.emitError(errMsgAuthenticationFailed)
		return
	}
	if c.identity != "" && c.identity != userID {
		c.emitError(errMsgAuthenticationFailed)
		return
	}
	if err := c.hub.JoinRoom(c.id, userID); err != nil {
		c.emitError(errMsgAuthenticationFailed)
		return
	}
	c.hub.logger.Debug("user joined room", zap.String("conn_id", c.id), zap.String("room", Room(userID)))

	unread, err := c.hub.inbox.Unread(ctx, userID, unreadOnConnectLimit)
	if err != nil {
		c.hub.logger.Error("load unread notifications", zap.String("user_id", userID), zap.Error(err))
		c.emitError(errMsgAuthenticationFailed)
		return
	}
	if unread == nil {
		unread = []*domain.Notification{}
	}
	c.emit(Event{Name: EventUnreadNotifications, Data: unread})

	count, err := c.hub.inbox.UnreadCount(ctx, userID)
	if err != nil {
		c.hub.logger.Error("count unread notifications", zap.String("user_id", userID), zap.Error(err))
		c.emitError(errMsgAuthenticationFailed)
		return
	}
	c.emit(Event{Name: EventUnreadCount, Data: count})
}

func (c *conn) markAsRead(ctx context.Context, data json.RawMessage) {
	userID, ok := c.currentUser()
	if !ok {
		return
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil || id == "" {
		c.emitError("notificationId is required")
		return
	}
	if err := c.hub.inbox.MarkRead(ctx, userID, id); err != nil {
		c.hub.logger.Error("mark notification read", zap.String("notification_id", id), zap.Error(err))
		c.emitError("Failed to mark notification as read")
		return
	}
	c.emit(Event{Name: EventNotificationRead, Data: map[string]string{"notificationId": id}})
}

func (c *conn) markAllAsRead(ctx context.Context, data json.RawMessage) {
	userID, ok := c.currentUser()
	if !ok {
		return
	}
	var requested string
	_ = json.Unmarshal(data, &requested)
	if requested != "" && requested != userID {
		c.emitError("Failed to mark notifications as read")
		return
	}
	if _, err := c.hub.inbox.MarkAllRead(ctx, userID); err != nil {
		c.hub.logger.Error("mark all notifications read", zap.String("user_id", userID), zap.Error(err))
		c.emitError("Failed to mark notifications as read")
		return
	}
	c.emit(Event{Name: EventAllNotificationsRead})
}

func (c *conn) history(ctx context.Context, data json.RawMessage) {
	userID, ok := c.currentUser()
	if !ok {
		return
	}
	req := historyRequest{Page: 1, Limit: defaultHistoryLimit}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			c.emitError("invalid get-notifications payload")
			return
		}
	}
	if req.UserID != "" && req.UserID != userID {
		c.emitError("Failed to fetch notifications")
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > 100 {
		req.Limit = defaultHistoryLimit
	}

	inApp := domain.ChannelInApp
	page, err := c.hub.inbox.History(ctx, domain.ListFilter{
		UserID: userID, Type: &inApp, Page: req.Page, Limit: req.Limit,
	})
	if err != nil {
		c.hub.logger.Error("fetch notification history", zap.String("user_id", userID), zap.Error(err))
		c.emitError("Failed to fetch notifications")
		return
	}
	c.emit(Event{Name: EventNotificationsHistory, Data: page})
}

func (c *conn) currentUser() (string, bool) {
	c.hub.mu.RLock()
	userID := c.userID
	c.hub.mu.RUnlock()
	if userID == "" {
		c.emitError("not authenticated")
		return "", false
	}
	return userID, true
}

func (c *conn) emitError(message string) {
	c.emit(Event{Name: EventError, Data: errorBody{Message: message}})
}

// emit queues an event for this connection only.
func (c *conn) emit(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		c.hub.logger.Error("encode event", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.conns[c.id]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.hub.logger.Warn("websocket send buffer full", zap.String("conn_id", c.id))
	}
}
