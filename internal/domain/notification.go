package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel is the delivery channel a notification was routed to.
// Stored in the notifications.type column.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelInApp:
		return true
	}
	return false
}

// Queue returns the name of the work queue that delivers this channel.
func (c Channel) Queue() string {
	if c == ChannelInApp {
		return QueueInApp
	}
	return QueueEmail
}

// Work queue names. One independent queue per channel.
const (
	QueueEmail = "email"
	QueueInApp = "in-app"
)

// Priority controls ordering inside a single queue. High is served first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// PriorityFromMetadata reads metadata["priority"] the way task producers set it
// ("high", "medium", "low"). Anything else is normal.
func PriorityFromMetadata(md map[string]any) Priority {
	v, _ := md["priority"].(string)
	switch strings.ToLower(v) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	}
	return PriorityNormal
}

// Status tracks delivery of a notification.
// Only pending → sent and pending → failed are legal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && next.IsTerminal()
}

// Notification is the durable record of one notification and its delivery state.
type Notification struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Type       Channel        `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Read       bool           `json:"read"`
	Status     Status         `json:"status"`
	RetryCount int            `json:"retryCount"`
	CreatedAt  time.Time      `json:"createdAt"`
	SentAt     *time.Time     `json:"sentAt,omitempty"`
}

// User is the slice of the user record the pipeline needs.
// Users are owned by the CRUD side of the system and only read here.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

const (
	maxTitleLen   = 200
	maxMessageLen = 10000
)

// SendRequest is the payload callers hand to the delivery router.
type SendRequest struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (r *SendRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user_id must not be empty", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Title) == "" || len(r.Title) > maxTitleLen {
		return fmt.Errorf("%w: title must be between 1 and %d characters", ErrInvalidRequest, maxTitleLen)
	}
	if r.Message == "" || len(r.Message) > maxMessageLen {
		return fmt.Errorf("%w: message must be between 1 and %d characters", ErrInvalidRequest, maxMessageLen)
	}
	return nil
}

// BulkSendRequest fans one title/message out to many users.
type BulkSendRequest struct {
	UserIDs []string `json:"user_ids"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
}

// ListFilter holds query parameters for a user's notification history.
type ListFilter struct {
	UserID string
	Type   *Channel
	Unread bool
	Page   int
	Limit  int
}

// Offset converts the 1-based page into a row offset.
func (f ListFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Page is one page of a user's history.
type Page struct {
	Notifications []*Notification `json:"notifications"`
	Total         int             `json:"total"`
	Page          int             `json:"page"`
	TotalPages    int             `json:"totalPages"`
}

// NewPage computes totalPages the same way for every read path.
func NewPage(items []*Notification, total, page, limit int) Page {
	if items == nil {
		items = []*Notification{}
	}
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Page{Notifications: items, Total: total, Page: page, TotalPages: pages}
}
