package domain

import "time"

// EmailJob is the payload placed on the email queue. The recipient address and
// the typed template are denormalised so the worker never re-reads the user.
type EmailJob struct {
	NotificationID string         `json:"notificationId"`
	Email          string         `json:"email"`
	Name           string         `json:"name"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Template       Template       `json:"template"`
}

// InAppJob is the payload placed on the in-app queue.
type InAppJob struct {
	NotificationID string         `json:"notificationId"`
	UserID         string         `json:"userId"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// PushedNotification is the body of the "notification" event sent to a
// user's real-time room.
type PushedNotification struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
