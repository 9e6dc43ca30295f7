package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function;
// workers use them to tell the queue whether a failure is final.
var (
	ErrNotFound          = errors.New("not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidTemplate   = errors.New("invalid template metadata")
	ErrForbidden         = errors.New("notification belongs to another user")
	ErrQueueFull         = errors.New("queue is at capacity, try again later")
	ErrTransientDelivery = errors.New("delivery attempt failed")
	ErrTerminalDelivery  = errors.New("delivery attempts exhausted")
	ErrPersistence       = errors.New("notification store unavailable")
)
