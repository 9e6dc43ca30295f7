// Package mailer delivers rendered email through an external transport.
package mailer

import "context"

// Message is a single rendered email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Mailer abstracts the mail transport. Mocking this interface in tests gives
// full control over transport behaviour without opening connections.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
