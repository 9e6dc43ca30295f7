package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	client   *sendgrid.Client
	fromName string
	timeout  time.Duration
}

func NewSendGridMailer(apiKey, fromName string, timeout time.Duration) *SendGridMailer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SendGridMailer{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		timeout:  timeout,
	}
}

func (s *SendGridMailer) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	from := mail.NewEmail(s.fromName, msg.From)
	to := mail.NewEmail("", msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, "", msg.HTML)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid API error: %d %s", resp.StatusCode, resp.Body)
	}
	return nil
}

var _ Mailer = (*SendGridMailer)(nil)
