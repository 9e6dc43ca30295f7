package mailer

import (
	"context"
	"sync"
)

// MockMailer records every message. Set Err to fail every send, or FailFirst
// to fail only the first n sends.
type MockMailer struct {
	mu        sync.Mutex
	sent      []Message
	calls     int
	Err       error
	FailFirst int
}

func (m *MockMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil && (m.FailFirst == 0 || m.calls <= m.FailFirst) {
		return m.Err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns the successfully sent messages.
func (m *MockMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// Calls counts every Send, successful or not.
func (m *MockMailer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Mailer = (*MockMailer)(nil)
