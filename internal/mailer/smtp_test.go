package mailer_test

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/notifyhub/collab-notify/internal/mailer"
)

// fakeSMTP accepts one plain SMTP session and records the envelope and body.
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	from string
	rcpt []string
	data string
	done chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &fakeSMTP{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 fake ESMTP")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 fake")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			s.mu.Lock()
			s.from = strings.Trim(line[len("MAIL FROM:"):], "<>")
			s.mu.Unlock()
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.mu.Lock()
			s.rcpt = append(s.rcpt, strings.Trim(line[len("RCPT TO:"):], "<>"))
			s.mu.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func TestSMTPMailer_Send(t *testing.T) {
	srv := startFakeSMTP(t)
	m := mailer.NewSMTPMailer(mailer.SMTPConfig{Host: "127.0.0.1", Port: srv.port(), Timeout: 2 * time.Second})

	err := m.Send(context.Background(), mailer.Message{
		From:    "no-reply@example.com",
		To:      "ada@example.com",
		Subject: "New Task Assigned by Grace",
		HTML:    "<p>Hello</p>",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.from != "no-reply@example.com" {
		t.Fatalf("MAIL FROM = %q", srv.from)
	}
	if len(srv.rcpt) != 1 || srv.rcpt[0] != "ada@example.com" {
		t.Fatalf("RCPT TO = %v", srv.rcpt)
	}
	for _, want := range []string{
		"Subject: New Task Assigned by Grace\r\n",
		"Content-Type: text/html; charset=\"UTF-8\"\r\n",
		"\r\n\r\n<p>Hello</p>",
	} {
		if !strings.Contains(srv.data, want) {
			t.Fatalf("body missing %q:\n%s", want, srv.data)
		}
	}
}

func TestSMTPMailer_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	m := mailer.NewSMTPMailer(mailer.SMTPConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	if err := m.Send(context.Background(), mailer.Message{From: "a@b.c", To: "d@e.f"}); err == nil {
		t.Fatal("expected a dial error")
	}
}

func TestMockMailer_FailFirst(t *testing.T) {
	m := &mailer.MockMailer{Err: net.ErrClosed, FailFirst: 2}
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		err := m.Send(ctx, mailer.Message{To: "x" + strconv.Itoa(i)})
		if (err != nil) != (i <= 2) {
			t.Fatalf("send %d: err=%v", i, err)
		}
	}
	if m.Calls() != 3 || len(m.Sent()) != 1 {
		t.Fatalf("calls=%d sent=%d", m.Calls(), len(m.Sent()))
	}
}
