package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/notifyhub/collab-notify/internal/domain"
)

func TestSendRequest_Validate(t *testing.T) {
	valid := domain.SendRequest{
		UserID:  "user-1",
		Title:   "Hello",
		Message: "World",
	}

	t.Run("valid request passes", func(t *testing.T) {
		if err := valid.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	cases := []struct {
		name   string
		mutate func(r *domain.SendRequest)
	}{
		{"empty user", func(r *domain.SendRequest) { r.UserID = "" }},
		{"blank user", func(r *domain.SendRequest) { r.UserID = "   " }},
		{"empty title", func(r *domain.SendRequest) { r.Title = "" }},
		{"title too long", func(r *domain.SendRequest) { r.Title = strings.Repeat("x", 201) }},
		{"empty message", func(r *domain.SendRequest) { r.Message = "" }},
		{"message too long", func(r *domain.SendRequest) { r.Message = strings.Repeat("x", 10001) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			if err := r.Validate(); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.StatusPending, domain.StatusSent, true},
		{domain.StatusPending, domain.StatusFailed, true},
		{domain.StatusPending, domain.StatusPending, false},
		{domain.StatusSent, domain.StatusPending, false},
		{domain.StatusSent, domain.StatusFailed, false},
		{domain.StatusFailed, domain.StatusSent, false},
		{domain.StatusFailed, domain.StatusPending, false},
	}
	for _, tc := range tests {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPriorityFromMetadata(t *testing.T) {
	tests := []struct {
		md   map[string]any
		want domain.Priority
	}{
		{nil, domain.PriorityNormal},
		{map[string]any{"priority": "high"}, domain.PriorityHigh},
		{map[string]any{"priority": "HIGH"}, domain.PriorityHigh},
		{map[string]any{"priority": "medium"}, domain.PriorityNormal},
		{map[string]any{"priority": "low"}, domain.PriorityLow},
		{map[string]any{"priority": 3}, domain.PriorityNormal},
	}
	for _, tc := range tests {
		if got := domain.PriorityFromMetadata(tc.md); got != tc.want {
			t.Errorf("%v: got %s, want %s", tc.md, got, tc.want)
		}
	}
}

func TestChannel_Queue(t *testing.T) {
	if got := domain.ChannelEmail.Queue(); got != domain.QueueEmail {
		t.Fatalf("email channel queue = %q", got)
	}
	if got := domain.ChannelInApp.Queue(); got != domain.QueueInApp {
		t.Fatalf("in_app channel queue = %q", got)
	}
}

func TestNewPage(t *testing.T) {
	p := domain.NewPage(nil, 41, 2, 20)
	if p.TotalPages != 3 {
		t.Fatalf("expected 3 pages, got %d", p.TotalPages)
	}
	if p.Notifications == nil {
		t.Fatal("expected an empty, non-nil slice")
	}
}
