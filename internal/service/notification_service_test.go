package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/repository"
	"github.com/notifyhub/collab-notify/internal/service"
)

func newReadService(t *testing.T) (*service.NotificationService, *repository.MockNotificationRepository) {
	t.Helper()
	repo := repository.NewMockNotificationRepository()
	return service.NewNotificationService(repo, zap.NewNop()), repo
}

func store(t *testing.T, repo *repository.MockNotificationRepository, id, userID string, ch domain.Channel, age time.Duration) {
	t.Helper()
	err := repo.Create(context.Background(), &domain.Notification{
		ID: id, UserID: userID, Type: ch, Title: "t", Message: "m",
		Status: domain.StatusSent, CreatedAt: time.Now().Add(-age).UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestNotificationService_Get(t *testing.T) {
	svc, repo := newReadService(t)
	store(t, repo, "n1", "alice", domain.ChannelInApp, 0)

	tests := []struct {
		name    string
		userID  string
		id      string
		wantErr error
	}{
		{"owner", "alice", "n1", nil},
		{"another user", "bob", "n1", domain.ErrForbidden},
		{"missing", "alice", "nope", domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Get(context.Background(), tc.userID, tc.id)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNotificationService_MarkRead(t *testing.T) {
	svc, repo := newReadService(t)
	ctx := context.Background()
	store(t, repo, "n1", "alice", domain.ChannelInApp, 0)

	for i := 0; i < 2; i++ {
		if err := svc.MarkRead(ctx, "alice", "n1"); err != nil {
			t.Fatalf("mark read #%d: %v", i+1, err)
		}
	}
	n, _ := repo.GetByID(ctx, "n1")
	if !n.Read {
		t.Fatal("expected read=true")
	}
	if n.Status != domain.StatusSent {
		t.Fatalf("read flag must not touch status, got %s", n.Status)
	}

	if err := svc.MarkRead(ctx, "bob", "n1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestNotificationService_UnreadAndMarkAll(t *testing.T) {
	svc, repo := newReadService(t)
	ctx := context.Background()
	store(t, repo, "n1", "alice", domain.ChannelInApp, 2*time.Minute)
	store(t, repo, "n2", "alice", domain.ChannelInApp, time.Minute)
	store(t, repo, "n3", "alice", domain.ChannelEmail, 0)
	store(t, repo, "n4", "bob", domain.ChannelInApp, 0)

	unread, err := svc.Unread(ctx, "alice", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 2 || unread[0].ID != "n2" {
		t.Fatalf("expected newest in-app first, got %v", ids(unread))
	}
	if c, _ := svc.UnreadCount(ctx, "alice"); c != 2 {
		t.Fatalf("expected 2 unread, got %d", c)
	}

	changed, err := svc.MarkAllRead(ctx, "alice")
	if err != nil || changed != 2 {
		t.Fatalf("mark all read: changed=%d err=%v", changed, err)
	}
	if c, _ := svc.UnreadCount(ctx, "alice"); c != 0 {
		t.Fatalf("expected 0 unread, got %d", c)
	}
	if c, _ := svc.UnreadCount(ctx, "bob"); c != 1 {
		t.Fatalf("bob's notifications must be untouched, got %d", c)
	}
}

func TestNotificationService_History(t *testing.T) {
	svc, repo := newReadService(t)
	ctx := context.Background()
	for i := 0; i < 45; i++ {
		store(t, repo, fmt.Sprintf("n%02d", i), "alice", domain.ChannelInApp, time.Duration(i)*time.Second)
	}

	tests := []struct {
		name      string
		filter    domain.ListFilter
		wantItems int
		wantPage  int
		wantPages int
	}{
		{"defaults", domain.ListFilter{UserID: "alice"}, 20, 1, 3},
		{"last page", domain.ListFilter{UserID: "alice", Page: 3, Limit: 20}, 5, 3, 3},
		{"limit capped", domain.ListFilter{UserID: "alice", Limit: 1000}, 45, 1, 1},
		{"past the end", domain.ListFilter{UserID: "alice", Page: 9, Limit: 20}, 0, 9, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page, err := svc.History(ctx, tc.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(page.Notifications) != tc.wantItems || page.Page != tc.wantPage || page.TotalPages != tc.wantPages {
				t.Fatalf("got %d items page %d of %d", len(page.Notifications), page.Page, page.TotalPages)
			}
			if page.Total != 45 {
				t.Fatalf("expected total 45, got %d", page.Total)
			}
		})
	}

	t.Run("unknown type", func(t *testing.T) {
		bad := domain.Channel("fax")
		_, err := svc.History(ctx, domain.ListFilter{UserID: "alice", Type: &bad})
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest, got %v", err)
		}
	})
}

func ids(ns []*domain.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}
