package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/notifyhub/collab-notify/internal/db"
	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/repository"
)

func newSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newNotification(id, userID string, ch domain.Channel, createdAt time.Time) *domain.Notification {
	return &domain.Notification{
		ID:        id,
		UserID:    userID,
		Type:      ch,
		Title:     "Title " + id,
		Message:   "Message " + id,
		Status:    domain.StatusPending,
		CreatedAt: createdAt,
	}
}

// repositories runs the same behaviour against the SQLite store and the mock,
// so the mock cannot drift from the real conditional-update semantics.
func repositories(t *testing.T) map[string]repository.NotificationRepository {
	return map[string]repository.NotificationRepository{
		"sqlite": repository.NewSQLiteNotificationRepository(newSQLite(t)),
		"mock":   repository.NewMockNotificationRepository(),
	}
}

func TestNotificationRepository_RoundTrip(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			n := newNotification("n-1", "user-1", domain.ChannelEmail, time.Now())
			n.Metadata = map[string]any{"type": "task_assignment", "teamName": "Core"}

			if err := repo.Create(ctx, n); err != nil {
				t.Fatalf("create: %v", err)
			}
			got, err := repo.GetByID(ctx, "n-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Title != n.Title || got.Message != n.Message || got.UserID != n.UserID {
				t.Fatalf("round trip mismatch: %+v", got)
			}
			if got.Metadata["teamName"] != "Core" || got.Metadata["type"] != "task_assignment" {
				t.Fatalf("metadata mismatch: %v", got.Metadata)
			}
			if got.Status != domain.StatusPending || got.SentAt != nil || got.Read {
				t.Fatalf("unexpected initial state: %+v", got)
			}

			if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestNotificationRepository_StatusIsMonotonic(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.Create(ctx, newNotification("n-1", "u", domain.ChannelInApp, time.Now())); err != nil {
				t.Fatal(err)
			}

			sentAt := time.Now()
			if err := repo.MarkSent(ctx, "n-1", sentAt); err != nil {
				t.Fatalf("mark sent: %v", err)
			}
			// A duplicate delivery and a late failure must not move the row.
			if err := repo.MarkSent(ctx, "n-1", sentAt.Add(time.Minute)); err != nil {
				t.Fatalf("second mark sent: %v", err)
			}
			if _, err := repo.RecordFailure(ctx, "n-1", true); err != nil {
				t.Fatalf("record failure: %v", err)
			}
			if err := repo.MarkFailed(ctx, "n-1"); err != nil {
				t.Fatalf("mark failed: %v", err)
			}

			got, _ := repo.GetByID(ctx, "n-1")
			if got.Status != domain.StatusSent {
				t.Fatalf("expected sent, got %s", got.Status)
			}
			if got.SentAt == nil || !got.SentAt.Equal(sentAt) {
				t.Fatalf("sent_at should be set once, got %v", got.SentAt)
			}
			if got.RetryCount != 0 {
				t.Fatalf("retry count changed after sent: %d", got.RetryCount)
			}

			if err := repo.MarkSent(ctx, "missing", sentAt); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestNotificationRepository_RecordFailure(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.Create(ctx, newNotification("n-1", "u", domain.ChannelEmail, time.Now())); err != nil {
				t.Fatal(err)
			}

			for attempt := 1; attempt <= 5; attempt++ {
				count, err := repo.RecordFailure(ctx, "n-1", attempt == 5)
				if err != nil {
					t.Fatalf("attempt %d: %v", attempt, err)
				}
				if count != attempt {
					t.Fatalf("attempt %d: retry count %d", attempt, count)
				}
			}

			got, _ := repo.GetByID(ctx, "n-1")
			if got.Status != domain.StatusFailed || got.RetryCount != 5 {
				t.Fatalf("expected failed/5, got %s/%d", got.Status, got.RetryCount)
			}
			if got.SentAt != nil {
				t.Fatal("sent_at must stay empty on failure")
			}

			// Further failures after the terminal one are ignored.
			count, err := repo.RecordFailure(ctx, "n-1", true)
			if err != nil || count != 5 {
				t.Fatalf("expected 5 and no error, got %d %v", count, err)
			}
		})
	}
}

func TestNotificationRepository_ReadSide(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)
			for i := 0; i < 5; i++ {
				n := newNotification(fmt.Sprintf("in-%d", i), "u", domain.ChannelInApp, base.Add(time.Duration(i)*time.Minute))
				if err := repo.Create(ctx, n); err != nil {
					t.Fatal(err)
				}
			}
			if err := repo.Create(ctx, newNotification("mail", "u", domain.ChannelEmail, base.Add(time.Hour))); err != nil {
				t.Fatal(err)
			}
			if err := repo.Create(ctx, newNotification("other", "someone-else", domain.ChannelInApp, base)); err != nil {
				t.Fatal(err)
			}

			count, err := repo.CountUnread(ctx, "u")
			if err != nil || count != 5 {
				t.Fatalf("unread count = %d, %v", count, err)
			}

			unread, err := repo.ListUnread(ctx, "u", 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(unread) != 2 || unread[0].ID != "in-4" || unread[1].ID != "in-3" {
				t.Fatalf("expected newest unread first, got %v", ids(unread))
			}

			inApp := domain.ChannelInApp
			page, total, err := repo.ListByUser(ctx, domain.ListFilter{UserID: "u", Type: &inApp, Page: 2, Limit: 2})
			if err != nil {
				t.Fatal(err)
			}
			if total != 5 || len(page) != 2 || page[0].ID != "in-2" {
				t.Fatalf("page 2 = %v (total %d)", ids(page), total)
			}

			all, total, err := repo.ListByUser(ctx, domain.ListFilter{UserID: "u", Page: 1, Limit: 20})
			if err != nil || total != 6 || all[0].ID != "mail" {
				t.Fatalf("history = %v (total %d, err %v)", ids(all), total, err)
			}

			// mark-as-read is idempotent
			for i := 0; i < 2; i++ {
				if err := repo.MarkRead(ctx, "in-4"); err != nil {
					t.Fatalf("mark read #%d: %v", i+1, err)
				}
			}
			got, _ := repo.GetByID(ctx, "in-4")
			if !got.Read {
				t.Fatal("expected read=true")
			}
			if err := repo.MarkRead(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			unreadOnly, total, _ := repo.ListByUser(ctx, domain.ListFilter{UserID: "u", Type: &inApp, Unread: true, Page: 1, Limit: 20})
			if total != 4 || len(unreadOnly) != 4 {
				t.Fatalf("unread filter = %v (total %d)", ids(unreadOnly), total)
			}

			marked, err := repo.MarkAllRead(ctx, "u")
			if err != nil || marked != 4 {
				t.Fatalf("mark all read = %d, %v", marked, err)
			}
			if count, _ := repo.CountUnread(ctx, "u"); count != 0 {
				t.Fatalf("expected 0 unread, got %d", count)
			}
			other, _ := repo.GetByID(ctx, "other")
			if other.Read {
				t.Fatal("mark-all-as-read touched another user's notification")
			}
		})
	}
}

func TestSQLiteUserDirectory(t *testing.T) {
	conn := newSQLite(t)
	ctx := context.Background()
	if err := repository.SeedUser(ctx, conn, domain.User{ID: "u-1", Name: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatal(err)
	}
	dir := repository.NewSQLiteUserDirectory(conn)

	u, err := dir.Lookup(ctx, "u-1")
	if err != nil || u.Email != "ada@example.com" {
		t.Fatalf("lookup = %+v, %v", u, err)
	}
	if _, err := dir.Lookup(ctx, "nobody"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func ids(ns []*domain.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}
