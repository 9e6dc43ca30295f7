package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/presence"
	"github.com/notifyhub/collab-notify/internal/queue"
	"github.com/notifyhub/collab-notify/internal/repository"
	"github.com/notifyhub/collab-notify/internal/service"
)

var (
	ada   = domain.User{ID: "ada", Name: "Ada Lovelace", Email: "ada@example.com"}
	grace = domain.User{ID: "grace", Name: "Grace Hopper", Email: "grace@example.com"}
)

type routerFixture struct {
	router   *service.DeliveryRouter
	repo     *repository.MockNotificationRepository
	users    *repository.MockUserDirectory
	sessions *presence.Memory
	q        *queue.Memory
}

func newRouter(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		repo:     repository.NewMockNotificationRepository(),
		users:    repository.NewMockUserDirectory(ada, grace),
		sessions: presence.NewMemory(time.Hour),
		q:        queue.NewMemory(),
	}
	t.Cleanup(func() { f.q.Close() })
	f.router = service.NewDeliveryRouter(f.users, f.repo, f.sessions, f.q, service.DefaultRouterConfig(), zap.NewNop())
	return f
}

func (f *routerFixture) reserve(t *testing.T, name string) *queue.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := f.q.Reserve(ctx, name)
	if err != nil {
		t.Fatalf("reserve %s: %v", name, err)
	}
	return job
}

func TestDeliveryRouter_PresentUserGoesInApp(t *testing.T) {
	f := newRouter(t)
	ctx := context.Background()
	_ = f.sessions.Touch(ctx, "ada", "{}")

	n, err := f.router.Send(ctx, domain.SendRequest{UserID: "ada", Title: "T", Message: "M"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if n.Type != domain.ChannelInApp || n.Status != domain.StatusPending || n.RetryCount != 0 {
		t.Fatalf("unexpected notification %+v", n)
	}

	job := f.reserve(t, domain.QueueInApp)
	if job.NotificationID != n.ID || job.MaxAttempts != 3 || job.Backoff.Delay != 2*time.Second {
		t.Fatalf("unexpected in-app job %+v", job)
	}
	var p domain.InAppJob
	if err := job.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "ada" || p.Title != "T" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestDeliveryRouter_AbsentUserGoesEmail(t *testing.T) {
	f := newRouter(t)
	ctx := context.Background()

	md := map[string]any{
		"type": "task_assignment", "assignedBy": "Grace", "taskDesc": "Review", "teamName": "Core",
		"priority": "high",
	}
	n, err := f.router.Send(ctx, domain.SendRequest{UserID: "ada", Title: "T", Message: "M", Metadata: md})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if n.Type != domain.ChannelEmail {
		t.Fatalf("expected email, got %s", n.Type)
	}

	job := f.reserve(t, domain.QueueEmail)
	if job.MaxAttempts != 5 || job.Backoff.Delay != 5*time.Second || job.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected email job %+v", job)
	}
	var p domain.EmailJob
	if err := job.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Email != "ada@example.com" || p.Name != "Ada Lovelace" {
		t.Fatalf("recipient not denormalised: %+v", p)
	}
	if p.Template.Kind != domain.TemplateTaskAssignment || p.Template.TaskAssignment.AssignedBy != "Grace" {
		t.Fatalf("template not resolved: %+v", p.Template)
	}
}

func TestDeliveryRouter_PresenceErrorFallsBackToEmail(t *testing.T) {
	f := newRouter(t)
	broken := presence.OracleFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("redis down")
	})
	r := service.NewDeliveryRouter(f.users, f.repo, broken, f.q, service.DefaultRouterConfig(), zap.NewNop())

	n, err := r.Send(context.Background(), domain.SendRequest{UserID: "ada", Title: "T", Message: "M"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if n.Type != domain.ChannelEmail {
		t.Fatalf("expected email fallback, got %s", n.Type)
	}
}

func TestDeliveryRouter_RejectsWithoutWriting(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.SendRequest
		wantErr error
	}{
		{"unknown user", domain.SendRequest{UserID: "nobody", Title: "T", Message: "M"}, domain.ErrUserNotFound},
		{"empty title", domain.SendRequest{UserID: "ada", Message: "M"}, domain.ErrInvalidRequest},
		{"incomplete template", domain.SendRequest{UserID: "ada", Title: "T", Message: "M",
			Metadata: map[string]any{"type": "task_completed", "taskDesc": "x"}}, domain.ErrInvalidTemplate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newRouter(t)
			_, err := f.router.Send(context.Background(), tc.req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(f.repo.All()) != 0 {
				t.Fatal("nothing should be persisted")
			}
			if s, _ := f.q.Stats(context.Background(), domain.QueueEmail); s.Ready != 0 {
				t.Fatal("nothing should be enqueued")
			}
		})
	}
}

func TestDeliveryRouter_PersistFailureSkipsEnqueue(t *testing.T) {
	f := newRouter(t)
	f.repo.CreateErr = errors.New("db down")

	_, err := f.router.Send(context.Background(), domain.SendRequest{UserID: "ada", Title: "T", Message: "M"})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if s, _ := f.q.Stats(context.Background(), domain.QueueEmail); s.Ready != 0 {
		t.Fatal("no job may exist without a row")
	}
}

func TestDeliveryRouter_EnqueueFailureFailsRow(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	users := repository.NewMockUserDirectory(ada)
	q := queue.NewMemorySized(1, 1, 1)
	t.Cleanup(func() { q.Close() })
	r := service.NewDeliveryRouter(users, repo, presence.NewMemory(time.Hour), q, service.DefaultRouterConfig(), zap.NewNop())
	ctx := context.Background()

	if _, err := r.Send(ctx, domain.SendRequest{UserID: "ada", Title: "T", Message: "M"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err := r.Send(ctx, domain.SendRequest{UserID: "ada", Title: "T2", Message: "M"})
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	var failed int
	for _, n := range repo.All() {
		if n.Status == domain.StatusFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected the unqueued row to be failed, got %d failed", failed)
	}
}

func TestDeliveryRouter_SendBulk(t *testing.T) {
	t.Run("all users", func(t *testing.T) {
		f := newRouter(t)
		var routed []domain.Channel
		f.router.OnRouted(func(ch domain.Channel) { routed = append(routed, ch) })
		_ = f.sessions.Touch(context.Background(), "grace", "{}")

		out, err := f.router.SendBulk(context.Background(), []string{"ada", "grace"}, "T", "M")
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 2 || out[0].Type != domain.ChannelEmail || out[1].Type != domain.ChannelInApp {
			t.Fatalf("unexpected result %+v", out)
		}
		if len(routed) != 2 {
			t.Fatalf("expected routed hook twice, got %d", len(routed))
		}
	})

	t.Run("stops at first error", func(t *testing.T) {
		f := newRouter(t)
		out, err := f.router.SendBulk(context.Background(), []string{"ada", "nobody", "grace"}, "T", "M")
		if !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
		if len(out) != 1 || out[0].UserID != "ada" {
			t.Fatalf("expected only ada's notification, got %d", len(out))
		}
		if len(f.repo.All()) != 1 {
			t.Fatal("grace must not be reached")
		}
	})

	t.Run("empty list", func(t *testing.T) {
		f := newRouter(t)
		if _, err := f.router.SendBulk(context.Background(), nil, "T", "M"); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest, got %v", err)
		}
	})
}
