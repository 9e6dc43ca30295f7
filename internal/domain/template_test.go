package domain_test

import (
	"errors"
	"testing"

	"github.com/notifyhub/collab-notify/internal/domain"
)

func TestResolveTemplate(t *testing.T) {
	t.Run("no metadata is generic", func(t *testing.T) {
		tmpl, err := domain.ResolveTemplate(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tmpl.Kind != domain.TemplateGeneric {
			t.Fatalf("expected generic, got %s", tmpl.Kind)
		}
	})

	t.Run("unknown type is generic", func(t *testing.T) {
		tmpl, err := domain.ResolveTemplate(map[string]any{"type": "team_invite"})
		if err != nil || tmpl.Kind != domain.TemplateGeneric {
			t.Fatalf("got kind=%s err=%v", tmpl.Kind, err)
		}
	})

	t.Run("task assignment", func(t *testing.T) {
		tmpl, err := domain.ResolveTemplate(map[string]any{
			"type":       "task_assignment",
			"assignedBy": "Ada",
			"taskDesc":   "Write the report",
			"teamName":   "Core",
			"priority":   "high",
			"startDate":  20240101,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tmpl.TaskAssignment == nil || tmpl.TaskAssignment.AssignedBy != "Ada" {
			t.Fatalf("unexpected payload: %+v", tmpl.TaskAssignment)
		}
		if tmpl.TaskAssignment.StartDate != "20240101" {
			t.Fatalf("non-string metadata should be stringified, got %q", tmpl.TaskAssignment.StartDate)
		}
	})

	t.Run("task completed missing fields", func(t *testing.T) {
		_, err := domain.ResolveTemplate(map[string]any{"type": "task_completed", "teamName": "Core"})
		if !errors.Is(err, domain.ErrInvalidTemplate) {
			t.Fatalf("expected ErrInvalidTemplate, got %v", err)
		}
		want := "invalid template metadata: task_completed requires completedBy, taskDesc"
		if err.Error() != want {
			t.Fatalf("got %q, want %q", err.Error(), want)
		}
	})
}

func TestTemplate_Validate(t *testing.T) {
	bad := []domain.Template{
		{Kind: "newsletter"},
		{Kind: domain.TemplateTaskAssignment},
		{Kind: domain.TemplateGeneric, TaskCompleted: &domain.TaskCompleted{}},
		{Kind: domain.TemplateTaskCompleted, TaskCompleted: &domain.TaskCompleted{CompletedBy: "a", TaskDesc: "b", TeamName: "c"}, TaskAssignment: &domain.TaskAssignment{}},
	}
	for _, tmpl := range bad {
		if err := tmpl.Validate(); !errors.Is(err, domain.ErrInvalidTemplate) {
			t.Errorf("%+v: expected ErrInvalidTemplate, got %v", tmpl, err)
		}
	}
	if err := domain.GenericTemplate().Validate(); err != nil {
		t.Fatalf("generic template should validate: %v", err)
	}
}
