package templates_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/templates"
)

func TestRender(t *testing.T) {
	r := templates.MustNew("Collab")

	t.Run("generic passes title and message through", func(t *testing.T) {
		got, err := r.Render(domain.GenericTemplate(), "Ada", "Hello", "<b>raw</b>")
		if err != nil {
			t.Fatal(err)
		}
		if got.Subject != "Hello" || got.HTML != "<b>raw</b>" {
			t.Fatalf("unexpected email %+v", got)
		}
	})

	t.Run("task assignment", func(t *testing.T) {
		tmpl := domain.Template{Kind: domain.TemplateTaskAssignment, TaskAssignment: &domain.TaskAssignment{
			AssignedBy: "Grace",
			TaskDesc:   "Review <script>",
			TeamName:   "Core",
			StartDate:  "2024-01-01",
		}}
		got, err := r.Render(tmpl, "Ada", "ignored", "ignored")
		if err != nil {
			t.Fatal(err)
		}
		if got.Subject != "New Task Assigned by Grace" {
			t.Fatalf("subject = %q", got.Subject)
		}
		for _, want := range []string{
			"Hello Ada,",
			"<b>Priority:</b> Normal",
			"<b>Start:</b> 2024-01-01",
			"<b>End:</b> N/A",
			"Review &lt;script&gt;",
			"The Collab Team",
		} {
			if !strings.Contains(got.HTML, want) {
				t.Errorf("body missing %q", want)
			}
		}
		if strings.Contains(got.HTML, "ignored") {
			t.Error("caller title/message must not leak into a typed template")
		}
	})

	t.Run("task completed", func(t *testing.T) {
		tmpl := domain.Template{Kind: domain.TemplateTaskCompleted, TaskCompleted: &domain.TaskCompleted{
			CompletedBy: "Linus", TaskDesc: "Ship it", TeamName: "Kernel",
		}}
		got, err := r.Render(tmpl, "Ada", "", "")
		if err != nil {
			t.Fatal(err)
		}
		if got.Subject != "Task Completed in Kernel" {
			t.Fatalf("subject = %q", got.Subject)
		}
		if !strings.Contains(got.HTML, `marked the task "<b>Ship it</b>" as completed`) {
			t.Fatalf("unexpected body:\n%s", got.HTML)
		}
	})

	t.Run("invalid template", func(t *testing.T) {
		_, err := r.Render(domain.Template{Kind: domain.TemplateTaskCompleted}, "Ada", "", "")
		if !errors.Is(err, domain.ErrInvalidTemplate) {
			t.Fatalf("expected ErrInvalidTemplate, got %v", err)
		}
	})
}
