package domain

import (
	"fmt"
	"slices"
	"strings"
)

// TemplateKind selects how an email is rendered.
type TemplateKind string

const (
	TemplateGeneric        TemplateKind = "generic"
	TemplateTaskAssignment TemplateKind = "task_assignment"
	TemplateTaskCompleted  TemplateKind = "task_completed"
)

// TaskAssignment is the payload of a task_assignment notification.
type TaskAssignment struct {
	AssignedBy string `json:"assignedBy"`
	TaskDesc   string `json:"taskDesc"`
	TeamName   string `json:"teamName"`
	StartDate  string `json:"startDate,omitempty"`
	EndDate    string `json:"endDate,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

// TaskCompleted is the payload of a task_completed notification.
type TaskCompleted struct {
	CompletedBy string `json:"completedBy"`
	TaskDesc    string `json:"taskDesc"`
	TeamName    string `json:"teamName"`
}

// Template is a closed set of notification kinds. Exactly the payload
// matching Kind is non-nil; generic carries no payload.
type Template struct {
	Kind           TemplateKind    `json:"kind"`
	TaskAssignment *TaskAssignment `json:"task_assignment,omitempty"`
	TaskCompleted  *TaskCompleted  `json:"task_completed,omitempty"`
}

// GenericTemplate renders the caller's title and message unchanged.
func GenericTemplate() Template {
	return Template{Kind: TemplateGeneric}
}

// Validate checks that the payload matches the kind.
func (t Template) Validate() error {
	switch t.Kind {
	case TemplateGeneric, "":
		if t.TaskAssignment != nil || t.TaskCompleted != nil {
			return fmt.Errorf("%w: generic template carries a payload", ErrInvalidTemplate)
		}
		return nil
	case TemplateTaskAssignment:
		a := t.TaskAssignment
		if a == nil || t.TaskCompleted != nil {
			return fmt.Errorf("%w: task_assignment payload missing", ErrInvalidTemplate)
		}
		return requireFields(string(t.Kind), map[string]string{
			"assignedBy": a.AssignedBy, "taskDesc": a.TaskDesc, "teamName": a.TeamName,
		})
	case TemplateTaskCompleted:
		c := t.TaskCompleted
		if c == nil || t.TaskAssignment != nil {
			return fmt.Errorf("%w: task_completed payload missing", ErrInvalidTemplate)
		}
		return requireFields(string(t.Kind), map[string]string{
			"completedBy": c.CompletedBy, "taskDesc": c.TaskDesc, "teamName": c.TeamName,
		})
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidTemplate, t.Kind)
}

// ResolveTemplate turns free-form metadata into a typed template once, at the
// call site. A missing or unrecognised metadata.type resolves to generic.
func ResolveTemplate(md map[string]any) (Template, error) {
	kind, _ := md["type"].(string)

	var t Template
	switch TemplateKind(kind) {
	case TemplateTaskAssignment:
		t = Template{Kind: TemplateTaskAssignment, TaskAssignment: &TaskAssignment{
			AssignedBy: metaString(md, "assignedBy"),
			TaskDesc:   metaString(md, "taskDesc"),
			TeamName:   metaString(md, "teamName"),
			StartDate:  metaString(md, "startDate"),
			EndDate:    metaString(md, "endDate"),
			Priority:   metaString(md, "priority"),
		}}
	case TemplateTaskCompleted:
		t = Template{Kind: TemplateTaskCompleted, TaskCompleted: &TaskCompleted{
			CompletedBy: metaString(md, "completedBy"),
			TaskDesc:    metaString(md, "taskDesc"),
			TeamName:    metaString(md, "teamName"),
		}}
	default:
		return GenericTemplate(), nil
	}

	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	return t, nil
}

func requireFields(kind string, fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	// map iteration order is random; keep the message stable
	slices.Sort(missing)
	return fmt.Errorf("%w: %s requires %s", ErrInvalidTemplate, kind, strings.Join(missing, ", "))
}

func metaString(md map[string]any, key string) string {
	switch v := md[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
