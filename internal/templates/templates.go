// Package templates renders notification emails from typed templates.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	html "html/template"
	"strings"
	text "text/template"

	"github.com/notifyhub/collab-notify/internal/domain"
)

//go:embed email/*
var files embed.FS

// Email is a rendered subject and HTML body.
type Email struct {
	Subject string
	HTML    string
}

// Renderer turns a typed template into an email. Bodies go through
// html/template so metadata values are escaped; subjects use text/template.
type Renderer struct {
	brand    string
	bodies   *html.Template
	subjects *text.Template
}

// New parses the embedded templates. brand names the product in the footer.
func New(brand string) (*Renderer, error) {
	bodies, err := html.ParseFS(files, "email/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML templates: %w", err)
	}
	subjects, err := text.ParseFS(files, "email/subjects.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse subject templates: %w", err)
	}
	return &Renderer{brand: brand, bodies: bodies, subjects: subjects}, nil
}

// MustNew is New for package-level setup in tests and main.
func MustNew(brand string) *Renderer {
	r, err := New(brand)
	if err != nil {
		panic(err)
	}
	return r
}

type assignmentData struct {
	domain.TaskAssignment
	Name  string
	Brand string
}

type completedData struct {
	domain.TaskCompleted
	Name  string
	Brand string
}

// Render builds the email for recipientName. A generic template returns
// title and message unchanged; known kinds ignore them and render from their
// payload.
func (r *Renderer) Render(t domain.Template, recipientName, title, message string) (Email, error) {
	if err := t.Validate(); err != nil {
		return Email{}, err
	}

	var data any
	switch t.Kind {
	case domain.TemplateTaskAssignment:
		data = assignmentData{TaskAssignment: *t.TaskAssignment, Name: recipientName, Brand: r.brand}
	case domain.TemplateTaskCompleted:
		data = completedData{TaskCompleted: *t.TaskCompleted, Name: recipientName, Brand: r.brand}
	default:
		return Email{Subject: title, HTML: message}, nil
	}

	name := string(t.Kind)
	var subject, body bytes.Buffer
	if err := r.subjects.ExecuteTemplate(&subject, name, data); err != nil {
		return Email{}, fmt.Errorf("failed to render %s subject: %w", name, err)
	}
	if err := r.bodies.ExecuteTemplate(&body, name+".html", data); err != nil {
		return Email{}, fmt.Errorf("failed to render %s body: %w", name, err)
	}
	return Email{Subject: strings.TrimSpace(subject.String()), HTML: body.String()}, nil
}
