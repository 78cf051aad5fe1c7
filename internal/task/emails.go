package task

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/ternarybob/numerus/internal/mailer"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

// Emails renders the platform's outgoing messages from templates. The
// built-in templates can be overridden by pointing the template
// directory config at a directory with files of the same names.
type Emails struct {
	templates *template.Template

	// BaseURL is the public root of the web frontend, used to build
	// confirmation links.
	BaseURL string

	// ConfirmExpiryMinutes is surfaced in the confirmation email text.
	ConfirmExpiryMinutes int
}

// NewEmails loads email templates. An empty dir uses the embedded
// defaults; otherwise any *.tmpl file in dir overrides its embedded
// counterpart.
func NewEmails(dir, baseURL string, confirmExpiryMinutes int) (*Emails, error) {
	t, err := template.ParseFS(embeddedTemplates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in email templates: %w", err)
	}

	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read email template directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmpl") {
				continue
			}
			if _, err := t.ParseFiles(filepath.Join(dir, entry.Name())); err != nil {
				return nil, fmt.Errorf("failed to parse email template %s: %w", entry.Name(), err)
			}
		}
	}

	return &Emails{
		templates:            t,
		BaseURL:              strings.TrimRight(baseURL, "/"),
		ConfirmExpiryMinutes: confirmExpiryMinutes,
	}, nil
}

type emailData struct {
	ModelTitle     string
	ModelName      string
	VisibleID      string
	EmailAddress   string
	ParameterTable string
	ConfirmURL     string
	ExpiryMinutes  int
}

func (e *Emails) render(name string, data emailData) (string, error) {
	var b strings.Builder
	if err := e.templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("failed to render email template %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func (e *Emails) build(t *Task, subjectTmpl, bodyTmpl string, data emailData) (*mailer.Email, error) {
	subject, err := e.render(subjectTmpl, data)
	if err != nil {
		return nil, err
	}
	body, err := e.render(bodyTmpl, data)
	if err != nil {
		return nil, err
	}
	return &mailer.Email{Recipient: t.EmailAddress, Subject: subject, Body: body}, nil
}

func (e *Emails) taskData(t *Task) emailData {
	return emailData{
		ModelTitle:     t.Definition.Title(),
		ModelName:      t.Definition.ShortName,
		VisibleID:      t.VisibleID,
		EmailAddress:   t.EmailAddress,
		ParameterTable: t.TextParameterTable(),
		ExpiryMinutes:  e.ConfirmExpiryMinutes,
	}
}

// Confirmation builds the email asking the submitter to confirm a run
// request via the embedded link.
func (e *Emails) Confirmation(t *Task, code string) (*mailer.Email, error) {
	data := e.taskData(t)
	data.ConfirmURL = fmt.Sprintf("%s/confirm_submission/%s", e.BaseURL, code)
	return e.build(t, "confirm_subject.tmpl", "confirm_body.tmpl", data)
}

// Results builds the report email with the PDF and model outputs
// attached.
func (e *Emails) Results(t *Task, textAttachments, binaryAttachments []mailer.Attachment) (*mailer.Email, error) {
	email, err := e.build(t, "results_subject.tmpl", "results_body.tmpl", e.taskData(t))
	if err != nil {
		return nil, err
	}
	email.TextAttachments = textAttachments
	email.BinaryAttachments = binaryAttachments
	return email, nil
}

// Failure builds the notice sent when a run exhausts its retry budget.
func (e *Emails) Failure(t *Task) (*mailer.Email, error) {
	return e.build(t, "failure_subject.tmpl", "failure_body.tmpl", e.taskData(t))
}

// Lost builds the notice for a queued record that could not be restored
// after a restart. Only the raw record is available since the model
// version no longer resolves.
func (e *Emails) Lost(rec Record) (*mailer.Email, error) {
	data := emailData{ModelName: rec.ModelName, VisibleID: rec.VisibleID, EmailAddress: rec.EmailAddress}
	subject, err := e.render("lost_subject.tmpl", data)
	if err != nil {
		return nil, err
	}
	body, err := e.render("lost_body.tmpl", data)
	if err != nil {
		return nil, err
	}
	return &mailer.Email{Recipient: rec.EmailAddress, Subject: subject, Body: body}, nil
}

// ConfirmationFailed builds the notice for an unconfirmed request whose
// model version disappeared across a restart.
func (e *Emails) ConfirmationFailed(rec Record) (*mailer.Email, error) {
	data := emailData{ModelName: rec.ModelName, VisibleID: rec.VisibleID, EmailAddress: rec.EmailAddress}
	subject, err := e.render("confirmation_failed_subject.tmpl", data)
	if err != nil {
		return nil, err
	}
	body, err := e.render("confirmation_failed_body.tmpl", data)
	if err != nil {
		return nil, err
	}
	return &mailer.Email{Recipient: rec.EmailAddress, Subject: subject, Body: body}, nil
}
