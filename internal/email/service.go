// Package email sends action notifications via SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"govreview/api/internal/i18n"
	"govreview/api/internal/store"
	"govreview/api/internal/workflow"
)

// ErrNotConfigured is returned when a send is attempted without SMTP settings.
var ErrNotConfigured = errors.New("email not configured")

const defaultMaxElapsed = 2 * time.Minute

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string

	// MaxElapsed bounds the total time spent retrying one message.
	MaxElapsed time.Duration
}

// Mailboxes are the shared team inboxes a submission can opt into.
type Mailboxes struct {
	ITGovernance string
	ITInvestment string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config     Config
	server     string
	auth       smtp.Auth
	mailboxes  Mailboxes
	appBaseURL string
	send       sendFunc
	newBackOff func() backoff.BackOff
}

// NewService creates a new email service
func NewService(config Config, mailboxes Mailboxes, appBaseURL string) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	maxElapsed := config.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapsed
	}
	return &Service{
		config:     config,
		server:     config.Host + ":" + config.Port,
		auth:       auth,
		mailboxes:  mailboxes,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		send:       smtp.SendMail,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			return b
		},
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Mailboxes returns the configured team inboxes.
func (s *Service) Mailboxes() Mailboxes {
	return s.mailboxes
}

// ResolveRecipients merges the regular addresses with the opted-in team
// inboxes, drops blanks and case-insensitive duplicates, and sorts the result.
func ResolveRecipients(recipients store.Recipients, boxes Mailboxes) []string {
	candidates := append([]string{}, recipients.RegularRecipientEmails...)
	if recipients.ShouldNotifyITGovernance {
		candidates = append(candidates, boxes.ITGovernance)
	}
	if recipients.ShouldNotifyITInvestment {
		candidates = append(candidates, boxes.ITInvestment)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, addr := range candidates {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// Notification describes one action email.
type Notification struct {
	Type        workflow.ActionType
	IntakeID    string
	RequestName string
	Feedback    string
	Details     map[string]any
}

// NotifyAction renders and sends the notification for an action. It sends
// nothing and returns 0 when the resolved recipient set is empty.
func (s *Service) NotifyAction(ctx context.Context, n Notification, recipients store.Recipients) (int, error) {
	to := ResolveRecipients(recipients, s.mailboxes)
	if len(to) == 0 {
		return 0, nil
	}
	subject, html, err := s.RenderAction(n)
	if err != nil {
		return 0, err
	}
	if err := s.SendHTMLEmail(ctx, to, subject, html); err != nil {
		return 0, err
	}
	return len(to), nil
}

// SendHTMLEmail sends an HTML email, retrying transient SMTP failures.
func (s *Service) SendHTMLEmail(ctx context.Context, to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := s.buildMessage(to, subject, htmlBody)

	op := func() error {
		err := s.send(s.server, s.auth, s.config.From, to, msg)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *Service) buildMessage(to []string, subject, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-govreview"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// isPermanent reports SMTP 5xx replies, which retrying will not fix.
func isPermanent(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code >= 500
}

type field struct {
	Label string
	Value string
}

type actionData struct {
	Heading  string
	Body     string
	Fields   []field
	LinkText string
	LinkURL  string
}

// detailLabels orders the action details shown in the email.
var detailLabels = []struct {
	detail string
	label  string
}{
	{"lcid", "labels.lcid"},
	{"expiresAt", "labels.expires-at"},
	{"retiresAt", "labels.retires-at"},
	{"scope", "labels.scope"},
	{"nextSteps", "labels.next-steps"},
	{"reason", "labels.reason"},
}

// RenderAction returns the subject and HTML body for an action notification.
func (s *Service) RenderAction(n Notification) (string, string, error) {
	catalog := i18n.Default()
	subjectKey := "subjects." + string(n.Type)
	if !catalog.Has(subjectKey) {
		return "", "", fmt.Errorf("no email copy for action type %q", n.Type)
	}
	subject := catalog.Format(subjectKey, n.RequestName)

	data := actionData{
		Heading: subject,
		Body:    catalog.Lookup("bodies." + string(n.Type)),
	}
	for _, item := range detailLabels {
		value, ok := n.Details[item.detail]
		if !ok || value == nil {
			continue
		}
		text := strings.TrimSpace(fmt.Sprint(value))
		if text == "" {
			continue
		}
		data.Fields = append(data.Fields, field{Label: catalog.Lookup(item.label), Value: text})
	}
	if strings.TrimSpace(n.Feedback) != "" {
		data.Fields = append(data.Fields, field{Label: catalog.Lookup("labels.feedback"), Value: n.Feedback})
	}
	if s.appBaseURL != "" && n.IntakeID != "" {
		data.LinkText = catalog.Lookup("labels.view-request")
		data.LinkURL = s.appBaseURL + "/governance-review-team/" + n.IntakeID + "/intake-request"
	}

	var buf bytes.Buffer
	if err := actionTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render action template: %w", err)
	}
	return subject, buf.String(), nil
}

var actionTemplate = template.Must(template.New("action").Parse(actionEmailTemplate))

const actionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Heading}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #005ea2; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #005ea2; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        dt { font-weight: bold; margin-top: 8px; }
        dd { margin-left: 0; white-space: pre-wrap; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Heading}}</h1>
    </div>
    <p>{{.Body}}</p>
    {{if .Fields}}<dl>
    {{range .Fields}}<dt>{{.Label}}</dt><dd>{{.Value}}</dd>
    {{end}}</dl>{{end}}
    {{if .LinkURL}}<p><a href="{{.LinkURL}}" class="button">{{.LinkText}}</a></p>{{end}}
</body>
</html>`
