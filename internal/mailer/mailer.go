package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/makkenzo/license-issuer-api/internal/config"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"go.uber.org/zap"
)

var ErrUndeliverableAddress = errors.New("recipient address is not a valid email")

var addressValidator = validator.New()

// IsDeliverableAddress reports whether addr is a single well-formed email address.
func IsDeliverableAddress(addr string) bool {
	return addressValidator.Var(addr, "required,email") == nil
}

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns an SMTP mailer when SMTP is configured and a logging mailer otherwise.
func New(cfg *config.MailConfig, logger *zap.Logger) Mailer {
	if cfg.IsConfigured() {
		return NewSMTPMailer(cfg, logger)
	}
	logger.Warn("SMTP is not configured, license emails will only be logged")
	return NewLogMailer(logger)
}

type SMTPMailer struct {
	cfg    *config.MailConfig
	logger *zap.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg *config.MailConfig, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		logger: logger.Named("SMTPMailer"),
		send:   smtp.SendMail,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from := m.cfg.FromEmail
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromEmail)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)

	var auth smtp.Auth
	if m.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%s", m.cfg.SMTPHost, m.cfg.SMTPPort)

	if err := m.send(addr, auth, m.cfg.FromEmail, []string{msg.To}, []byte(b.String())); err != nil {
		m.logger.Error("Failed to send email", zap.String("to", msg.To), zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("Email sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger.Named("LogMailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Info("Email not sent (SMTP disabled)", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

var licenseEmailTemplate = template.Must(template.New("license").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
  <h2>Your {{.ProductName}} license</h2>
  <p>Thank you for your order {{.OrderID}}. Your license key is:</p>
  <p style="font-family: 'Courier New', monospace; font-size: 22px; font-weight: bold; letter-spacing: 2px;">{{.LicenseKey}}</p>
  <p>
    <strong>Edition:</strong> {{.Edition}}<br>
    <strong>Users:</strong> {{.MaxUsers}}<br>
    <strong>Valid until:</strong> {{.ExpiresAt.Format "January 2, 2006"}}
  </p>
  {{if .Features}}<p><strong>Included:</strong></p>
  <ul>{{range .Features}}<li>{{.}}</li>{{end}}</ul>{{end}}
  <p style="font-size: 12px; color: #666;">This email was sent to {{.CustomerEmail}} because a license was purchased with this address.</p>
</body>
</html>`))

// LicenseIssuedMessage renders the delivery email for a freshly issued license.
func LicenseIssuedMessage(lic *license.License) (Message, error) {
	if !IsDeliverableAddress(lic.CustomerEmail) {
		return Message{}, fmt.Errorf("%w: %q", ErrUndeliverableAddress, lic.CustomerEmail)
	}
	var buf bytes.Buffer
	if err := licenseEmailTemplate.Execute(&buf, lic); err != nil {
		return Message{}, fmt.Errorf("failed to render license email: %w", err)
	}
	return Message{
		To:      lic.CustomerEmail,
		Subject: fmt.Sprintf("Your %s license key", lic.ProductName),
		HTML:    buf.String(),
	}, nil
}
