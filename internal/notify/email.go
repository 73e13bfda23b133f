package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/medcia/medreminder/internal/config"
	"github.com/medcia/medreminder/internal/domain"
)

// ChannelEmail is the registry name of the email channel.
const ChannelEmail = "email"

// MailSender hands a composed message to a transport.
type MailSender interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// SMTPSender delivers messages through an SMTP server with go-mail.
type SMTPSender struct {
	client *mail.Client
}

// NewSMTPSender builds an SMTP client from cfg. No connection is made until
// the first Send.
func NewSMTPSender(cfg config.EmailConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if strings.TrimSpace(cfg.Username) != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{client: client}, nil
}

// Send dials the server, delivers msg and closes the connection.
func (s *SMTPSender) Send(ctx context.Context, msg *mail.Msg) error {
	return s.client.DialAndSendWithContext(ctx, msg)
}

func tlsPolicy(v string) mail.TLSPolicy {
	switch v {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

// LogSender writes messages to the structured log instead of sending them.
// It backs EMAIL_BACKEND=log for local development.
type LogSender struct {
	Logger zerolog.Logger
}

// Send renders msg and logs it at info level.
func (s LogSender) Send(_ context.Context, msg *mail.Msg) error {
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return fmt.Errorf("render message: %w", err)
	}
	to, _ := msg.GetRecipients()
	s.Logger.Info().
		Strs("to", to).
		Str("backend", "log").
		Str("message", buf.String()).
		Msg("email")
	return nil
}

// Email is the email notification channel.
type Email struct {
	From    string
	Timeout time.Duration
	Sender  MailSender
}

// NewEmail builds the email channel for the configured backend.
func NewEmail(cfg config.EmailConfig, logger zerolog.Logger) (*Email, error) {
	e := &Email{From: cfg.From, Timeout: cfg.Timeout}
	switch cfg.Backend {
	case "log":
		e.Sender = LogSender{Logger: logger.With().Str("channel", ChannelEmail).Logger()}
	default:
		s, err := NewSMTPSender(cfg)
		if err != nil {
			return nil, err
		}
		e.Sender = s
	}
	return e, nil
}

func (e *Email) Name() string { return ChannelEmail }

// Recipient returns the owner's email address when one is on file.
func (e *Email) Recipient(c domain.Contact) (string, bool) {
	if !c.HasEmail() {
		return "", false
	}
	return strings.TrimSpace(c.Email), true
}

// Attempt composes a plain-text message and hands it to the sender.
func (e *Email) Attempt(ctx context.Context, to, subject, body string) Outcome {
	return guard(ctx, ChannelEmail, to, e.Timeout, func(ctx context.Context) error {
		m := mail.NewMsg()
		if err := m.From(e.From); err != nil {
			return fmt.Errorf("invalid from address %q: %w", e.From, err)
		}
		if err := m.To(to); err != nil {
			return fmt.Errorf("invalid recipient address: %w", err)
		}
		m.Subject(subject)
		m.SetBodyString(mail.TypeTextPlain, body)
		return e.Sender.Send(ctx, m)
	})
}
