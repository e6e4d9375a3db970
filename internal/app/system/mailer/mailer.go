// internal/app/system/mailer/mailer.go
package mailer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Kinds of account notifications.
const (
	KindEmailVerification = "email_verification"
	KindPasswordReset     = "password_reset"
	KindPasswordChanged   = "password_changed"
)

// Message is an outbound account notification.
type Message struct {
	Kind    string
	To      string
	Subject string
	Body    string
}

// Notifier delivers account notifications.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Config holds the configuration for the log notifier.
type Config struct {
	AppName string
	// IncludeBody writes message bodies (and the links in them) to the log.
	// Enable only in development.
	IncludeBody bool
}

// Mailer hands notifications to the structured log. Actual delivery is
// performed by whatever ships those log lines.
type Mailer struct {
	appName     string
	includeBody bool
	log         *zap.Logger
}

// New creates a new Mailer with the given configuration.
func New(cfg Config, log *zap.Logger) *Mailer {
	if cfg.AppName == "" {
		cfg.AppName = "Stratamind"
	}
	return &Mailer{appName: cfg.AppName, includeBody: cfg.IncludeBody, log: log}
}

// AppName returns the configured application name used in messages.
func (m *Mailer) AppName() string {
	return m.appName
}

// Notify logs m.
func (m *Mailer) Notify(_ context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("notify %s: no recipient", msg.Kind)
	}
	fields := []zap.Field{
		zap.String("kind", msg.Kind),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	}
	if m.includeBody {
		fields = append(fields, zap.String("body", msg.Body))
	}
	m.log.Info("account notification", fields...)
	return nil
}

// VerificationEmail builds the message carrying an email verification link.
func (m *Mailer) VerificationEmail(to, link string, expiry time.Duration) Message {
	return Message{
		Kind:    KindEmailVerification,
		To:      to,
		Subject: "Verify your " + m.appName + " email address",
		Body: "Welcome to " + m.appName + ".\n\n" +
			"Confirm your email address by opening the link below:\n\n" +
			link + "\n\n" +
			"This link expires in " + humanize(expiry) + ".",
	}
}

// PasswordResetEmail builds the message carrying a password reset link.
func (m *Mailer) PasswordResetEmail(to, link string, expiry time.Duration) Message {
	return Message{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: "Reset your " + m.appName + " password",
		Body: "You requested a password reset for your " + m.appName + " account.\n\n" +
			"Open the link below to choose a new password:\n\n" +
			link + "\n\n" +
			"This link expires in " + humanize(expiry) + ".\n\n" +
			"If you did not request this, you can safely ignore this email.",
	}
}

// PasswordChangedEmail builds the confirmation sent after a password change.
func (m *Mailer) PasswordChangedEmail(to string) Message {
	return Message{
		Kind:    KindPasswordChanged,
		To:      to,
		Subject: "Your " + m.appName + " password was changed",
		Body: "The password for your " + m.appName + " account was just changed and all sessions were signed out.\n\n" +
			"If this was not you, reset your password immediately.",
	}
}

func humanize(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute:
		if d < 2*time.Minute {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return fmt.Sprintf("%d seconds", d/time.Second)
	}
}
