// Package mailer delivers single email messages through the configured
// provider. Provider failures come back as *domain.TransientGatewayError.
package mailer

import (
	"context"
	"fmt"

	"member-intranet/internal/config"
	"member-intranet/internal/logger"
)

// Message is one outbound email to one recipient.
type Message struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender delivers a single message. Implementations do not retry.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender builds the sender selected by cfg.Provider.
func NewSender(ctx context.Context, cfg config.EmailConfig) (Sender, error) {
	switch cfg.Provider {
	case "sendgrid":
		return NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridHost, cfg.From, cfg.FromName), nil
	case "ses":
		return NewSESSender(ctx, cfg.SES, cfg.From, cfg.FromName)
	case "log", "":
		return NewLogSender(), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// logSender records messages instead of delivering them.
type logSender struct{}

func NewLogSender() Sender { return logSender{} }

func (logSender) Send(ctx context.Context, msg Message) error {
	logger.InfoContext(ctx, "Email not delivered (log provider)",
		"to", logger.RedactEmail(msg.To),
		"subject", msg.Subject,
		"bytes", len(msg.HTMLBody))
	return nil
}
