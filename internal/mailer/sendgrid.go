package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"member-intranet/internal/domain"
	"member-intranet/internal/logger"
)

const sendGridDefaultHost = "https://api.sendgrid.com"

type SendGridSender struct {
	apiKey    string
	host      string
	fromEmail string
	fromName  string
}

// NewSendGridSender creates a sender for the SendGrid v3 mail API. An empty
// host selects the public API endpoint.
func NewSendGridSender(apiKey, host, fromEmail, fromName string) *SendGridSender {
	if host == "" {
		host = sendGridDefaultHost
	}
	return &SendGridSender{
		apiKey:    apiKey,
		host:      host,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.TextBody, msg.HTMLBody)

	request := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	request.Method = http.MethodPost
	request.Body = mail.GetRequestBody(message)

	logger.ExternalServiceCall("sendgrid", "mail.send", "to", logger.RedactEmail(msg.To))
	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		logger.ExternalServiceResult("sendgrid", "mail.send", err)
		return &domain.TransientGatewayError{Provider: "sendgrid", Err: err}
	}
	if response.StatusCode >= 400 {
		err = fmt.Errorf("status %d, body: %s", response.StatusCode, response.Body)
		logger.ExternalServiceResult("sendgrid", "mail.send", err)
		return &domain.TransientGatewayError{Provider: "sendgrid", Err: err}
	}

	logger.ExternalServiceResult("sendgrid", "mail.send", nil, "status", response.StatusCode)
	return nil
}
