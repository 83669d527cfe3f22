package transport

import (
	"context"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridSender delivers through the SendGrid v3 mail API
type SendGridSender struct {
	apiKey string
	host   string
	logger *slog.Logger
}

// NewSendGridSender creates a SendGrid sender. An empty host uses the public API.
func NewSendGridSender(apiKey, host string, logger *slog.Logger) *SendGridSender {
	if host == "" {
		host = "https://api.sendgrid.com"
	}
	return &SendGridSender{
		apiKey: apiKey,
		host:   host,
		logger: logger.With("component", "sendgrid"),
	}
}

// Send implements Sender. Message tags become custom_args so event webhooks
// can be matched back to the delivery.
func (s *SendGridSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	from := mail.NewEmail(msg.FromName, msg.From)
	to := mail.NewEmail(msg.ToName, msg.To)
	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	if msg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	for k, v := range msg.Tags {
		m.Personalizations[0].SetCustomArg(k, v)
	}

	request := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(m)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return nil, Temporaryf("sendgrid: %v", err)
	}
	if response.StatusCode >= 300 {
		return nil, statusError("sendgrid", response.StatusCode, response.Body)
	}

	providerID := msg.ID
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 && ids[0] != "" {
		providerID = ids[0]
	}

	s.logger.Debug("message accepted", "id", msg.ID, "provider_id", providerID)
	return &Result{ProviderID: providerID}, nil
}
