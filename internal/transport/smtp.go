package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/thephotocrm/thephotocrm-sub005/internal/dkim"
)

// SMTPConfig configures submission to a relay
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      string // starttls, tls, none
	Hostname string // HELO name
	Timeout  time.Duration
}

// SMTPSender submits messages to an SMTP relay
type SMTPSender struct {
	cfg    SMTPConfig
	signer *dkim.Signer
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTPSender creates an SMTP sender. signer may be nil.
func NewSMTPSender(cfg SMTPConfig, signer *dkim.Signer, logger *slog.Logger) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.TLS == "" {
		cfg.TLS = "starttls"
	}
	return &SMTPSender{
		cfg:    cfg,
		signer: signer,
		logger: logger.With("component", "smtp-sender"),
		now:    time.Now,
	}
}

// Send implements Sender
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, Temporaryf("send cancelled: %v", err)
	}

	data, err := BuildMIME(msg, s.now())
	if err != nil {
		return nil, Permanentf("failed to build message: %v", err)
	}

	// Sign message with DKIM if a signer is configured
	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", s.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	client, err := s.dial()
	if err != nil {
		return nil, Temporaryf("connection failed to %s: %v", s.cfg.Host, err)
	}
	defer client.Close()

	client.CommandTimeout = s.cfg.Timeout
	client.SubmissionTimeout = s.cfg.Timeout

	if err := client.Hello(s.cfg.Hostname); err != nil {
		return nil, classifySMTP(err, "HELO")
	}

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			// bad credentials will not fix themselves, but a relay outage might
			return nil, classifySMTP(err, "AUTH")
		}
	}

	if err := client.SendMail(msg.From, []string{msg.To}, bytes.NewReader(data)); err != nil {
		return nil, classifySMTP(err, "SEND")
	}
	client.Quit()

	s.logger.Debug("message submitted",
		"host", s.cfg.Host,
		"id", msg.ID,
		"to", msg.To,
	)

	// The relay does not return a queue id through SendMail, so the
	// caller's message id is the provider reference.
	return &Result{ProviderID: msg.ID}, nil
}

func (s *SMTPSender) dial() (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName: s.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	switch s.cfg.TLS {
	case "tls":
		return smtp.DialTLS(addr, tlsConfig)
	case "none":
		return smtp.Dial(addr)
	default:
		return smtp.DialStartTLS(addr, tlsConfig)
	}
}

// classifySMTP uses the reply code when the server sent one
func classifySMTP(err error, stage string) error {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		msg := fmt.Sprintf("%s failed: %d %s", stage, se.Code, se.Message)
		return &DeliveryError{Temporary: se.Code < 500, Message: msg}
	}
	return categorizeError(err, stage)
}
