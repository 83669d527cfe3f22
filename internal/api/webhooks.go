package api

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go/helpers/eventwebhook"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
	"github.com/thephotocrm/thephotocrm-sub005/internal/repository"
)

const (
	sendgridSignatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	sendgridTimestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
)

// sendgridVerifier checks signed event webhooks. A nil verifier accepts
// every request.
type sendgridVerifier struct {
	key *ecdsa.PublicKey
}

func newSendgridVerifier(publicKey string) (*sendgridVerifier, error) {
	if publicKey == "" {
		return nil, nil
	}
	key, err := eventwebhook.ConvertPublicKeyBase64ToECDSA(publicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid sendgrid webhook public key: %w", err)
	}
	return &sendgridVerifier{key: key}, nil
}

func (v *sendgridVerifier) verify(payload []byte, signature, timestamp string) bool {
	if v == nil {
		return true
	}
	if signature == "" || timestamp == "" {
		return false
	}
	ok, err := eventwebhook.VerifySignature(v.key, payload, signature, timestamp)
	return err == nil && ok
}

// SendGridEvent is one entry of a SendGrid event webhook batch. Custom args
// set on the message arrive as top-level fields.
type SendGridEvent struct {
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"`
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	Reason      string `json:"reason,omitempty"`
	DeliveryID  string `json:"delivery_id,omitempty"`
}

// handleSendGridEvents handles POST /webhooks/sendgrid
func (s *Server) handleSendGridEvents(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	if !s.sendgrid.verify(payload, r.Header.Get(sendgridSignatureHeader), r.Header.Get(sendgridTimestampHeader)) {
		s.logger.Warn("sendgrid webhook signature rejected", "remote_addr", r.RemoteAddr)
		s.sendError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var events []SendGridEvent
	if err := json.Unmarshal(payload, &events); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	processed := 0
	for _, ev := range events {
		if err := s.applySendGridEvent(r.Context(), ev); err != nil {
			s.logger.Warn("sendgrid event not applied",
				"event", ev.Event,
				"delivery_id", ev.DeliveryID,
				"sg_message_id", ev.SGMessageID,
				"error", err,
			)
			continue
		}
		processed++
	}

	s.sendJSON(w, http.StatusOK, map[string]int{"received": len(events), "processed": processed})
}

func (s *Server) applySendGridEvent(ctx context.Context, ev SendGridEvent) error {
	d, err := s.resolveDelivery(ctx, ev)
	if err != nil {
		return err
	}
	at := s.now()
	if ev.Timestamp > 0 {
		at = time.Unix(ev.Timestamp, 0)
	}

	switch ev.Event {
	case "delivered":
		_, err = s.applyStatus(ctx, d.ID, models.DeliveryDelivered, at)
	case "bounce":
		_, err = s.applyStatus(ctx, d.ID, models.DeliveryBounced, at)
	case "dropped":
		_, err = s.applyStatus(ctx, d.ID, models.DeliveryFailed, at)
	case "open":
		_, err = s.deps.Deliveries.RecordEngagement(ctx, d.ID, models.EngagementOpen, at)
	case "click":
		_, err = s.deps.Deliveries.RecordEngagement(ctx, d.ID, models.EngagementClick, at)
	case "unsubscribe", "group_unsubscribe", "spamreport":
		var sub *models.Subscription
		sub, err = s.deps.Subscriptions.Get(ctx, d.SubscriptionID)
		if err == nil {
			_, err = s.unsubscribeSubject(ctx, sub.SubjectID)
		}
	default:
		// processed, deferred: the ledger already has the send
	}
	return err
}

// resolveDelivery finds the delivery of an event by custom arg, falling back
// to the provider message id
func (s *Server) resolveDelivery(ctx context.Context, ev SendGridEvent) (*models.Delivery, error) {
	if ev.DeliveryID != "" {
		return s.deps.Deliveries.Get(ctx, ev.DeliveryID)
	}
	if ev.SGMessageID == "" {
		return nil, fmt.Errorf("event has no delivery reference: %w", repository.ErrNotFound)
	}
	// sg_message_id is the X-Message-Id followed by a filter suffix
	providerID, _, _ := strings.Cut(ev.SGMessageID, ".")
	return s.deps.Deliveries.GetByProviderID(ctx, providerID)
}

// handleStripe handles POST /webhooks/stripe. A paid deposit raises the
// DEPOSIT_PAID trigger for the project named in the payment metadata.
func (s *Server) handleStripe(w http.ResponseWriter, r *http.Request) {
	if s.deps.StripeWebhookSecret == "" {
		s.sendError(w, http.StatusServiceUnavailable, "Stripe webhook not configured")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), s.deps.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Warn("stripe webhook rejected", "error", err)
		s.sendError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	var metadata map[string]string
	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid payment intent")
			return
		}
		metadata = pi.Metadata
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid checkout session")
			return
		}
		metadata = sess.Metadata
	default:
		s.logger.Debug("unhandled stripe event", "type", event.Type)
		s.sendJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	subjectID := metadata["project_id"]
	if subjectID == "" {
		s.logger.Info("stripe payment without project", "event_id", event.ID)
		s.sendJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	trigger := models.TriggerDepositPaid
	if metadata["payment_type"] == "invoice" {
		trigger = models.TriggerInvoicePaid
	}

	res, err := s.deps.Engine.HandleTrigger(r.Context(), subjectID, trigger, time.Unix(event.Created, 0))
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("stripe payment for unknown project", "event_id", event.ID, "subject_id", subjectID)
		s.sendJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		// Stripe redelivers on 5xx; the execution ledger keeps the retry idempotent
		s.sendServiceError(w, "stripe trigger", err)
		return
	}

	s.logger.Info("stripe payment handled",
		"event_id", event.ID,
		"subject_id", subjectID,
		"trigger", trigger,
		"executed", len(res.Executed),
	)
	s.sendJSON(w, http.StatusOK, res)
}
