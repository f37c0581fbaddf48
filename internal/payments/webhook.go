package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	// ErrInvalidSignature is returned when the Stripe-Signature header does not verify.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedEvent is returned when a verified payload cannot be decoded.
	ErrMalformedEvent = errors.New("payments: malformed webhook event")
)

const (
	eventCheckoutCompleted             = "checkout.session.completed"
	eventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// WebhookEvent is a verified gateway event. Completion is set only for events that confirm a
// paid checkout session.
type WebhookEvent struct {
	ID         string
	Type       string
	Completion *CheckoutCompletion
}

// CheckoutCompletion is the reconciliation-relevant part of a paid checkout session.
type CheckoutCompletion struct {
	SessionID       string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	Metadata        CheckoutMetadata
}

// TransactionRef prefers the payment intent id, which is what appears on the Stripe charge.
func (c CheckoutCompletion) TransactionRef() string {
	if c.PaymentIntentID != "" {
		return c.PaymentIntentID
	}
	return c.SessionID
}

// StripeWebhookVerifier verifies and decodes Stripe webhook deliveries.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookVerifier constructs a verifier for the endpoint's whsec_ signing secret.
func NewStripeWebhookVerifier(secret string, tolerance time.Duration) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe webhook: signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: tolerance}, nil
}

// ParseEvent checks the signature over the raw payload before decoding anything. Paid
// checkout sessions carry decoded metadata; every other event type is returned without a
// Completion so callers can acknowledge and ignore it.
func (v *StripeWebhookVerifier) ParseEvent(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, v.secret, v.tolerance); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if out.Type != eventCheckoutCompleted && out.Type != eventCheckoutAsyncPaymentSucceeded {
		return out, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return WebhookEvent{}, fmt.Errorf("%w: event %s has no data object", ErrMalformedEvent, event.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode checkout session: %v", ErrMalformedEvent, err)
	}
	// Delayed payment methods complete the session before funds arrive; those are reconciled
	// on the async_payment_succeeded event instead.
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return out, nil
	}

	metadata, err := DecodeCheckoutMetadata(session.Metadata)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	completion := &CheckoutCompletion{
		SessionID:   session.ID,
		AmountTotal: session.AmountTotal,
		Currency:    string(session.Currency),
		Metadata:    metadata,
	}
	if session.PaymentIntent != nil {
		completion.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.CustomerDetails != nil {
		completion.CustomerEmail = session.CustomerDetails.Email
	}
	out.Completion = completion
	return out, nil
}
