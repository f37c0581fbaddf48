// Package payments adapts the hosted checkout gateway: session creation, metadata that survives
// the round trip to the completion event, and webhook verification.
package payments

import (
	"context"
	"time"
)

// CheckoutLineItem describes a single line item shown on the hosted checkout page.
type CheckoutLineItem struct {
	Name        string
	Description string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Locale         string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
	ExpiresAt      time.Time
}

// CheckoutSession is the gateway session handed back to the client for redirection.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// Provider creates hosted checkout sessions.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}
