package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeSessionAPI struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.session, f.err
}

func TestStripeProviderCreateCheckoutSession(t *testing.T) {
	api := &fakeSessionAPI{session: &stripe.CheckoutSession{
		ID:            "cs_test_1",
		URL:           "https://checkout.stripe.com/c/pay/cs_test_1",
		ExpiresAt:     1_700_003_600,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
	}}
	var logged []string
	provider, err := NewStripeProvider(StripeProviderConfig{
		Sessions: api,
		Logger:   func(_ context.Context, event string, _ map[string]any) { logged = append(logged, event) },
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	metadata := CheckoutMetadata{CaseID: "case-1", ClientID: "client-1", InstallmentNumber: 1, TotalInstallments: 4, TotalPrice: 2000, ServiceName: "Work Permit"}
	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Amount:         500,
		Currency:       "USD",
		SuccessURL:     "https://portal.test/cases/case-1?paid=1",
		CancelURL:      "https://portal.test/cases/case-1",
		Locale:         "es_MX",
		Metadata:       metadata.Encode(),
		IdempotencyKey: metadata.IdempotencyKey(time.Unix(1_700_003_600, 0)),
		Items:          []CheckoutLineItem{{Name: "Work Permit", Description: "installment 1 of 4", Amount: 500, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if session.ID != "cs_test_1" || session.Provider != ProviderStripe || session.IntentID != "pi_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.ExpiresAt.Equal(time.Unix(1_700_003_600, 0)) {
		t.Fatalf("unexpected expiry %s", session.ExpiresAt)
	}

	params := api.params
	if params.Mode == nil || *params.Mode != string(stripe.CheckoutSessionModePayment) {
		t.Fatalf("expected payment mode")
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != metadata.IdempotencyKey(time.Unix(1_700_003_600, 0)) {
		t.Fatalf("expected idempotency key to be forwarded")
	}
	if *params.Locale != "es-mx" {
		t.Fatalf("expected normalised locale, got %q", *params.Locale)
	}
	if len(params.LineItems) != 1 || *params.LineItems[0].PriceData.UnitAmount != 500 || *params.LineItems[0].PriceData.Currency != "usd" {
		t.Fatalf("unexpected line items %+v", params.LineItems)
	}
	if params.Metadata[MetadataCaseID] != "case-1" || params.PaymentIntentData.Metadata[MetadataTotalPrice] != "2000" {
		t.Fatalf("metadata not propagated: %+v", params.Metadata)
	}
	if len(logged) != 1 || logged[0] != "payments.stripe.session.created" {
		t.Fatalf("unexpected log events %v", logged)
	}
}

func TestStripeProviderWrapsErrors(t *testing.T) {
	api := &fakeSessionAPI{err: errors.New("card_declined")}
	provider, err := NewStripeProvider(StripeProviderConfig{Sessions: api})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Items: []CheckoutLineItem{{Name: "x", Amount: 1}},
	})
	if err == nil || !errors.Is(err, api.err) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestStripeProviderRequiresLineItemsAndKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected api key error")
	}
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: &fakeSessionAPI{}})
	if _, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{}); err == nil {
		t.Fatalf("expected line item error")
	}
}
