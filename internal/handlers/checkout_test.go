package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waypoint-immigration/portal/internal/platform/auth"
	"github.com/waypoint-immigration/portal/internal/services"
)

func TestCheckoutHandlersCreateSessionSuccess(t *testing.T) {
	router := chi.NewRouter()
	var captured services.CreateCheckoutSessionCommand
	service := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
			captured = cmd
			return services.CheckoutSession{
				SessionID:         "cs_test_123",
				URL:               "https://checkout.stripe.com/c/cs_test_123",
				Provider:          "stripe",
				ExpiresAt:         time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC),
				Amount:            500,
				Currency:          "usd",
				InstallmentNumber: 1,
				TotalInstallments: 4,
			}, nil
		},
	}

	NewCheckoutHandlers(nil, service).Routes(router)

	payload := `{"case_id":"case-1","service_name":"Work Permit","total_price":2000,"installments":4}`
	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewBufferString(payload))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "client-1", Email: "ana@example.com", Locale: "es"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp services.CheckoutSession
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.URL != "https://checkout.stripe.com/c/cs_test_123" || resp.Amount != 500 || resp.TotalInstallments != 4 {
		t.Fatalf("unexpected session %+v", resp)
	}
	if captured.UserID != "client-1" || captured.Email != "ana@example.com" {
		t.Fatalf("expected identity propagated, got %+v", captured)
	}
	if captured.CaseID != "case-1" || captured.TotalPrice != 2000 || captured.Installments != 4 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Locale != "es" {
		t.Fatalf("expected locale to fall back to identity, got %q", captured.Locale)
	}
}

func TestCheckoutHandlersCreateSessionUnauthenticated(t *testing.T) {
	router := chi.NewRouter()
	NewCheckoutHandlers(nil, &stubCheckoutService{}).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewBufferString(`{"case_id":"case-1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCheckoutHandlersCreateSessionRejectsUnknownFields(t *testing.T) {
	router := chi.NewRouter()
	NewCheckoutHandlers(nil, &stubCheckoutService{}).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewBufferString(`{"case_id":"case-1","amount":1}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "client-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersCreateSessionMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: total price must be positive", services.ErrCheckoutInvalidInput), http.StatusBadRequest, "invalid_request"},
		{services.ErrCheckoutCaseNotFound, http.StatusNotFound, "case_not_found"},
		{services.ErrCheckoutPaymentFailed, http.StatusBadGateway, "payment_provider_error"},
		{fmt.Errorf("%w: load case: connection reset", services.ErrCheckoutUnavailable), http.StatusInternalServerError, "checkout_store_error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			router := chi.NewRouter()
			NewCheckoutHandlers(nil, &stubCheckoutService{
				createFunc: func(context.Context, services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
					return services.CheckoutSession{}, tc.err
				},
			}).Routes(router)

			req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewBufferString(`{"case_id":"case-1","total_price":100}`))
			req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "client-1"}))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected error code %s, got %v", tc.code, body["error"])
			}
		})
	}
}
