package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/waypoint-immigration/portal/internal/platform/auth"
	"github.com/waypoint-immigration/portal/internal/platform/httpx"
	"github.com/waypoint-immigration/portal/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes hosted checkout endpoints for authenticated clients.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/session", h.createSession)
}

type checkoutSessionRequest struct {
	CaseID       string `json:"case_id"`
	ServiceName  string `json:"service_name"`
	ServiceSlug  string `json:"service_slug"`
	Variant      string `json:"variant"`
	TotalPrice   int64  `json:"total_price"`
	Installments int    `json:"installments"`
	SuccessURL   string `json:"success_url"`
	CancelURL    string `json:"cancel_url"`
	Locale       string `json:"locale"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req checkoutSessionRequest
	if apiErr := httpx.DecodeJSON(r, maxCheckoutRequestBody, &req); apiErr != nil {
		httpx.WriteError(ctx, w, *apiErr)
		return
	}

	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = identity.Locale
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, services.CreateCheckoutSessionCommand{
		UserID:       identity.UID,
		Email:        identity.Email,
		CaseID:       req.CaseID,
		ServiceName:  req.ServiceName,
		ServiceSlug:  req.ServiceSlug,
		Variant:      req.Variant,
		TotalPrice:   req.TotalPrice,
		Installments: req.Installments,
		SuccessURL:   req.SuccessURL,
		CancelURL:    req.CancelURL,
		Locale:       locale,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}
