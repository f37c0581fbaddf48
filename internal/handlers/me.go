package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/waypoint-immigration/portal/internal/platform/auth"
	"github.com/waypoint-immigration/portal/internal/platform/httpx"
	"github.com/waypoint-immigration/portal/internal/services"
)

// MeHandlers serves the signed-in client's own payments and notifications.
type MeHandlers struct {
	authn         *auth.Authenticator
	payments      services.PaymentService
	notifications services.NotificationService
}

// NewMeHandlers constructs user scoped handlers.
func NewMeHandlers(authn *auth.Authenticator, payments services.PaymentService, notifications services.NotificationService) *MeHandlers {
	return &MeHandlers{authn: authn, payments: payments, notifications: notifications}
}

// Routes registers /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Get("/cases/{caseId}/payments", h.listCasePayments)
	group.Get("/notifications", h.listNotifications)
}

func (h *MeHandlers) listCasePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	items, err := h.payments.ListCasePayments(ctx, services.ListCasePaymentsQuery{
		CaseID:        chi.URLParam(r, "caseId"),
		ViewerID:      identity.UID,
		ViewerIsAdmin: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payments": newPaymentResponses(items)})
}

func (h *MeHandlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notifications_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	items, err := h.notifications.ListForUser(ctx, identity.UID, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, notificationResponse{
			ID:        n.ID,
			CaseID:    n.CaseID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			CreatedAt: formatTime(n.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}
