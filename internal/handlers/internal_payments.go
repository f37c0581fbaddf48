package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waypoint-immigration/portal/internal/platform/httpx"
	"github.com/waypoint-immigration/portal/internal/services"
)

// InternalPaymentHandlers serves scheduler-triggered jobs. Authentication (OIDC) is applied by
// the router's internal middleware group.
type InternalPaymentHandlers struct {
	payments services.PaymentService
}

// NewInternalPaymentHandlers constructs internal payment handlers.
func NewInternalPaymentHandlers(payments services.PaymentService) *InternalPaymentHandlers {
	return &InternalPaymentHandlers{payments: payments}
}

// Routes registers internal endpoints.
func (h *InternalPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/reminders:sweep", h.sweepReminders)
}

func (h *InternalPaymentHandlers) sweepReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var asOf time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("as_of")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "as_of must be RFC3339", http.StatusBadRequest))
			return
		}
		asOf = parsed
	}

	result, err := h.payments.SendOverdueReminders(ctx, asOf)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}
