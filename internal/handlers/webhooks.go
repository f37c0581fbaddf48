package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/waypoint-immigration/portal/internal/payments"
	"github.com/waypoint-immigration/portal/internal/platform/httpx"
	"github.com/waypoint-immigration/portal/internal/platform/observability"
	"github.com/waypoint-immigration/portal/internal/services"
)

const (
	maxWebhookBody        = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookEventParser verifies and decodes a gateway delivery.
type WebhookEventParser interface {
	ParseEvent(payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

// WebhookHandlers receives payment gateway callbacks. They carry no bearer token; the
// payload signature is the only authentication.
type WebhookHandlers struct {
	parser   WebhookEventParser
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(parser WebhookEventParser, payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{parser: parser, payments: payments}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

// stripe answers 2xx once the event is durably handled or deliberately ignored. A 500 makes the
// gateway redeliver, which is only returned when the payment row could not be written.
func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing not configured", http.StatusServiceUnavailable))
		return
	}
	logger := observability.FromContext(ctx)

	payload, err := httpx.ReadBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("malformed_payload", "unable to read payload", http.StatusBadRequest))
		return
	}

	event, err := h.parser.ParseEvent(payload, r.Header.Get(stripeSignatureHeader))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		logger.Warn("webhook: signature rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case err != nil:
		logger.Warn("webhook: malformed event", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("malformed_payload", "webhook payload could not be decoded", http.StatusBadRequest))
		return
	}

	if event.Completion == nil {
		logger.Info("webhook: event ignored", zap.String("eventId", event.ID), zap.String("type", event.Type))
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}

	completion := event.Completion
	result, err := h.payments.ReconcileCheckoutCompleted(ctx, services.CheckoutCompletedCommand{
		EventID:        event.ID,
		SessionID:      completion.SessionID,
		TransactionRef: completion.TransactionRef(),
		Currency:       completion.Currency,
		AmountPaid:     completion.AmountTotal,
		Metadata:       completion.Metadata,
	})
	switch {
	case errors.Is(err, services.ErrPaymentCaseNotFound):
		// Redelivery cannot make the case appear; acknowledge so the gateway stops retrying.
		logger.Error("webhook: case not found for paid session",
			zap.String("eventId", event.ID),
			zap.String("caseId", completion.Metadata.CaseID),
			zap.String("sessionId", completion.SessionID),
		)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("malformed_payload", err.Error(), http.StatusBadRequest))
		return
	case err != nil:
		writeServiceError(ctx, w, err)
		return
	}

	for _, step := range result.FailedSteps {
		logger.Error("webhook: reconciliation step failed",
			zap.String("step", step),
			zap.String("eventId", event.ID),
			zap.String("paymentId", result.Payment.ID),
		)
	}
	if result.ConflictingCharge {
		logger.Error("webhook: charge conflicts with completed installment",
			zap.String("eventId", event.ID),
			zap.String("paymentId", result.Payment.ID),
		)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"received":           true,
		"duplicate":          result.Duplicate,
		"conflicting_charge": result.ConflictingCharge,
		"payment_id":         result.Payment.ID,
	})
}
