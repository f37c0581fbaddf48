package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/waypoint-immigration/portal/internal/platform/httpx"
	"github.com/waypoint-immigration/portal/internal/platform/observability"
	"github.com/waypoint-immigration/portal/internal/services"
)

// serviceErrorMappings translates service sentinels into API envelopes. Order matters only for
// errors wrapping more than one sentinel.
var serviceErrorMappings = []struct {
	target  error
	code    string
	message string
	status  int
}{
	{services.ErrCheckoutUnauthenticated, "unauthenticated", "authentication required", http.StatusUnauthorized},
	{services.ErrCheckoutInvalidInput, "invalid_request", "", http.StatusBadRequest},
	{services.ErrPaymentInvalidInput, "invalid_request", "", http.StatusBadRequest},
	{services.ErrNotificationInvalidInput, "invalid_request", "", http.StatusBadRequest},
	{services.ErrCheckoutCaseNotFound, "case_not_found", "case not found", http.StatusNotFound},
	{services.ErrPaymentCaseNotFound, "case_not_found", "case not found", http.StatusNotFound},
	{services.ErrPaymentNotFound, "payment_not_found", "no pending payment with that id", http.StatusNotFound},
	{services.ErrPaymentConflict, "payment_conflict", "installment already recorded", http.StatusConflict},
	{services.ErrCheckoutPaymentFailed, "payment_provider_error", "payment provider unavailable", http.StatusBadGateway},
	{services.ErrPaymentUnavailable, "payment_store_error", "payment store unavailable", http.StatusInternalServerError},
	{services.ErrCheckoutUnavailable, "checkout_store_error", "checkout store unavailable", http.StatusInternalServerError},
	{services.ErrNotificationUnavailable, "notification_store_error", "notification store unavailable", http.StatusInternalServerError},
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	for _, m := range serviceErrorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		message := m.message
		if message == "" {
			message = err.Error()
		}
		if m.status >= http.StatusInternalServerError {
			observability.FromContext(ctx).Error("request failed", zap.String("code", m.code), zap.Error(err))
		}
		httpx.WriteError(ctx, w, httpx.NewError(m.code, message, m.status))
		return
	}
	observability.FromContext(ctx).Error("unhandled service error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
}
