package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/platform/auth"
	"github.com/waypoint-immigration/portal/internal/platform/httpx"
	"github.com/waypoint-immigration/portal/internal/services"
)

const maxAdminPaymentBody = 16 * 1024

// AdminPaymentHandlers exposes manual payment operations for staff.
type AdminPaymentHandlers struct {
	authn       *auth.Authenticator
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
}

// AdminPaymentOption customises admin payment handlers.
type AdminPaymentOption func(*AdminPaymentHandlers)

// WithAdminIdempotency installs middleware that runs after authentication on every admin route.
func WithAdminIdempotency(mw func(http.Handler) http.Handler) AdminPaymentOption {
	return func(h *AdminPaymentHandlers) {
		h.idempotency = mw
	}
}

// NewAdminPaymentHandlers constructs admin payment handlers.
func NewAdminPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, opts ...AdminPaymentOption) *AdminPaymentHandlers {
	h := &AdminPaymentHandlers{authn: authn, payments: payments}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers admin endpoints. Every route requires the admin role.
func (h *AdminPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	} else {
		group = group.With(auth.RequireRole(auth.RoleAdmin))
	}
	if h.idempotency != nil {
		group = group.With(h.idempotency)
	}
	group.Post("/payments/plans", h.createPlan)
	group.Post("/payments/register", h.registerPayment)
	group.Post("/payments/mark-paid", h.markPaid)
	group.Post("/payments/{paymentId}:mark-paid", h.markPaid)
	group.Get("/cases/{caseId}/payments", h.listCasePayments)
}

type createPlanRequest struct {
	CaseID           string `json:"case_id"`
	TotalAmount      int64  `json:"total_amount"`
	NumInstallments  int    `json:"num_installments"`
	FirstPaymentDate string `json:"first_payment_date"`
	PaymentMethod    string `json:"payment_method"`
	Notes            string `json:"notes"`
}

type markPaidRequest struct {
	PaymentID     string `json:"payment_id"`
	PaymentMethod string `json:"payment_method"`
	Notes         string `json:"notes"`
}

type registerPaymentRequest struct {
	CaseID            string `json:"case_id"`
	Amount            int64  `json:"amount"`
	PaymentMethod     string `json:"payment_method"`
	Notes             string `json:"notes"`
	InstallmentNumber int    `json:"installment_number"`
	TotalInstallments int    `json:"total_installments"`
}

func (h *AdminPaymentHandlers) createPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req createPlanRequest
	if apiErr := httpx.DecodeJSON(r, maxAdminPaymentBody, &req); apiErr != nil {
		httpx.WriteError(ctx, w, *apiErr)
		return
	}

	var firstPayment time.Time
	if value := strings.TrimSpace(req.FirstPaymentDate); value != "" {
		parsed, err := time.Parse(time.DateOnly, value)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "first_payment_date must be YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		firstPayment = parsed
	}

	schedule, err := h.payments.CreatePlan(ctx, services.CreatePaymentPlanCommand{
		ActorID:          identity.UID,
		CaseID:           req.CaseID,
		TotalAmount:      req.TotalAmount,
		NumInstallments:  req.NumInstallments,
		FirstPaymentDate: firstPayment,
		Method:           domain.PaymentMethod(req.PaymentMethod),
		Notes:            req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newPaymentResponses(schedule))
}

func (h *AdminPaymentHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	pathID := strings.TrimSpace(chi.URLParam(r, "paymentId"))
	var req markPaidRequest
	if pathID == "" || r.ContentLength != 0 {
		if apiErr := httpx.DecodeJSON(r, maxAdminPaymentBody, &req); apiErr != nil {
			httpx.WriteError(ctx, w, *apiErr)
			return
		}
	}
	paymentID := pathID
	if paymentID == "" {
		paymentID = strings.TrimSpace(req.PaymentID)
	} else if bodyID := strings.TrimSpace(req.PaymentID); bodyID != "" && bodyID != pathID {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_id does not match path", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.MarkPaid(ctx, services.MarkPaymentPaidCommand{
		ActorID:   identity.UID,
		PaymentID: paymentID,
		Method:    domain.PaymentMethod(req.PaymentMethod),
		Notes:     req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newPaymentResponse(payment))
}

func (h *AdminPaymentHandlers) registerPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req registerPaymentRequest
	if apiErr := httpx.DecodeJSON(r, maxAdminPaymentBody, &req); apiErr != nil {
		httpx.WriteError(ctx, w, *apiErr)
		return
	}

	payment, err := h.payments.RegisterPayment(ctx, services.RegisterPaymentCommand{
		ActorID:           identity.UID,
		CaseID:            req.CaseID,
		Amount:            req.Amount,
		Method:            domain.PaymentMethod(req.PaymentMethod),
		Notes:             req.Notes,
		InstallmentNumber: req.InstallmentNumber,
		TotalInstallments: req.TotalInstallments,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newPaymentResponse(payment))
}

func (h *AdminPaymentHandlers) listCasePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	items, err := h.payments.ListCasePayments(ctx, services.ListCasePaymentsQuery{
		CaseID:        chi.URLParam(r, "caseId"),
		ViewerID:      identity.UID,
		ViewerIsAdmin: true,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payments": newPaymentResponses(items)})
}

func (h *AdminPaymentHandlers) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	if !identity.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}
