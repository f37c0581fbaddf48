package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/platform/auth"
	"github.com/waypoint-immigration/portal/internal/services"
)

var adminIdentity = &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}

func serveAdmin(t *testing.T, service services.PaymentService, identity *auth.Identity, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	NewAdminPaymentHandlers(nil, service).Routes(router)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAdminPaymentHandlersCreatePlan(t *testing.T) {
	var captured services.CreatePaymentPlanCommand
	service := &stubPaymentService{
		planFunc: func(ctx context.Context, cmd services.CreatePaymentPlanCommand) ([]domain.Payment, error) {
			captured = cmd
			due := cmd.FirstPaymentDate
			return []domain.Payment{
				{ID: "case-1_001", CaseID: "case-1", Amount: 300, InstallmentNumber: 1, TotalInstallments: 3, Status: domain.PaymentStatusCompleted, DueDate: due, PaidAt: &due},
				{ID: "case-1_002", CaseID: "case-1", Amount: 300, InstallmentNumber: 2, TotalInstallments: 3, Status: domain.PaymentStatusPending, DueDate: due.AddDate(0, 1, 0)},
				{ID: "case-1_003", CaseID: "case-1", Amount: 300, InstallmentNumber: 3, TotalInstallments: 3, Status: domain.PaymentStatusPending, DueDate: due.AddDate(0, 2, 0)},
			}, nil
		},
	}

	body := `{"case_id":"case-1","total_amount":900,"num_installments":3,"first_payment_date":"2024-03-01","payment_method":"bank_transfer","notes":"wire 123"}`
	rr := serveAdmin(t, service, adminIdentity, http.MethodPost, "/payments/plans", body)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp []paymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 3 || resp[0].Status != "completed" || resp[2].DueDate != "2024-05-01T00:00:00Z" {
		t.Fatalf("unexpected schedule %+v", resp)
	}
	if resp[1].PaidAt != "" {
		t.Fatalf("pending installment must not carry paid_at, got %q", resp[1].PaidAt)
	}
	if captured.ActorID != "admin-1" || captured.Method != domain.PaymentMethodBankTransfer || captured.Notes != "wire 123" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !captured.FirstPaymentDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first payment date %s", captured.FirstPaymentDate)
	}
}

func TestAdminPaymentHandlersCreatePlanRejectsBadDate(t *testing.T) {
	rr := serveAdmin(t, &stubPaymentService{}, adminIdentity, http.MethodPost, "/payments/plans",
		`{"case_id":"case-1","total_amount":900,"num_installments":3,"first_payment_date":"03/01/2024"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminPaymentHandlersCreatePlanConflict(t *testing.T) {
	service := &stubPaymentService{
		planFunc: func(context.Context, services.CreatePaymentPlanCommand) ([]domain.Payment, error) {
			return nil, services.ErrPaymentConflict
		},
	}
	rr := serveAdmin(t, service, adminIdentity, http.MethodPost, "/payments/plans", `{"case_id":"case-1","total_amount":900,"num_installments":3}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminPaymentHandlersRequireAdmin(t *testing.T) {
	service := &stubPaymentService{
		planFunc: func(context.Context, services.CreatePaymentPlanCommand) ([]domain.Payment, error) {
			t.Fatalf("service must not be called")
			return nil, nil
		},
	}
	body := `{"case_id":"case-1","total_amount":900,"num_installments":3}`

	if rr := serveAdmin(t, service, nil, http.MethodPost, "/payments/plans", body); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without identity, got %d", rr.Code)
	}
	client := &auth.Identity{UID: "client-1", Roles: []string{auth.RoleClient}}
	if rr := serveAdmin(t, service, client, http.MethodPost, "/payments/plans", body); rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for client, got %d", rr.Code)
	}
}

func TestAdminPaymentHandlersMarkPaid(t *testing.T) {
	paidAt := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	var captured []services.MarkPaymentPaidCommand
	service := &stubPaymentService{
		markPaidFunc: func(ctx context.Context, cmd services.MarkPaymentPaidCommand) (domain.Payment, error) {
			captured = append(captured, cmd)
			return domain.Payment{ID: cmd.PaymentID, Status: domain.PaymentStatusCompleted, Method: cmd.Method, PaidAt: &paidAt}, nil
		},
	}

	rr := serveAdmin(t, service, adminIdentity, http.MethodPost, "/payments/mark-paid", `{"payment_id":"case-1_002","payment_method":"cash"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp paymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "case-1_002" || resp.PaidAt != "2024-01-15T14:00:00Z" || resp.PaymentMethod != "cash" {
		t.Fatalf("unexpected response %+v", resp)
	}

	rr = serveAdmin(t, service, adminIdentity, http.MethodPost, "/payments/case-1_003:mark-paid", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for path form, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured) != 2 || captured[1].PaymentID != "case-1_003" || captured[1].ActorID != "admin-1" {
		t.Fatalf("unexpected commands %+v", captured)
	}
}

func TestAdminPaymentHandlersMarkPaidRejectsMismatchedID(t *testing.T) {
	rr := serveAdmin(t, &stubPaymentService{}, adminIdentity, http.MethodPost, "/payments/case-1_003:mark-paid", `{"payment_id":"case-1_002"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminPaymentHandlersMarkPaidNotFound(t *testing.T) {
	service := &stubPaymentService{
		markPaidFunc: func(context.Context, services.MarkPaymentPaidCommand) (domain.Payment, error) {
			return domain.Payment{}, services.ErrPaymentNotFound
		},
	}
	rr := serveAdmin(t, service, adminIdentity, http.MethodPost, "/payments/mark-paid", `{"payment_id":"missing"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAdminPaymentHandlersRegisterPayment(t *testing.T) {
	var captured services.RegisterPaymentCommand
	service := &stubPaymentService{
		registerFunc: func(ctx context.Context, cmd services.RegisterPaymentCommand) (domain.Payment, error) {
			captured = cmd
			return domain.Payment{ID: "case-1_001", Amount: cmd.Amount, Status: domain.PaymentStatusCompleted}, nil
		},
	}

	rr := serveAdmin(t, service, adminIdentity, http.MethodPost, "/payments/register", `{"case_id":"case-1","amount":45000,"payment_method":"card_offline"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CaseID != "case-1" || captured.Amount != 45000 || captured.Method != domain.PaymentMethodCardOffline {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAdminPaymentHandlersListCasePayments(t *testing.T) {
	var captured services.ListCasePaymentsQuery
	service := &stubPaymentService{
		listFunc: func(ctx context.Context, query services.ListCasePaymentsQuery) ([]domain.Payment, error) {
			captured = query
			return []domain.Payment{{ID: "case-9_001", CaseID: "case-9"}}, nil
		},
	}

	rr := serveAdmin(t, service, adminIdentity, http.MethodGet, "/cases/case-9/payments", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Payments []paymentResponse `json:"payments"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Payments) != 1 || !captured.ViewerIsAdmin || captured.CaseID != "case-9" {
		t.Fatalf("unexpected result %+v query %+v", resp, captured)
	}
}

func TestAdminPaymentHandlersIdempotencyRunsAfterAuth(t *testing.T) {
	var seen string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, ok := auth.IdentityFromContext(r.Context()); ok {
				seen = identity.UID
			}
			next.ServeHTTP(w, r)
		})
	}
	router := chi.NewRouter()
	NewAdminPaymentHandlers(nil, &stubPaymentService{}, WithAdminIdempotency(mw)).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/cases/case-1/payments", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), adminIdentity))
	router.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "admin-1" {
		t.Fatalf("expected middleware to observe admin identity, got %q", seen)
	}

	seen = ""
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cases/case-1/payments", nil))
	if rr.Code != http.StatusUnauthorized || seen != "" {
		t.Fatalf("expected unauthenticated request to stop before middleware, got %d seen=%q", rr.Code, seen)
	}
}
