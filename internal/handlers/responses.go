package handlers

import (
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
)

type paymentResponse struct {
	ID                string `json:"id"`
	CaseID            string `json:"case_id"`
	ClientID          string `json:"client_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	InstallmentNumber int    `json:"installment_number"`
	TotalInstallments int    `json:"total_installments"`
	Status            string `json:"status"`
	PaymentMethod     string `json:"payment_method,omitempty"`
	TransactionRef    string `json:"transaction_ref,omitempty"`
	DueDate           string `json:"due_date"`
	PaidAt            string `json:"paid_at,omitempty"`
	Notes             string `json:"notes,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func newPaymentResponse(p domain.Payment) paymentResponse {
	resp := paymentResponse{
		ID:                p.ID,
		CaseID:            p.CaseID,
		ClientID:          p.ClientID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		InstallmentNumber: p.InstallmentNumber,
		TotalInstallments: p.TotalInstallments,
		Status:            string(p.Status),
		PaymentMethod:     string(p.Method),
		TransactionRef:    p.TransactionRef,
		DueDate:           formatTime(p.DueDate),
		Notes:             p.Notes,
		CreatedAt:         formatTime(p.CreatedAt),
		UpdatedAt:         formatTime(p.UpdatedAt),
	}
	if p.PaidAt != nil {
		resp.PaidAt = formatTime(*p.PaidAt)
	}
	return resp
}

func newPaymentResponses(items []domain.Payment) []paymentResponse {
	out := make([]paymentResponse, 0, len(items))
	for _, p := range items {
		out = append(out, newPaymentResponse(p))
	}
	return out
}

type notificationResponse struct {
	ID        string `json:"id"`
	CaseID    string `json:"case_id,omitempty"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
