package services

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/payments"
)

// maxInstallments bounds plan length; longer plans are negotiated outside the portal.
const maxInstallments = 60

// InstallmentPlanParams describes a plan to lay out. PaidAt stamps installment 1.
type InstallmentPlanParams struct {
	CaseID          string
	ClientID        string
	TotalAmount     int64
	NumInstallments int
	Currency        string
	StartDate       time.Time
	PaidAt          time.Time
	Method          domain.PaymentMethod
	TransactionRef  string
	Notes           string
}

// InstallmentAmount is total/n rounded half up. The division remainder is not redistributed,
// so n*InstallmentAmount(total, n) can differ from total by a few minor units.
func InstallmentAmount(total int64, n int) int64 {
	if n <= 1 {
		return total
	}
	d := int64(n)
	q, r := total/d, total%d
	if 2*r >= d {
		q++
	}
	return q
}

// AddMonths adds calendar months, clamping the day to the end of the target month
// (Jan 31 + 1 month = Feb 28 or 29). The time of day and location are kept.
func AddMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// BuildInstallmentSchedule lays out a plan: installment 1 completed on the start date, the
// rest pending and due a whole number of months after it. Every installment carries the same
// amount. Both the gateway and the admin paths build schedules here.
func BuildInstallmentSchedule(params InstallmentPlanParams) ([]domain.Payment, error) {
	caseID := strings.TrimSpace(params.CaseID)
	switch {
	case caseID == "":
		return nil, fmt.Errorf("%w: case id is required", ErrPaymentInvalidInput)
	case params.TotalAmount <= 0:
		return nil, fmt.Errorf("%w: total amount must be positive", ErrPaymentInvalidInput)
	case params.TotalAmount > payments.MaxAmount:
		return nil, fmt.Errorf("%w: total amount exceeds %d", ErrPaymentInvalidInput, payments.MaxAmount)
	case params.NumInstallments < 1 || params.NumInstallments > maxInstallments:
		return nil, fmt.Errorf("%w: installments must be between 1 and %d", ErrPaymentInvalidInput, maxInstallments)
	}

	paidAt := params.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	start := params.StartDate
	if start.IsZero() {
		start = paidAt
	}
	amount := InstallmentAmount(params.TotalAmount, params.NumInstallments)

	schedule := make([]domain.Payment, 0, params.NumInstallments)
	for i := 1; i <= params.NumInstallments; i++ {
		p := domain.Payment{
			ID:                domain.PaymentID(caseID, i),
			CaseID:            caseID,
			ClientID:          params.ClientID,
			Amount:            amount,
			Currency:          params.Currency,
			InstallmentNumber: i,
			TotalInstallments: params.NumInstallments,
			Status:            domain.PaymentStatusPending,
			Method:            params.Method,
			DueDate:           AddMonths(start, i-1),
			Notes:             params.Notes,
			CreatedAt:         paidAt,
			UpdatedAt:         paidAt,
		}
		if i == 1 {
			p.Status = domain.PaymentStatusCompleted
			p.TransactionRef = params.TransactionRef
			paid := paidAt
			p.PaidAt = &paid
		}
		schedule = append(schedule, p)
	}
	return schedule, nil
}
