package services

import (
	"errors"
	"math"
	"testing"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/payments"
)

func TestInstallmentAmount(t *testing.T) {
	cases := []struct {
		total int64
		n     int
		want  int64
	}{
		{total: 900, n: 3, want: 300},
		{total: 1000, n: 3, want: 333},
		{total: 2000, n: 4, want: 500},
		{total: 5, n: 2, want: 3},
		{total: 1001, n: 2, want: 501},
		{total: 700, n: 1, want: 700},
		{total: 100, n: 3, want: 33},
		{total: math.MaxInt64, n: 2, want: math.MaxInt64/2 + 1},
		{total: math.MaxInt64, n: 7, want: math.MaxInt64 / 7},
	}
	for _, tc := range cases {
		if got := InstallmentAmount(tc.total, tc.n); got != tc.want {
			t.Fatalf("InstallmentAmount(%d, %d) = %d, want %d", tc.total, tc.n, got, tc.want)
		}
	}
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		start  time.Time
		months int
		want   time.Time
	}{
		{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 2, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 11, 30, 8, 30, 0, 0, time.UTC), 3, time.Date(2025, 2, 28, 8, 30, 0, 0, time.UTC)},
		{time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), 0, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := AddMonths(tc.start, tc.months); !got.Equal(tc.want) {
			t.Fatalf("AddMonths(%s, %d) = %s, want %s", tc.start.Format(time.DateOnly), tc.months, got, tc.want)
		}
	}
}

func TestBuildInstallmentScheduleThreeMonthPlan(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	paidAt := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)

	schedule, err := BuildInstallmentSchedule(InstallmentPlanParams{
		CaseID:          "case-1",
		ClientID:        "client-1",
		TotalAmount:     900,
		NumInstallments: 3,
		StartDate:       start,
		PaidAt:          paidAt,
		Method:          domain.PaymentMethodBankTransfer,
	})
	if err != nil {
		t.Fatalf("build schedule: %v", err)
	}
	if len(schedule) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(schedule))
	}

	wantDue := []time.Time{start, start.AddDate(0, 1, 0), start.AddDate(0, 2, 0)}
	for i, p := range schedule {
		if p.InstallmentNumber != i+1 || p.TotalInstallments != 3 {
			t.Fatalf("installment %d numbered %d of %d", i, p.InstallmentNumber, p.TotalInstallments)
		}
		if p.Amount != 300 {
			t.Fatalf("installment %d amount %d, want 300", p.InstallmentNumber, p.Amount)
		}
		if !p.DueDate.Equal(wantDue[i]) {
			t.Fatalf("installment %d due %s, want %s", p.InstallmentNumber, p.DueDate, wantDue[i])
		}
		if p.ID != domain.PaymentID("case-1", i+1) {
			t.Fatalf("unexpected id %q", p.ID)
		}
	}

	if !schedule[0].IsCompleted() || schedule[0].PaidAt == nil || !schedule[0].PaidAt.Equal(paidAt) {
		t.Fatalf("installment 1 must be completed at %s, got %+v", paidAt, schedule[0])
	}
	for _, p := range schedule[1:] {
		if p.Status != domain.PaymentStatusPending || p.PaidAt != nil {
			t.Fatalf("installment %d must be pending without paid_at", p.InstallmentNumber)
		}
	}
}

func TestBuildInstallmentScheduleKeepsRoundingDrift(t *testing.T) {
	schedule, err := BuildInstallmentSchedule(InstallmentPlanParams{CaseID: "case-1", TotalAmount: 1000, NumInstallments: 3})
	if err != nil {
		t.Fatalf("build schedule: %v", err)
	}
	var sum int64
	for _, p := range schedule {
		if p.Amount != 333 {
			t.Fatalf("installment %d amount %d, want 333 (no remainder on the last installment)", p.InstallmentNumber, p.Amount)
		}
		sum += p.Amount
	}
	if sum != 999 {
		t.Fatalf("expected accepted drift to 999, got %d", sum)
	}
}

func TestBuildInstallmentScheduleSingleInstallment(t *testing.T) {
	schedule, err := BuildInstallmentSchedule(InstallmentPlanParams{CaseID: "case-1", TotalAmount: 700, NumInstallments: 1})
	if err != nil {
		t.Fatalf("build schedule: %v", err)
	}
	if len(schedule) != 1 || !schedule[0].IsCompleted() || schedule[0].Amount != 700 {
		t.Fatalf("expected single completed installment, got %+v", schedule)
	}
}

func TestBuildInstallmentScheduleDueDatesOffsetFromStart(t *testing.T) {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	schedule, err := BuildInstallmentSchedule(InstallmentPlanParams{CaseID: "case-1", TotalAmount: 400, NumInstallments: 4, StartDate: start})
	if err != nil {
		t.Fatalf("build schedule: %v", err)
	}
	want := []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}
	for i, p := range schedule {
		if got := p.DueDate.Format(time.DateOnly); got != want[i] {
			t.Fatalf("installment %d due %s, want %s", i+1, got, want[i])
		}
	}
}

func TestBuildInstallmentScheduleValidation(t *testing.T) {
	cases := map[string]InstallmentPlanParams{
		"missing case":      {TotalAmount: 100, NumInstallments: 1},
		"zero total":        {CaseID: "c", TotalAmount: 0, NumInstallments: 1},
		"negative total":    {CaseID: "c", TotalAmount: -1, NumInstallments: 1},
		"zero installments": {CaseID: "c", TotalAmount: 100, NumInstallments: 0},
		"too many":          {CaseID: "c", TotalAmount: 100, NumInstallments: maxInstallments + 1},
		"total above limit": {CaseID: "c", TotalAmount: payments.MaxAmount + 1, NumInstallments: 2},
		"max int64 total":   {CaseID: "c", TotalAmount: math.MaxInt64, NumInstallments: 3},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := BuildInstallmentSchedule(params); !errors.Is(err, ErrPaymentInvalidInput) {
				t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
			}
		})
	}
}
