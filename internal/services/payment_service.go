package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/payments"
	"github.com/waypoint-immigration/portal/internal/repositories"
)

const (
	paymentMeterName         = "github.com/waypoint-immigration/portal/internal/services"
	defaultPaymentCurrency   = "usd"
	defaultReminderLimit     = 200
	reminderInterval         = 24 * time.Hour
	maxPaymentNotesRuneCount = 1000
)

var (
	// ErrPaymentInvalidInput indicates the caller supplied invalid payment parameters.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates no pending payment matched the request.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentCaseNotFound indicates the referenced case does not exist or is not visible to the caller.
	ErrPaymentCaseNotFound = errors.New("payment: case not found")
	// ErrPaymentConflict indicates the installment already exists.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentUnavailable indicates the payment store failed.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
)

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Cases         repositories.CaseRepository
	Payments      repositories.PaymentRepository
	Profiles      repositories.ProfileRepository
	Notifications NotificationService
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	Meter         metric.Meter
	Currency      string
	ReminderLimit int
}

type paymentService struct {
	cases         repositories.CaseRepository
	payments      repositories.PaymentRepository
	profiles      repositories.ProfileRepository
	notifications NotificationService
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
	outcomes      metric.Int64Counter
	currency      string
	reminderLimit int
	notesPolicy   *bluemonday.Policy
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Cases == nil {
		return nil, errors.New("payment service: case repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Profiles == nil {
		return nil, errors.New("payment service: profile repository is required")
	}
	if deps.Notifications == nil {
		return nil, errors.New("payment service: notification service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(paymentMeterName)
	}
	outcomes, err := meter.Int64Counter("payments.reconciliation.outcomes",
		metric.WithDescription("Gateway completion events by reconciliation outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("payment service: register outcome counter: %w", err)
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultPaymentCurrency
	}
	limit := deps.ReminderLimit
	if limit <= 0 {
		limit = defaultReminderLimit
	}

	return &paymentService{
		cases:         deps.Cases,
		payments:      deps.Payments,
		profiles:      deps.Profiles,
		notifications: deps.Notifications,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:        logger,
		outcomes:      outcomes,
		currency:      currency,
		reminderLimit: limit,
		notesPolicy:   bluemonday.StrictPolicy(),
	}, nil
}

// CreatePlan lays out and stores a full installment plan with installment 1 collected now.
func (s *paymentService) CreatePlan(ctx context.Context, cmd CreatePaymentPlanCommand) ([]domain.Payment, error) {
	caseID := strings.TrimSpace(cmd.CaseID)
	if caseID == "" {
		return nil, fmt.Errorf("%w: case id is required", ErrPaymentInvalidInput)
	}
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	start := cmd.FirstPaymentDate
	if start.IsZero() {
		start = now
	}
	schedule, err := BuildInstallmentSchedule(InstallmentPlanParams{
		CaseID:          c.ID,
		ClientID:        c.ClientID,
		TotalAmount:     cmd.TotalAmount,
		NumInstallments: cmd.NumInstallments,
		Currency:        s.currency,
		StartDate:       start.UTC(),
		PaidAt:          now,
		Method:          manualMethod(cmd.Method),
		Notes:           s.sanitiseNotes(cmd.Notes),
	})
	if err != nil {
		return nil, err
	}

	if err := s.payments.InsertBatch(ctx, schedule); err != nil {
		return nil, s.translateWriteError("create_plan", err)
	}
	s.logger(ctx, "payments.plan.created", map[string]any{
		"caseId":       c.ID,
		"actorId":      cmd.ActorID,
		"installments": len(schedule),
		"amount":       schedule[0].Amount,
	})

	run := &paymentRun{service: s, caseRecord: c, payment: schedule[0], schedule: schedule}
	run.execute(ctx, []workflowStep{grantAccessStep, notifyPlanCreatedStep})
	return schedule, nil
}

// MarkPaid completes a pending installment recorded outside the gateway. A payment that is
// missing or already completed yields ErrPaymentNotFound and nothing is changed.
func (s *paymentService) MarkPaid(ctx context.Context, cmd MarkPaymentPaidCommand) (domain.Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return domain.Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.MarkPaid(ctx, repositories.PaymentCompletion{
		PaymentID: paymentID,
		Method:    manualMethod(cmd.Method),
		Notes:     s.sanitiseNotes(cmd.Notes),
		PaidAt:    s.now(),
	})
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Payment{}, ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("%w: mark paid: %v", ErrPaymentUnavailable, err)
	}
	s.logger(ctx, "payments.marked_paid", map[string]any{
		"paymentId": payment.ID,
		"caseId":    payment.CaseID,
		"actorId":   cmd.ActorID,
		"method":    string(payment.Method),
	})

	run := &paymentRun{service: s, caseRecord: s.caseForPayment(ctx, payment), payment: payment}
	run.execute(ctx, []workflowStep{grantAccessStep, notifyClientStep})
	return payment, nil
}

// RegisterPayment records a completed installment that has no pending row, e.g. a payment taken
// at the office before any plan existed.
func (s *paymentService) RegisterPayment(ctx context.Context, cmd RegisterPaymentCommand) (domain.Payment, error) {
	caseID := strings.TrimSpace(cmd.CaseID)
	if caseID == "" {
		return domain.Payment{}, fmt.Errorf("%w: case id is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount <= 0 || cmd.Amount > payments.MaxAmount {
		return domain.Payment{}, fmt.Errorf("%w: amount must be between 1 and %d", ErrPaymentInvalidInput, payments.MaxAmount)
	}
	if cmd.InstallmentNumber < 0 || cmd.TotalInstallments < 0 {
		return domain.Payment{}, fmt.Errorf("%w: installment numbers must not be negative", ErrPaymentInvalidInput)
	}
	installment := cmd.InstallmentNumber
	if installment == 0 {
		installment = 1
	}
	total := cmd.TotalInstallments
	if total == 0 {
		total = 1
	}
	if installment > total || total > maxInstallments {
		return domain.Payment{}, fmt.Errorf("%w: installment %d of %d", ErrPaymentInvalidInput, installment, total)
	}

	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return domain.Payment{}, err
	}

	now := s.now()
	payment := domain.Payment{
		ID:                domain.PaymentID(c.ID, installment),
		CaseID:            c.ID,
		ClientID:          c.ClientID,
		Amount:            cmd.Amount,
		Currency:          s.currency,
		InstallmentNumber: installment,
		TotalInstallments: total,
		Status:            domain.PaymentStatusCompleted,
		Method:            manualMethod(cmd.Method),
		DueDate:           now,
		PaidAt:            &now,
		Notes:             s.sanitiseNotes(cmd.Notes),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.payments.Insert(ctx, payment); err != nil {
		return domain.Payment{}, s.translateWriteError("register", err)
	}
	s.logger(ctx, "payments.registered", map[string]any{
		"paymentId": payment.ID,
		"caseId":    c.ID,
		"actorId":   cmd.ActorID,
		"amount":    payment.Amount,
	})

	run := &paymentRun{service: s, caseRecord: c, payment: payment}
	run.execute(ctx, []workflowStep{grantAccessStep, notifyClientStep})
	return payment, nil
}

// ListCasePayments returns a case's installments. Clients only see their own cases.
func (s *paymentService) ListCasePayments(ctx context.Context, query ListCasePaymentsQuery) ([]domain.Payment, error) {
	caseID := strings.TrimSpace(query.CaseID)
	if caseID == "" {
		return nil, fmt.Errorf("%w: case id is required", ErrPaymentInvalidInput)
	}
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !query.ViewerIsAdmin && c.ClientID != strings.TrimSpace(query.ViewerID) {
		return nil, ErrPaymentCaseNotFound
	}
	items, err := s.payments.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list payments: %v", ErrPaymentUnavailable, err)
	}
	return items, nil
}

// SendOverdueReminders notifies clients about pending installments past their due date, at most
// once per installment per day.
func (s *paymentService) SendOverdueReminders(ctx context.Context, asOf time.Time) (ReminderSweepResult, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()

	overdue, err := s.payments.ListOverdue(ctx, repositories.OverdueFilter{
		AsOf:           asOf,
		RemindedBefore: asOf.Add(-reminderInterval),
		Limit:          s.reminderLimit,
	})
	if err != nil {
		return ReminderSweepResult{}, fmt.Errorf("%w: list overdue: %v", ErrPaymentUnavailable, err)
	}

	result := ReminderSweepResult{Scanned: len(overdue)}
	for _, p := range overdue {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		locale := s.recipientLocale(ctx, p.ClientID)
		_, err := s.notifications.Notify(ctx, NotifyCommand{
			RecipientID: p.ClientID,
			CaseID:      p.CaseID,
			Type:        domain.NotificationPaymentReminder,
			Locale:      locale,
			Params: map[string]string{
				"amount":      FormatAmount(p.Amount, currencyOr(p.Currency, s.currency), locale),
				"installment": strconv.Itoa(p.InstallmentNumber),
				"total":       strconv.Itoa(p.TotalInstallments),
				"due_date":    p.DueDate.Format(time.DateOnly),
			},
		})
		if err != nil {
			result.Failed++
			s.logger(ctx, "payments.reminder.failed", map[string]any{
				"paymentId": p.ID,
				"error":     err,
			})
			continue
		}
		if err := s.payments.TouchReminder(ctx, p.ID, asOf); err != nil {
			s.logger(ctx, "payments.reminder.touch_failed", map[string]any{
				"paymentId": p.ID,
				"error":     err,
			})
		}
		result.Sent++
	}

	s.logger(ctx, "payments.reminders.swept", map[string]any{
		"scanned": result.Scanned,
		"sent":    result.Sent,
		"failed":  result.Failed,
	})
	return result, nil
}

func (s *paymentService) loadCase(ctx context.Context, caseID string) (domain.Case, error) {
	c, err := s.cases.FindByID(ctx, caseID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Case{}, ErrPaymentCaseNotFound
		}
		return domain.Case{}, fmt.Errorf("%w: load case: %v", ErrPaymentUnavailable, err)
	}
	return c, nil
}

// caseForPayment loads the payment's case for notification context, falling back to the ids the
// payment carries.
func (s *paymentService) caseForPayment(ctx context.Context, payment domain.Payment) domain.Case {
	c, err := s.cases.FindByID(ctx, payment.CaseID)
	if err != nil {
		s.logger(ctx, "payments.case.lookup_failed", map[string]any{
			"caseId": payment.CaseID,
			"error":  err,
		})
		return domain.Case{ID: payment.CaseID, ClientID: payment.ClientID}
	}
	return c
}

func (s *paymentService) recipientLocale(ctx context.Context, profileID string) string {
	profile, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return ""
	}
	return profile.Locale
}

func (s *paymentService) translateWriteError(op string, err error) error {
	switch {
	case isRepoConflict(err):
		return ErrPaymentConflict
	case isRepoNotFound(err):
		return ErrPaymentCaseNotFound
	default:
		return fmt.Errorf("%w: %s: %v", ErrPaymentUnavailable, op, err)
	}
}

func (s *paymentService) sanitiseNotes(notes string) string {
	clean := strings.TrimSpace(html.UnescapeString(s.notesPolicy.Sanitize(notes)))
	if runes := []rune(clean); len(runes) > maxPaymentNotesRuneCount {
		clean = string(runes[:maxPaymentNotesRuneCount])
	}
	return clean
}

func (s *paymentService) recordOutcome(ctx context.Context, outcome string) {
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func manualMethod(method domain.PaymentMethod) domain.PaymentMethod {
	trimmed := strings.ToLower(strings.TrimSpace(string(method)))
	if trimmed == "" {
		return domain.PaymentMethodOther
	}
	return domain.PaymentMethod(trimmed)
}

func currencyOr(currency, fallback string) string {
	if currency != "" {
		return currency
	}
	return fallback
}
